package ussd

// SessionEvent tags the lifecycle state of an interactive USSD session.
type SessionEvent string

const (
	// SessionNew marks the first event of a session: the transaction ID
	// was not in the session store.
	SessionNew SessionEvent = "new"

	// SessionResume marks a subsequent event of a known session.
	SessionResume SessionEvent = "resume"

	// SessionClose marks a reply that ends the session.
	SessionClose SessionEvent = "close"
)

// UserMessage is the JSON payload the adapter publishes for each inbound
// external event and consumes on the reply path.
type UserMessage struct {
	MessageID         string            `json:"message_id"`
	InReplyTo         string            `json:"in_reply_to,omitempty"`
	Content           *string           `json:"content"`
	ToAddr            string            `json:"to_addr"`
	FromAddr          string            `json:"from_addr"`
	Provider          string            `json:"provider,omitempty"`
	SessionEvent      SessionEvent      `json:"session_event"`
	TransportType     string            `json:"transport_type"`
	TransportMetadata map[string]string `json:"transport_metadata,omitempty"`
}

// Event is the JSON payload of the delivery reports the adapter
// publishes after handling a reply: an ack when the outstanding request
// was completed, a nack when it could not be.
type Event struct {
	EventType     string `json:"event_type"` // "ack" or "nack"
	UserMessageID string `json:"user_message_id"`
	SentMessageID string `json:"sent_message_id,omitempty"`
	NackReason    string `json:"nack_reason,omitempty"`
}

// Status is a health signal about one adapter component. Malformed
// requests and unmatched replies surface as "down" statuses instead of
// faults, so one bad message cannot take the adapter out.
type Status struct {
	Component string
	Status    string // "ok", "degraded" or "down"
	Type      string
	Message   string
}

// StatusFunc receives adapter status signals.
type StatusFunc func(status Status)
