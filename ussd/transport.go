package ussd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fakemq/fakemq"
	"github.com/fakemq/fakemq/sessions"
)

// expectedFields are the query parameters a USSD gateway sends with
// every inbound request.
var expectedFields = []string{
	"transactionId",
	"msisdn",
	"ussdServiceCode",
	"transactionTime",
	"ussdRequestString",
	"creationTime",
	"response",
}

const (
	actionEnd     = "end"
	actionRequest = "request"

	defaultTransportName  = "ussd"
	defaultExchange       = "ussd"
	defaultRequestTimeout = 30 * time.Second
)

// Transport bridges a USSD gateway's HTTP request/response cycle onto
// the broker. Each inbound HTTP request becomes one published message
// tagged with a session event (new or resume, decided by the session
// store); each consumed reply completes exactly one outstanding HTTP
// request, mapping a close session event to the gateway's "end" action
// and anything else to "request".
type Transport struct {
	conn  *fakemq.Connection
	ch    *fakemq.Channel
	store sessions.Store

	name           string
	exchange       string
	fixToAddr      bool
	requestTimeout time.Duration
	status         StatusFunc
	logger         *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *UserMessage
	closed  bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithTransportName sets the name used to derive routing keys and the
// reply queue name.
func WithTransportName(name string) Option {
	return func(t *Transport) { t.name = name }
}

// WithExchange sets the direct exchange the adapter publishes to.
func WithExchange(exchange string) Option {
	return func(t *Transport) { t.exchange = exchange }
}

// WithFixToAddr wraps service codes as *code# when the gateway strips
// the decoration.
func WithFixToAddr(fix bool) Option {
	return func(t *Transport) { t.fixToAddr = fix }
}

// WithRequestTimeout bounds how long an inbound HTTP request waits for
// its reply message.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(t *Transport) { t.requestTimeout = timeout }
}

// WithStatusFunc registers a receiver for adapter status signals.
func WithStatusFunc(fn StatusFunc) Option {
	return func(t *Transport) { t.status = fn }
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// NewTransport declares the adapter's topology on conn and starts
// consuming replies. The caller owns store and closes it separately.
func NewTransport(conn *fakemq.Connection, store sessions.Store, opts ...Option) (*Transport, error) {
	t := &Transport{
		conn:           conn,
		store:          store,
		name:           defaultTransportName,
		exchange:       defaultExchange,
		requestTimeout: defaultRequestTimeout,
		status:         func(Status) {},
		logger:         slog.Default(),
		pending:        make(map[string]chan *UserMessage),
	}
	for _, opt := range opts {
		opt(t)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("ussd: open channel: %w", err)
	}
	t.ch = ch

	if err := ch.ExchangeDeclare(t.exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("ussd: declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(t.outboundQueue(), true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("ussd: declare reply queue: %w", err)
	}
	if err := ch.QueueBind(t.outboundQueue(), t.outboundKey(), t.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("ussd: bind reply queue: %w", err)
	}

	deliveries, err := ch.Consume(t.outboundQueue(), t.name+"-outbound", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("ussd: consume replies: %w", err)
	}
	go t.consumeReplies(deliveries)
	return t, nil
}

// InboundKey returns the routing key inbound user messages are
// published under. Application workers bind their queue to it.
func (t *Transport) InboundKey() string {
	return t.name + ".inbound"
}

func (t *Transport) outboundQueue() string {
	return t.name + ".outbound"
}

func (t *Transport) outboundKey() string {
	return t.name + ".outbound"
}

func (t *Transport) eventKey() string {
	return t.name + ".event"
}

// Close stops the adapter. In-flight HTTP requests fail with a timeout.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.ch.Close()
}

// ServeHTTP handles one inbound gateway request.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	values, missing := fieldValues(r)
	if len(missing) > 0 {
		t.logger.Warn("inbound request missing fields", "missing", missing)
		writeJSON(w, http.StatusBadRequest, map[string][]string{"missing_parameter": missing})
		t.status(Status{
			Component: "request",
			Status:    "down",
			Type:      "invalid_inbound_fields",
			Message:   "Invalid inbound fields: " + strings.Join(missing, ", "),
		})
		return
	}
	t.status(Status{Component: "request", Status: "ok", Type: "request_parsed", Message: "Request parsed"})

	transactionID := values["transactionId"]
	event, err := t.sessionEventFor(r.Context(), transactionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session store unavailable"})
		t.status(Status{Component: "request", Status: "down", Type: "session_store", Message: err.Error()})
		return
	}

	toAddr := values["ussdServiceCode"]
	if t.fixToAddr && !strings.HasPrefix(toAddr, "*") && !strings.HasSuffix(toAddr, "#") {
		toAddr = "*" + toAddr + "#"
	}

	// The first event of a session carries the dial string, not user
	// input: content is null on a new session.
	var content *string
	if event != SessionNew {
		s := values["ussdRequestString"]
		content = &s
	}

	requestID := uuid.New().String()
	msg := UserMessage{
		MessageID:     requestID,
		Content:       content,
		ToAddr:        toAddr,
		FromAddr:      values["msisdn"],
		Provider:      "dmark",
		SessionEvent:  event,
		TransportType: "ussd",
		TransportMetadata: map[string]string{
			"transaction_id":   transactionID,
			"transaction_time": values["transactionTime"],
			"creation_time":    values["creationTime"],
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode failure"})
		return
	}

	reply := make(chan *UserMessage, 1)
	t.mu.Lock()
	t.pending[requestID] = reply
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, requestID)
		t.mu.Unlock()
	}()

	err = t.ch.PublishWithContext(r.Context(), t.exchange, t.InboundKey(), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   requestID,
		Body:        body,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "publish failure"})
		t.status(Status{Component: "request", Status: "down", Type: "publish_failed", Message: err.Error()})
		return
	}

	select {
	case out := <-reply:
		action := actionRequest
		if out.SessionEvent == SessionClose {
			action = actionEnd
			if err := t.store.Delete(r.Context(), transactionID); err != nil {
				t.logger.Warn("session delete failed", "transactionId", transactionID, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"responseString": deref(out.Content),
			"action":         action,
		})
		t.status(Status{Component: "response", Status: "ok", Type: "response_sent", Message: "Response sent"})
		t.publishEvent(Event{EventType: "ack", UserMessageID: out.MessageID, SentMessageID: out.MessageID})
	case <-time.After(t.requestTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "reply timeout"})
		t.status(Status{Component: "response", Status: "down", Type: "timeout", Message: "Response timed out"})
	case <-r.Context().Done():
		t.status(Status{Component: "response", Status: "down", Type: "client_gone", Message: "Client closed request"})
	}
}

// sessionEventFor decides new versus resume by consulting the session
// store: absent means a fresh session is created, present means the
// session's expiry is refreshed.
func (t *Transport) sessionEventFor(ctx context.Context, transactionID string) (SessionEvent, error) {
	_, err := t.store.Load(ctx, transactionID)
	switch {
	case err == nil:
		if err := t.store.Refresh(ctx, transactionID); err != nil && err != sessions.ErrNotFound {
			return "", err
		}
		return SessionResume, nil
	case err == sessions.ErrNotFound:
		if err := t.store.Create(ctx, transactionID, map[string]string{"transaction_id": transactionID}); err != nil {
			return "", err
		}
		return SessionNew, nil
	default:
		return "", err
	}
}

// consumeReplies processes outbound user messages, completing the
// matching parked HTTP request for each.
func (t *Transport) consumeReplies(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var msg UserMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			t.logger.Warn("undecodable reply dropped", "error", err)
			t.status(Status{Component: "outbound", Status: "down", Type: "invalid_reply", Message: err.Error()})
			continue
		}
		t.handleReply(&msg)
	}
}

func (t *Transport) handleReply(msg *UserMessage) {
	var missing []string
	if msg.InReplyTo == "" {
		missing = append(missing, "in_reply_to")
	}
	if msg.Content == nil {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		t.publishEvent(Event{
			EventType:     "nack",
			UserMessageID: msg.MessageID,
			NackReason:    "Missing fields: " + strings.Join(missing, ", "),
		})
		t.status(Status{
			Component: "outbound",
			Status:    "down",
			Type:      "missing_fields",
			Message:   "Reply missing fields: " + strings.Join(missing, ", "),
		})
		return
	}

	t.mu.Lock()
	reply, ok := t.pending[msg.InReplyTo]
	if ok {
		delete(t.pending, msg.InReplyTo)
	}
	t.mu.Unlock()

	if !ok {
		t.publishEvent(Event{
			EventType:     "nack",
			UserMessageID: msg.MessageID,
			NackReason:    "Could not find original request.",
		})
		t.status(Status{
			Component: "outbound",
			Status:    "down",
			Type:      "unmatched_reply",
			Message:   "Reply without outstanding request",
		})
		return
	}
	reply <- msg
}

// publishEvent emits an ack or nack delivery report.
func (t *Transport) publishEvent(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	err = t.ch.PublishWithContext(context.Background(), t.exchange, t.eventKey(), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		t.logger.Warn("event publish failed", "eventType", ev.EventType, "error", err)
	}
}

// fieldValues extracts the expected query parameters, reporting which
// are absent.
func fieldValues(r *http.Request) (map[string]string, []string) {
	values := make(map[string]string, len(expectedFields))
	var missing []string
	query := r.URL.Query()
	for _, field := range expectedFields {
		if !query.Has(field) {
			missing = append(missing, field)
			continue
		}
		values[field] = query.Get(field)
	}
	sort.Strings(missing)
	return values, missing
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
