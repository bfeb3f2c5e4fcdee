package ussd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakemq/fakemq"
	"github.com/fakemq/fakemq/broker"
	"github.com/fakemq/fakemq/sessions"
)

// statusRecorder captures adapter status signals.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) has(statusType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s.Type == statusType {
			return true
		}
	}
	return false
}

// echoWorker plays the application side: it consumes inbound user
// messages and publishes one reply per message.
type echoWorker struct {
	seen chan UserMessage
}

func startWorker(t *testing.T, b *broker.Broker, transport *Transport, reply func(in UserMessage) UserMessage) *echoWorker {
	t.Helper()
	conn := fakemq.Connect(b)
	t.Cleanup(func() { conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)

	_, err = ch.QueueDeclare("app.inbound", false, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind("app.inbound", transport.InboundKey(), defaultExchange, false, nil))
	deliveries, err := ch.Consume("app.inbound", "", true, false, false, false, nil)
	require.NoError(t, err)

	w := &echoWorker{seen: make(chan UserMessage, 16)}
	go func() {
		for d := range deliveries {
			var in UserMessage
			if err := json.Unmarshal(d.Body, &in); err != nil {
				continue
			}
			w.seen <- in
			out := reply(in)
			body, _ := json.Marshal(out)
			ch.PublishWithContext(context.Background(), defaultExchange, transport.outboundKey(), false, false,
				amqp.Publishing{ContentType: "application/json", Body: body})
		}
	}()
	return w
}

func (w *echoWorker) next(t *testing.T) UserMessage {
	t.Helper()
	select {
	case msg := <-w.seen:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("worker saw no inbound message")
		return UserMessage{}
	}
}

func newTransport(t *testing.T, opts ...Option) (*broker.Broker, *Transport, *statusRecorder) {
	t.Helper()
	b := broker.New()
	conn := fakemq.Connect(b)
	t.Cleanup(func() { conn.Close() })
	store := sessions.NewMemoryStore(sessions.WithTTL(time.Minute))
	t.Cleanup(func() { store.Close() })

	rec := &statusRecorder{}
	opts = append([]Option{
		WithRequestTimeout(2 * time.Second),
		WithStatusFunc(rec.record),
	}, opts...)
	transport, err := NewTransport(conn, store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { transport.Close() })
	return b, transport, rec
}

// echoReply answers every message with fixed content, closing the
// session when the user sends "9".
func echoReply(content string) func(in UserMessage) UserMessage {
	return func(in UserMessage) UserMessage {
		event := SessionResume
		if in.Content != nil && *in.Content == "9" {
			event = SessionClose
		}
		c := content
		return UserMessage{
			MessageID:    "reply-to-" + in.MessageID,
			InReplyTo:    in.MessageID,
			Content:      &c,
			ToAddr:       in.FromAddr,
			FromAddr:     in.ToAddr,
			SessionEvent: event,
		}
	}
}

func gatewayRequest(transactionID, content string) *http.Request {
	q := url.Values{
		"transactionId":     {transactionID},
		"msisdn":            {"+256700000001"},
		"ussdServiceCode":   {"*123#"},
		"transactionTime":   {"1405406568"},
		"ussdRequestString": {content},
		"creationTime":      {"1405406568"},
		"response":          {"false"},
	}
	return httptest.NewRequest(http.MethodGet, "/?"+q.Encode(), nil)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestSessionLifecycle(t *testing.T) {
	b, transport, rec := newTransport(t)
	worker := startWorker(t, b, transport, echoReply("Pick an option"))

	// First event for tx-1: session is NEW and the dial string is not
	// forwarded as content.
	w := httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-1", "*123#"))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Pick an option", body["responseString"])
	assert.Equal(t, "request", body["action"])

	seen := worker.next(t)
	assert.Equal(t, SessionNew, seen.SessionEvent)
	assert.Nil(t, seen.Content)
	assert.Equal(t, "+256700000001", seen.FromAddr)
	assert.Equal(t, "*123#", seen.ToAddr)
	assert.Equal(t, "tx-1", seen.TransportMetadata["transaction_id"])
	assert.True(t, rec.has("request_parsed"))
	assert.True(t, rec.has("response_sent"))

	// Second event for the same transaction: RESUME, content intact.
	w = httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-1", "1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "request", decodeBody(t, w)["action"])

	seen = worker.next(t)
	assert.Equal(t, SessionResume, seen.SessionEvent)
	require.NotNil(t, seen.Content)
	assert.Equal(t, "1", *seen.Content)

	// "9" makes the worker close the session: the gateway gets "end".
	w = httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-1", "9"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "end", decodeBody(t, w)["action"])
	worker.next(t)

	// The session was deleted on close, so the same transaction starts
	// over as NEW.
	w = httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-1", "*123#"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SessionNew, worker.next(t).SessionEvent)
}

func TestIndependentTransactions(t *testing.T) {
	b, transport, _ := newTransport(t)
	worker := startWorker(t, b, transport, echoReply("ok"))

	w := httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-a", "*123#"))
	assert.Equal(t, SessionNew, worker.next(t).SessionEvent)

	w = httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-b", "*123#"))
	assert.Equal(t, SessionNew, worker.next(t).SessionEvent)

	w = httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-a", "2"))
	assert.Equal(t, SessionResume, worker.next(t).SessionEvent)
}

func TestMissingFields(t *testing.T) {
	_, transport, rec := newTransport(t)

	q := url.Values{
		"transactionId": {"tx-1"},
		"msisdn":        {"+256700000001"},
	}
	w := httptest.NewRecorder()
	transport.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?"+q.Encode(), nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string][]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body["missing_parameter"], "ussdServiceCode")
	assert.Contains(t, body["missing_parameter"], "ussdRequestString")
	assert.NotContains(t, body["missing_parameter"], "msisdn")
	assert.True(t, rec.has("invalid_inbound_fields"))
}

func TestFixToAddr(t *testing.T) {
	b, transport, _ := newTransport(t, WithFixToAddr(true))
	worker := startWorker(t, b, transport, echoReply("ok"))

	q := url.Values{
		"transactionId":     {"tx-1"},
		"msisdn":            {"+256700000001"},
		"ussdServiceCode":   {"123"},
		"transactionTime":   {"1405406568"},
		"ussdRequestString": {"123"},
		"creationTime":      {"1405406568"},
		"response":          {"false"},
	}
	w := httptest.NewRecorder()
	transport.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*123#", worker.next(t).ToAddr)
}

func TestUnmatchedReplyNacks(t *testing.T) {
	b, transport, rec := newTransport(t)

	conn := fakemq.Connect(b)
	t.Cleanup(func() { conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)

	content := "orphan"
	body, err := json.Marshal(UserMessage{
		MessageID:    "msg-orphan",
		InReplyTo:    "no-such-request",
		Content:      &content,
		SessionEvent: SessionResume,
	})
	require.NoError(t, err)
	require.NoError(t, ch.PublishWithContext(context.Background(), defaultExchange, transport.outboundKey(), false, false,
		amqp.Publishing{ContentType: "application/json", Body: body}))

	require.Eventually(t, func() bool {
		return rec.has("unmatched_reply")
	}, 2*time.Second, 10*time.Millisecond)

	events := b.Dispatched(defaultExchange, transport.eventKey())
	require.NotEmpty(t, events)
	var ev Event
	require.NoError(t, json.Unmarshal(events[len(events)-1].Body, &ev))
	assert.Equal(t, "nack", ev.EventType)
	assert.Equal(t, "msg-orphan", ev.UserMessageID)
	assert.Equal(t, "Could not find original request.", ev.NackReason)
}

func TestReplyMissingFieldsNacks(t *testing.T) {
	b, transport, rec := newTransport(t)

	conn := fakemq.Connect(b)
	t.Cleanup(func() { conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)

	// No in_reply_to, no content.
	body, err := json.Marshal(UserMessage{MessageID: "msg-bad", SessionEvent: SessionResume})
	require.NoError(t, err)
	require.NoError(t, ch.PublishWithContext(context.Background(), defaultExchange, transport.outboundKey(), false, false,
		amqp.Publishing{ContentType: "application/json", Body: body}))

	require.Eventually(t, func() bool {
		return rec.has("missing_fields")
	}, 2*time.Second, 10*time.Millisecond)

	events := b.Dispatched(defaultExchange, transport.eventKey())
	require.NotEmpty(t, events)
	var ev Event
	require.NoError(t, json.Unmarshal(events[len(events)-1].Body, &ev))
	assert.Equal(t, "nack", ev.EventType)
	assert.Contains(t, ev.NackReason, "in_reply_to")
	assert.Contains(t, ev.NackReason, "content")
}

func TestReplyTimeout(t *testing.T) {
	// No worker consumes the inbound queue, so no reply ever arrives.
	_, transport, rec := newTransport(t, WithRequestTimeout(50*time.Millisecond))

	w := httptest.NewRecorder()
	transport.ServeHTTP(w, gatewayRequest("tx-1", "*123#"))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.True(t, rec.has("timeout"))
}
