package broker

import (
	"log/slog"
	"sync"

	"github.com/fakemq/fakemq/contracts"
	"github.com/google/uuid"
)

type channelState int

const (
	channelUnopened channelState = iota
	channelOpen
	channelClosed
)

// Channel is a per-connection logical context through which topology
// operations and publishes are issued. It owns no topology itself; every
// operation forwards to the shared Broker, so all channels observe the
// same global state. A channel must be opened before use and cannot be
// reopened once closed.
type Channel struct {
	id     int
	broker *Broker
	logger *slog.Logger

	mu          sync.Mutex
	state       channelState
	deliveryTag uint64
	consumers   map[string]*Queue // consumer tag -> queue
}

// ID returns the channel number.
func (ch *Channel) ID() int { return ch.id }

// Open registers the channel with the broker. It must be called before
// any other operation.
func (ch *Channel) Open() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	switch ch.state {
	case channelOpen:
		return ErrChannelAlreadyOpen
	case channelClosed:
		return ErrChannelClosed
	}
	ch.state = channelOpen
	ch.consumers = make(map[string]*Queue)
	ch.broker.addChannel(ch)
	return nil
}

// Close cancels the channel's consumers and removes it from the broker.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.state != channelOpen {
		ch.mu.Unlock()
		return ErrChannelNotOpen
	}
	ch.state = channelClosed
	consumers := ch.consumers
	ch.consumers = nil
	ch.mu.Unlock()

	for _, q := range consumers {
		q.DetachConsumer()
	}
	ch.broker.removeChannel(ch)
	return nil
}

// IsOpen reports whether the channel is open.
func (ch *Channel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state == channelOpen
}

func (ch *Channel) ensureOpen() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	switch ch.state {
	case channelUnopened:
		return ErrChannelNotOpen
	case channelClosed:
		return ErrChannelClosed
	}
	return nil
}

// ExchangeDeclare forwards to the broker's topology registry.
func (ch *Channel) ExchangeDeclare(name string, typ ExchangeType) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	return ch.broker.ExchangeDeclare(name, typ)
}

// QueueDeclare forwards to the broker's topology registry.
func (ch *Channel) QueueDeclare(name string) (*Queue, error) {
	if err := ch.ensureOpen(); err != nil {
		return nil, err
	}
	return ch.broker.QueueDeclare(name), nil
}

// QueueBind forwards to the broker's topology registry.
func (ch *Channel) QueueBind(queue, exchange, pattern string) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	return ch.broker.QueueBind(queue, exchange, pattern)
}

// BasicPublish routes body through the exchange and delivers it to every
// matching queue, returning the delivered count. Zero deliveries — an
// unknown exchange or a key with no matching binding — is not an error.
func (ch *Channel) BasicPublish(exchange, routingKey string, body []byte, props contracts.Properties) (int, error) {
	if err := ch.ensureOpen(); err != nil {
		return 0, err
	}
	return ch.broker.Publish(exchange, routingKey, contracts.Message{
		Body:       body,
		Properties: props,
	}), nil
}

// BasicGet polls the front of the named queue without blocking. The
// third return is false if the queue is empty.
func (ch *Channel) BasicGet(queue string) (contracts.Message, uint64, bool, error) {
	if err := ch.ensureOpen(); err != nil {
		return contracts.Message{}, 0, false, err
	}
	q, ok := ch.broker.Queue(queue)
	if !ok {
		return contracts.Message{}, 0, false, ErrQueueNotFound
	}
	msg, ok := q.Get()
	if !ok {
		return contracts.Message{}, 0, false, nil
	}
	return msg, ch.NextDeliveryTag(), true, nil
}

// BasicConsume attaches hook as the consumer of the named queue and
// returns the consumer tag. An empty tag requests a generated one. The
// queue's backlog, if any, is drained to the hook before this returns.
func (ch *Channel) BasicConsume(queue, tag string, hook contracts.DeliveryFunc) (string, error) {
	if err := ch.ensureOpen(); err != nil {
		return "", err
	}
	q, ok := ch.broker.Queue(queue)
	if !ok {
		return "", ErrQueueNotFound
	}
	if tag == "" {
		tag = "ctag-" + uuid.New().String()
	}
	if err := q.AttachConsumer(tag, hook); err != nil {
		return "", err
	}

	ch.mu.Lock()
	if ch.state != channelOpen {
		ch.mu.Unlock()
		q.DetachConsumer()
		return "", ErrChannelClosed
	}
	ch.consumers[tag] = q
	ch.mu.Unlock()
	ch.logger.Debug("consumer attached", "queue", queue, "consumerTag", tag)
	return tag, nil
}

// BasicCancel detaches the consumer registered under tag.
func (ch *Channel) BasicCancel(tag string) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	ch.mu.Lock()
	q, ok := ch.consumers[tag]
	delete(ch.consumers, tag)
	ch.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	q.DetachConsumer()
	return nil
}

// BasicAck acknowledges a delivery. Delivery here is at-most-once and
// never redelivered, so acknowledgment is bookkeeping only: it exists for
// parity with the real client surface.
func (ch *Channel) BasicAck(tag uint64, multiple bool) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	ch.logger.Debug("delivery acked", "channel", ch.id, "deliveryTag", tag, "multiple", multiple)
	return nil
}

// NextDeliveryTag returns the next per-channel delivery tag. Facade
// layers constructing protocol deliveries stamp them with this.
func (ch *Channel) NextDeliveryTag() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.deliveryTag++
	return ch.deliveryTag
}
