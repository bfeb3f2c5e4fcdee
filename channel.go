package fakemq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fakemq/fakemq/broker"
	"github.com/fakemq/fakemq/contracts"
)

// deliveryBuffer is the capacity of each Consume channel. Delivery into
// the channel is synchronous with publish; if a consumer falls this far
// behind, further messages are dropped rather than deadlocking the
// publisher.
const deliveryBuffer = 1024

// Channel mirrors the amqp091 channel API over a broker channel. Method
// signatures take and return amqp091 types so application code written
// for the real client compiles and behaves identically. The flags a real
// broker interprets (durable, exclusive, mandatory and friends) are
// accepted and ignored: no process restart or resource limit exists for
// them to matter.
type Channel struct {
	conn   *Connection
	ch     *broker.Channel
	logger *slog.Logger

	mu        sync.Mutex
	consumers map[string]chan amqp.Delivery
	closed    bool
}

// ExchangeDeclare declares an exchange of the given kind ("direct",
// "fanout" or "topic").
func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	typ, err := broker.ParseExchangeType(kind)
	if err != nil {
		return err
	}
	return ch.ch.ExchangeDeclare(name, typ)
}

// QueueDeclare declares a queue and reports its current state.
func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if err := ch.ensureOpen(); err != nil {
		return amqp.Queue{}, err
	}
	q, err := ch.ch.QueueDeclare(name)
	if err != nil {
		return amqp.Queue{}, err
	}
	info := amqp.Queue{Name: q.Name(), Messages: q.Len()}
	if q.ConsumerTag() != "" {
		info.Consumers = 1
	}
	return info, nil
}

// QueueBind binds a queue to an exchange under a routing key pattern.
// Note the amqp091 argument order: queue name, key, exchange.
func (ch *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	return ch.ch.QueueBind(name, exchange, key)
}

// PublishWithContext publishes msg to the exchange. Publishing to an
// exchange with no matching binding delivers nowhere and returns nil,
// as the real client does without the mandatory flag.
func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	_, err := ch.ch.BasicPublish(exchange, key, msg.Body, propertiesOf(msg))
	return err
}

// Publish publishes msg to the exchange.
//
// Deprecated: use PublishWithContext, matching amqp091.
func (ch *Channel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return ch.PublishWithContext(context.Background(), exchange, key, mandatory, immediate, msg)
}

// Consume attaches a consumer to the queue and returns its delivery
// channel. Any buffered backlog is delivered first, in order. An empty
// consumer tag requests a generated one.
func (ch *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if err := ch.ensureOpen(); err != nil {
		return nil, err
	}
	if consumer == "" {
		consumer = "ctag-" + uuid.New().String()
	}

	deliveries := make(chan amqp.Delivery, deliveryBuffer)
	tag, err := ch.ch.BasicConsume(queue, consumer, func(msg contracts.Message) {
		select {
		case deliveries <- ch.newDelivery(msg, consumer, ch.ch.NextDeliveryTag()):
		default:
			ch.logger.Warn("delivery buffer full, message dropped",
				"queue", queue, "consumerTag", consumer)
		}
	})
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		ch.ch.BasicCancel(tag)
		close(deliveries)
		return nil, amqp.ErrClosed
	}
	ch.consumers[tag] = deliveries
	ch.mu.Unlock()
	return deliveries, nil
}

// Get synchronously polls the queue for a single message. The second
// return is false when the queue is empty.
func (ch *Channel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	if err := ch.ensureOpen(); err != nil {
		return amqp.Delivery{}, false, err
	}
	msg, tag, ok, err := ch.ch.BasicGet(queue)
	if err != nil || !ok {
		return amqp.Delivery{}, false, err
	}
	return ch.newDelivery(msg, "", tag), true, nil
}

// Cancel detaches the consumer registered under tag and closes its
// delivery channel.
func (ch *Channel) Cancel(consumer string, noWait bool) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	if err := ch.ch.BasicCancel(consumer); err != nil {
		return err
	}
	ch.mu.Lock()
	if deliveries, ok := ch.consumers[consumer]; ok {
		delete(ch.consumers, consumer)
		close(deliveries)
	}
	ch.mu.Unlock()
	return nil
}

// Close closes the channel, cancelling its consumers and closing their
// delivery channels.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return amqp.ErrClosed
	}
	ch.closed = true
	consumers := ch.consumers
	ch.consumers = nil
	ch.mu.Unlock()

	for tag, deliveries := range consumers {
		ch.ch.BasicCancel(tag)
		close(deliveries)
	}
	ch.conn.forgetChannel(ch)
	return ch.ch.Close()
}

// Ack acknowledges a delivery. Part of the amqp.Acknowledger interface.
// Delivery is at-most-once; acknowledgment is bookkeeping only.
func (ch *Channel) Ack(tag uint64, multiple bool) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	return ch.ch.BasicAck(tag, multiple)
}

// Nack negatively acknowledges a delivery. The emulator never
// redelivers, so requeue is accepted and ignored.
func (ch *Channel) Nack(tag uint64, multiple bool, requeue bool) error {
	if err := ch.ensureOpen(); err != nil {
		return err
	}
	ch.logger.Debug("delivery nacked", "deliveryTag", tag, "requeue", requeue)
	return nil
}

// Reject negatively acknowledges a single delivery.
func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

func (ch *Channel) ensureOpen() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	return nil
}

// newDelivery converts a broker message into an amqp091 delivery.
func (ch *Channel) newDelivery(msg contracts.Message, consumerTag string, deliveryTag uint64) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:  ch,
		Headers:       msg.Properties.Headers,
		ContentType:   msg.Properties.ContentType,
		CorrelationId: msg.Properties.CorrelationID,
		ReplyTo:       msg.Properties.ReplyTo,
		MessageId:     msg.Properties.MessageID,
		Timestamp:     msg.Properties.Timestamp,
		ConsumerTag:   consumerTag,
		DeliveryTag:   deliveryTag,
		Exchange:      msg.Exchange,
		RoutingKey:    msg.RoutingKey,
		Body:          msg.Body,
	}
}

// propertiesOf maps an amqp091 publishing onto broker message
// properties, filling in a message ID and timestamp when absent.
func propertiesOf(msg amqp.Publishing) contracts.Properties {
	props := contracts.Properties{
		ContentType:   msg.ContentType,
		CorrelationID: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		MessageID:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Headers:       msg.Headers,
	}
	if props.MessageID == "" {
		props.MessageID = uuid.New().String()
	}
	if props.Timestamp.IsZero() {
		props.Timestamp = time.Now().UTC()
	}
	return props
}
