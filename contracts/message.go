package contracts

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Properties carries message metadata end to end. The broker treats it as
// opaque: routing decisions never consult it.
type Properties struct {
	ContentType   string
	CorrelationID string
	ReplyTo       string
	MessageID     string
	Timestamp     time.Time
	Headers       amqp.Table
}

// Message is a single published message as it travels from an exchange to
// the queues it routes to. Exchange and RoutingKey record where and how it
// was published; Body is the payload, opaque to the broker.
type Message struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Properties Properties
}

// DeliveryFunc is the consumer hook attached to a queue. It is invoked
// synchronously, once per delivered message, on the publisher's call path.
type DeliveryFunc func(msg Message)
