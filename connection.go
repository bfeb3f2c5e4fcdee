package fakemq

import (
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fakemq/fakemq/broker"
)

// Connection is a fake client session: the connection-shaped facade over
// a shared broker. It owns no topology, only the channels it has handed
// out. Several connections may share one Broker; they all see the same
// exchanges, queues and bindings, exactly as separate client connections
// to a real broker would.
type Connection struct {
	broker *broker.Broker
	logger *slog.Logger

	mu       sync.Mutex
	channels []*Channel
	closed   bool
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithLogger sets the connection logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// Connect opens a fake connection against b. It is the emulator's
// equivalent of amqp.Dial and never fails; the error-free signature is
// kept distinct so call sites that need a Dial-compatible shape can wrap
// it trivially.
func Connect(b *broker.Broker, opts ...ConnectionOption) *Connection {
	c := &Connection{
		broker: b,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Broker returns the underlying broker, for test assertions.
func (c *Connection) Broker() *broker.Broker {
	return c.broker
}

// Channel opens a new channel on the connection.
func (c *Connection) Channel() (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}

	bch := c.broker.Channel()
	if err := bch.Open(); err != nil {
		return nil, err
	}
	ch := &Channel{
		conn:      c,
		ch:        bch,
		logger:    c.logger,
		consumers: make(map[string]chan amqp.Delivery),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// Close closes the connection and every channel opened on it. Closing an
// already-closed connection returns amqp.ErrClosed, matching the real
// client.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return amqp.ErrClosed
	}
	c.closed = true
	channels := c.channels
	c.channels = nil
	c.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	return nil
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// forgetChannel drops a channel closed directly via Channel.Close.
func (c *Connection) forgetChannel(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.channels {
		if existing == ch {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			return
		}
	}
}
