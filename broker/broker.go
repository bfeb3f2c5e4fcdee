package broker

import (
	"log/slog"
	"sync"

	"github.com/fakemq/fakemq/contracts"
)

// Broker is the composition root of the emulator. It exclusively owns the
// exchanges and queues, which every Channel shares by reference, so all
// channels observe one consistent topology. A single lock guards topology
// and routing, making route-then-enqueue atomic with respect to
// concurrent binds.
type Broker struct {
	mu         sync.RWMutex
	exchanges  map[string]*Exchange
	queues     map[string]*Queue
	channels   []*Channel
	nextChanID int

	// dispatched records every publish, keyed by exchange then routing
	// key, whether or not anything was delivered. Assertion helper.
	dispatched map[string]map[string][]contracts.Message

	logger *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		exchanges:  make(map[string]*Exchange),
		queues:     make(map[string]*Queue),
		dispatched: make(map[string]map[string][]contracts.Message),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Channel allocates a new channel bound to this broker. The channel is
// not usable until Open is called on it.
func (b *Broker) Channel() *Channel {
	b.mu.Lock()
	b.nextChanID++
	id := b.nextChanID
	b.mu.Unlock()
	return &Channel{id: id, broker: b, logger: b.logger}
}

// Channels returns the currently open channels in open order.
func (b *Broker) Channels() []*Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Channel, len(b.channels))
	copy(out, b.channels)
	return out
}

// Exchange returns the named exchange, if declared.
func (b *Broker) Exchange(name string) (*Exchange, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ex, ok := b.exchanges[name]
	return ex, ok
}

// Queue returns the named queue, if declared.
func (b *Broker) Queue(name string) (*Queue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[name]
	return q, ok
}

// Publish routes msg through the named exchange and enqueues it onto
// every matching queue. It returns the number of queues delivered to.
// Publishing to an unknown exchange, or with a routing key no binding
// matches, delivers to zero queues and is not an error.
func (b *Broker) Publish(exchange, routingKey string, msg contracts.Message) int {
	msg.Exchange = exchange
	msg.RoutingKey = routingKey

	b.mu.Lock()
	byKey, ok := b.dispatched[exchange]
	if !ok {
		byKey = make(map[string][]contracts.Message)
		b.dispatched[exchange] = byKey
	}
	byKey[routingKey] = append(byKey[routingKey], msg)

	// Snapshot the matching queues while holding the lock, then deliver
	// outside it so consumer hooks may call back into the broker.
	names := b.routeLocked(exchange, routingKey)
	targets := make([]*Queue, 0, len(names))
	for _, name := range names {
		if q, ok := b.queues[name]; ok {
			targets = append(targets, q)
		}
	}
	b.mu.Unlock()

	for _, q := range targets {
		q.Enqueue(msg)
	}
	b.logger.Debug("message published",
		"exchange", exchange,
		"routingKey", routingKey,
		"delivered", len(targets))
	return len(targets)
}

// Dispatched returns every message published to exchange with routingKey
// since the broker was created or the log was last cleared, in publish
// order.
func (b *Broker) Dispatched(exchange, routingKey string) []contracts.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msgs := b.dispatched[exchange][routingKey]
	out := make([]contracts.Message, len(msgs))
	copy(out, msgs)
	return out
}

// ClearDispatched resets the publish log.
func (b *Broker) ClearDispatched() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatched = make(map[string]map[string][]contracts.Message)
}

// addChannel registers an opened channel.
func (b *Broker) addChannel(ch *Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

// removeChannel drops a closed channel from the open list.
func (b *Broker) removeChannel(ch *Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.channels {
		if c == ch {
			b.channels = append(b.channels[:i], b.channels[i+1:]...)
			return
		}
	}
}
