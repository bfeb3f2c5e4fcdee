package broker

import (
	"fmt"
	"sort"
)

// ExchangeType selects the routing behavior of an exchange.
type ExchangeType string

const (
	// Direct matches the routing key against binding patterns by exact
	// string equality. Wildcards are never interpreted.
	Direct ExchangeType = "direct"

	// Fanout delivers to every bound queue regardless of routing key.
	Fanout ExchangeType = "fanout"

	// Topic matches the routing key against dot-segmented binding
	// patterns with * and # wildcards.
	Topic ExchangeType = "topic"
)

// ParseExchangeType converts the wire-level exchange kind into an
// ExchangeType.
func ParseExchangeType(kind string) (ExchangeType, error) {
	switch kind {
	case string(Direct):
		return Direct, nil
	case string(Fanout):
		return Fanout, nil
	case string(Topic):
		return Topic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExchangeType, kind)
	}
}

// Exchange is a named routing entity. It owns the bindings from routing
// patterns to queue names; the owning Broker's lock guards all mutation.
type Exchange struct {
	name  string
	typ   ExchangeType
	binds map[string]map[string]struct{} // pattern -> set of queue names
}

func newExchange(name string, typ ExchangeType) *Exchange {
	return &Exchange{
		name:  name,
		typ:   typ,
		binds: make(map[string]map[string]struct{}),
	}
}

// Name returns the exchange name.
func (e *Exchange) Name() string { return e.name }

// Type returns the exchange type.
func (e *Exchange) Type() ExchangeType { return e.typ }

// bind adds queue to the set bound to pattern. Rebinding an existing
// (pattern, queue) pair is a no-op.
func (e *Exchange) bind(pattern, queue string) {
	set, ok := e.binds[pattern]
	if !ok {
		set = make(map[string]struct{})
		e.binds[pattern] = set
	}
	set[queue] = struct{}{}
}

// Patterns returns the bound routing patterns in sorted order.
func (e *Exchange) Patterns() []string {
	patterns := make([]string, 0, len(e.binds))
	for p := range e.binds {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	return patterns
}

// BoundQueues returns the names of the queues bound to pattern, sorted.
func (e *Exchange) BoundQueues(pattern string) []string {
	set := e.binds[pattern]
	queues := make([]string, 0, len(set))
	for q := range set {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}
