package broker

import (
	"sort"
	"strings"
)

// topicDelimiter separates routing key and pattern segments.
const topicDelimiter = "."

// Route computes the set of queue names a message published to exchange
// with routingKey would be delivered to. It is a pure function of the
// current topology: no I/O, no mutation, deterministic (results are
// sorted). An unknown exchange routes nowhere.
func (b *Broker) Route(exchange, routingKey string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.routeLocked(exchange, routingKey)
}

// routeLocked resolves matching queue names under the broker lock, so the
// binding set seen is a consistent snapshot with respect to concurrent
// QueueBind calls.
func (b *Broker) routeLocked(exchange, routingKey string) []string {
	ex, ok := b.exchanges[exchange]
	if !ok {
		return nil
	}

	// Union across matching patterns, deduplicated: a queue bound to two
	// matching patterns receives exactly one copy.
	matched := make(map[string]struct{})
	for pattern, queues := range ex.binds {
		if !patternMatches(ex.typ, pattern, routingKey) {
			continue
		}
		for q := range queues {
			matched[q] = struct{}{}
		}
	}

	if len(matched) == 0 {
		return nil
	}
	names := make([]string, 0, len(matched))
	for q := range matched {
		names = append(names, q)
	}
	sort.Strings(names)
	return names
}

func patternMatches(typ ExchangeType, pattern, routingKey string) bool {
	switch typ {
	case Direct:
		return pattern == routingKey
	case Fanout:
		return true
	case Topic:
		return topicMatch(pattern, routingKey)
	default:
		return false
	}
}

// topicMatch reports whether a dot-segmented routing key matches a topic
// binding pattern. A literal segment matches only itself, * matches
// exactly one segment, and # matches zero or more segments at any
// position. The pattern must consume the whole key.
func topicMatch(pattern, routingKey string) bool {
	return segmentsMatch(
		strings.Split(pattern, topicDelimiter),
		strings.Split(routingKey, topicDelimiter),
	)
}

func segmentsMatch(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for skip := 0; skip <= len(key); skip++ {
			if segmentsMatch(pattern[1:], key[skip:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && segmentsMatch(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && segmentsMatch(pattern[1:], key[1:])
	}
}
