// Package broker implements an in-memory, protocol-faithful emulation of
// a topic-routing message broker: exchanges, queues, bindings, channels
// and the publish-route-deliver cycle, with no network involved.
//
// The Broker owns all topology. Channels share it by reference, so every
// channel observes the same exchanges, queues and bindings, mirroring how
// a real broker presents shared state across client connections.
// Publishing is a synchronous function call: Route computes the matching
// queue set under the broker lock, then each queue either hands the
// message to its attached consumer hook or buffers it.
//
// Routing semantics match AMQP: direct exchanges compare routing keys to
// binding patterns by literal equality, topic exchanges interpret
// dot-segmented patterns where * matches exactly one segment and #
// matches zero or more, and fanout exchanges ignore the key entirely.
// A queue bound to several matching patterns still receives exactly one
// copy per publish. Publishing with no matching binding delivers nowhere
// and is not an error.
//
// Delivery is at-most-once and in-process. There is no persistence, no
// redelivery and no flow control; those belong to real brokers.
package broker
