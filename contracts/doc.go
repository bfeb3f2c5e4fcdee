// Package contracts provides the message value types shared by the broker
// emulator and the client facade.
//
// A Message carries the (exchange, routing key, payload) tuple that the
// broker routes, together with pass-through Properties that routing never
// inspects. DeliveryFunc is the consumer hook signature: the broker calls
// it synchronously for every message delivered to an attached consumer.
package contracts
