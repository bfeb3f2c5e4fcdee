// Package ussd implements an HTTP transport adapter in the style of a
// USSD gateway integration: it translates the gateway's synchronous
// request/response cycle into messages published to and consumed from
// the broker.
//
// Inbound, each gateway request is validated, classified as a new or
// resumed session via the session store, published as a UserMessage and
// parked until a reply arrives. Outbound, reply messages complete the
// parked request, with a close session event mapped to the gateway's
// "end" action. Faults are reported as status signals and nack events,
// never as crashes.
package ussd
