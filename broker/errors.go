package broker

import (
	"errors"
	"fmt"
)

var (
	// Topology errors
	ErrExchangeNotFound     = errors.New("broker: exchange not found")
	ErrQueueNotFound        = errors.New("broker: queue not found")
	ErrExchangeTypeMismatch = errors.New("broker: exchange redeclared with different type")
	ErrUnknownExchangeType  = errors.New("broker: unknown exchange type")

	// Channel errors
	ErrChannelNotOpen     = errors.New("broker: channel is not open")
	ErrChannelClosed      = errors.New("broker: channel is closed")
	ErrChannelAlreadyOpen = errors.New("broker: channel is already open")

	// Consumer errors
	ErrConsumerExists  = errors.New("broker: queue already has a consumer")
	ErrUnknownConsumer = errors.New("broker: unknown consumer tag")
)

// TopologyError wraps a topology mutation failure with the component and
// operation that produced it.
type TopologyError struct {
	Component string // "exchange", "queue" or "binding"
	Name      string
	Op        string
	Err       error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("broker: failed to %s %s %q: %v", e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}
