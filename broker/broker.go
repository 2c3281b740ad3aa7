// Package broker wraps the AMQP fanout exchange and durable queue used to
// hand reservation UUIDs from the Scheduler to Worker processes, spec.md
// §4.3/§4.4/§6.
package broker

import (
	"context"

	"github.com/fenwicklabs/reservoir/errors"
)

// Delivery is one consumed message. Callers must call Ack or Nack exactly
// once.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

// Broker is the messaging contract. One fanout exchange, one durable,
// non-exclusive, non-auto-delete queue bound to it (spec.md §6).
type Broker interface {
	// Publish sends body (the 16-byte raw UUID) to the fanout exchange.
	Publish(ctx context.Context, body []byte) error

	// Consume returns a channel of deliveries. prefetch bounds the number
	// of unacknowledged messages outstanding at once.
	Consume(ctx context.Context, prefetch int) (<-chan Delivery, error)

	// QueueDepth reports the number of ready messages on the bound queue,
	// used by the Scheduler for backpressure (spec.md §4.3/§5).
	QueueDepth(ctx context.Context) (int, error)

	Close() error
}

// ErrClosed is returned by operations attempted on a closed broker.
var ErrClosed = errors.New("broker: closed")
