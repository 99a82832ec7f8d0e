package engine

import (
	"context"

	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// Source is the boundary to the process that produces graph events. Events of
// all subscribed types arrive on a single ordered channel.
type Source interface {
	// Subscribe starts delivery of the given event types. It must not return
	// before delivery is active, so that a readiness signal emitted right
	// after it cannot race the first event.
	Subscribe(ctx context.Context, types ...events.Type) (Subscription, error)

	// Emit sends an outbound event back to the producer.
	Emit(ctx context.Context, evt events.Event) error
}

// Subscription is an active stream of inbound events.
type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan events.Event

	// Unsubscribe releases the subscription. Calling it more than once is
	// safe.
	Unsubscribe() error
}

// Recorder receives every inbound event before it is applied.
type Recorder interface {
	Record(ctx context.Context, evt events.Event) error
}
