// Package memory provides an in-process event source. It backs HTTP ingest,
// the simulator and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/engine"
	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// ErrNoSubscriber is returned by Publish when no active subscription accepts
// the event's type.
var ErrNoSubscriber = errors.New("no subscriber for event")

// Bus delivers published events to subscribers in publish order. Concurrent
// publishers are serialised, so every subscriber observes the same order.
type Bus struct {
	pubMu sync.Mutex // held for the whole of a delivery

	mu        sync.Mutex
	subs      []*subscription
	seq       uint64
	emitted   []events.Event
	ready     chan struct{}
	readyOnce sync.Once
	buffer    int
}

// NewBus creates a bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer < 0 {
		buffer = 0
	}
	return &Bus{
		ready:  make(chan struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscription for the given types. Delivery is active
// when it returns.
func (b *Bus) Subscribe(ctx context.Context, types ...events.Type) (engine.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		bus:   b,
		types: make(map[events.Type]bool, len(types)),
		ch:    make(chan events.Event, b.buffer),
		done:  make(chan struct{}),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Emit records an outbound event. The first frontend_ready closes the
// channel returned by Ready.
func (b *Bus) Emit(ctx context.Context, evt events.Event) error {
	b.mu.Lock()
	b.emitted = append(b.emitted, evt)
	b.mu.Unlock()
	if evt.Type == events.TypeFrontendReady {
		b.readyOnce.Do(func() { close(b.ready) })
	}
	return nil
}

// Ready is closed once the consumer has signalled readiness.
func (b *Bus) Ready() <-chan struct{} {
	return b.ready
}

// Emitted returns every outbound event seen so far.
func (b *Bus) Emitted() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.emitted...)
}

// Publish stamps evt with the next sequence number and ingest time and
// delivers it to every subscription of its type. It blocks while a
// subscriber's buffer is full.
func (b *Bus) Publish(ctx context.Context, evt events.Event) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.Lock()
	subs := append([]*subscription(nil), b.subs...)
	b.seq++
	evt.Seq = b.seq
	b.mu.Unlock()
	if evt.TsIngest.IsZero() {
		evt.TsIngest = time.Now().UTC()
	}

	delivered := 0
	for _, sub := range subs {
		if !sub.types[evt.Type] {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delivered == 0 {
		return ErrNoSubscriber
	}
	return nil
}

// PublishAll publishes evts in order, stopping at the first error.
func (b *Bus) PublishAll(ctx context.Context, evts []events.Event) error {
	for _, evt := range evts {
		if err := b.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

type subscription struct {
	bus   *Bus
	types map[events.Type]bool
	ch    chan events.Event
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Events() <-chan events.Event {
	return s.ch
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
		// Wait out any in-flight delivery before closing the channel.
		s.bus.pubMu.Lock()
		close(s.ch)
		s.bus.pubMu.Unlock()
	})
	return nil
}
