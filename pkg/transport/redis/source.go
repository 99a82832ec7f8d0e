// Package redis carries event envelopes over Redis pub/sub. Inbound events
// travel on one channel so their publish order is preserved; the readiness
// signal goes back on a separate control channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arsdragonfly/fluxduct/pkg/engine"
	"github.com/arsdragonfly/fluxduct/pkg/events"
)

const (
	DefaultEventsChannel  = "fluxduct:events"
	DefaultControlChannel = "fluxduct:control"
)

// Source implements engine.Source on top of a Redis client.
type Source struct {
	client  *redis.Client
	events  string
	control string
	buffer  int
	logger  *slog.Logger
	seq     atomic.Uint64
}

// Option configures a Source.
type Option func(*Source)

// WithChannels overrides the events and control channel names.
func WithChannels(eventsCh, controlCh string) Option {
	return func(s *Source) {
		if eventsCh != "" {
			s.events = eventsCh
		}
		if controlCh != "" {
			s.control = controlCh
		}
	}
}

// WithBuffer sets the subscription buffer size.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n >= 0 {
			s.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSource(client *redis.Client, opts ...Option) *Source {
	s := &Source{
		client:  client,
		events:  DefaultEventsChannel,
		control: DefaultControlChannel,
		buffer:  64,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "redis_source", "channel", s.events)
	return s
}

// Subscribe subscribes to the events channel and waits for Redis to confirm
// the subscription, so a readiness signal sent afterwards cannot overtake it.
func (s *Source) Subscribe(ctx context.Context, types ...events.Type) (engine.Subscription, error) {
	ps := s.client.Subscribe(ctx, s.events)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.events, err)
	}

	sub := &subscription{
		source: s,
		ps:     ps,
		types:  make(map[events.Type]bool, len(types)),
		ch:     make(chan events.Event, s.buffer),
		done:   make(chan struct{}),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	go sub.pump(ps.Channel())

	s.logger.Info("redis_subscribed")
	return sub, nil
}

// Emit publishes an outbound event on the control channel.
func (s *Source) Emit(ctx context.Context, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", evt.Type, err)
	}
	if err := s.client.Publish(ctx, s.control, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s on %s: %w", evt.Type, s.control, err)
	}
	return nil
}

type subscription struct {
	source *Source
	ps     *redis.PubSub
	types  map[events.Type]bool
	ch     chan events.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) pump(msgs <-chan *redis.Message) {
	defer close(s.ch)
	for msg := range msgs {
		var evt events.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			s.source.logger.Warn("envelope_malformed", "error", err)
			continue
		}
		if !s.types[evt.Type] {
			s.source.logger.Debug("envelope_skipped", "type", evt.Type)
			continue
		}
		evt.Seq = s.source.seq.Add(1)
		evt.TsIngest = time.Now().UTC()

		select {
		case s.ch <- evt:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Events() <-chan events.Event {
	return s.ch
}

// Unsubscribe closes the pub/sub connection. The events channel is closed
// once the pump drains.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
