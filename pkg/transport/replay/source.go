// Package replay plays a journaled session back as an event source.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/engine"
	"github.com/arsdragonfly/fluxduct/pkg/events"
	"github.com/arsdragonfly/fluxduct/pkg/store"
)

const defaultPageSize = 256

// Source streams one session in journal order. Playback starts once the
// consumer emits frontend_ready, so the consumer sees the recording exactly
// as a live producer would have sent it.
type Source struct {
	journal   *store.Store
	sessionID string
	pageSize  int
	pace      time.Duration
	logger    *slog.Logger

	ready      chan struct{}
	readyOnce  sync.Once
	finished   chan struct{}
	finishOnce sync.Once
}

// Option configures a Source.
type Option func(*Source)

// WithPageSize sets how many events are read from the journal per query.
func WithPageSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithPace inserts a delay between events.
func WithPace(d time.Duration) Option {
	return func(s *Source) {
		s.pace = d
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

// NewSource plays back sessionID from journal.
func NewSource(journal *store.Store, sessionID string, opts ...Option) *Source {
	s := &Source{
		journal:   journal,
		sessionID: sessionID,
		pageSize:  defaultPageSize,
		logger:    slog.Default(),
		ready:     make(chan struct{}),
		finished:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "replay_source", "session_id", sessionID)
	return s
}

// Finished is closed when playback has delivered the last event.
func (s *Source) Finished() <-chan struct{} {
	return s.finished
}

func (s *Source) Subscribe(ctx context.Context, types ...events.Type) (engine.Subscription, error) {
	ok, err := s.journal.HasSession(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, s.sessionID)
	}

	sub := &subscription{
		ch:    make(chan events.Event),
		done:  make(chan struct{}),
		types: make(map[events.Type]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	go s.play(sub)
	return sub, nil
}

// Emit accepts the readiness signal and starts playback.
func (s *Source) Emit(ctx context.Context, evt events.Event) error {
	if evt.Type == events.TypeFrontendReady {
		s.readyOnce.Do(func() { close(s.ready) })
	}
	return nil
}

func (s *Source) play(sub *subscription) {
	defer close(sub.ch)

	select {
	case <-s.ready:
	case <-sub.done:
		return
	}

	// The subscription owns playback; ctx for journal reads follows it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var after int64
	delivered := 0
	for {
		recs, err := s.journal.ReadEvents(ctx, s.sessionID, after, s.pageSize)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("replay_read_failed", "error", err)
			}
			return
		}
		if len(recs) == 0 {
			s.logger.Info("replay_finished", "delivered", delivered)
			s.finishOnce.Do(func() { close(s.finished) })
			return
		}
		for _, rec := range recs {
			after = rec.JournalSeq
			if !sub.types[rec.Event.Type] {
				continue
			}
			if s.pace > 0 {
				select {
				case <-time.After(s.pace):
				case <-sub.done:
					return
				}
			}
			select {
			case sub.ch <- rec.Event:
				delivered++
			case <-sub.done:
				return
			}
		}
	}
}

type subscription struct {
	ch    chan events.Event
	done  chan struct{}
	types map[events.Type]bool
	once  sync.Once
}

func (s *subscription) Events() <-chan events.Event {
	return s.ch
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
