package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/events"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

var (
	// ErrClosed is returned by Run once the synchronizer has been closed.
	ErrClosed = errors.New("synchronizer closed")
	// ErrInvalidPayload marks an event whose payload is malformed, lacks a
	// required field or carries a value outside the vocabulary.
	ErrInvalidPayload = events.ErrInvalidPayload
)

// Outcome describes what happened to one inbound event.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeIgnored  Outcome = "ignored"
)

// Change is published to listeners after every processed event.
type Change struct {
	Revision uint64                      `json:"revision"`
	Type     events.Type                 `json:"type"`
	Outcome  Outcome                     `json:"outcome"`
	Error    string                      `json:"error,omitempty"`
	Stats    map[graph.Kind]graph.Counts `json:"stats"`
}

// Listener observes processed events. It runs on the apply goroutine after
// the write lock is released and must not block.
type Listener func(Change)

// Synchronizer owns the canonical store and its derived view. It is the
// single writer: events are applied one at a time, each to completion,
// before the next is read.
type Synchronizer struct {
	mu       sync.RWMutex
	store    *graph.Store
	view     *graph.View
	revision uint64

	alive     atomic.Bool
	subMu     sync.Mutex
	sub       Subscription
	closeOnce sync.Once

	logger    *slog.Logger
	recorder  Recorder
	listeners []Listener
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder journals every inbound event before it is applied.
func WithRecorder(r Recorder) Option {
	return func(s *Synchronizer) {
		s.recorder = r
	}
}

// WithListener registers a change listener.
func WithListener(l Listener) Option {
	return func(s *Synchronizer) {
		s.listeners = append(s.listeners, l)
	}
}

// NewSynchronizer creates a live synchronizer over an empty store.
func NewSynchronizer(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:  graph.NewStore(),
		view:   graph.NewView(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "synchronizer")
	s.alive.Store(true)
	return s
}

// Run subscribes to every inbound event type, signals readiness to the
// source exactly once, then applies events until ctx is cancelled or the
// subscription ends. Run closes the synchronizer on return.
func (s *Synchronizer) Run(ctx context.Context, src Source) error {
	if !s.alive.Load() {
		return ErrClosed
	}

	sub, err := src.Subscribe(ctx, events.Inbound...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	// Close reads s.sub under subMu after clearing alive, so either it sees
	// this subscription or Run sees the closed flag here.
	s.subMu.Lock()
	if !s.alive.Load() {
		s.subMu.Unlock()
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Error("unsubscribe_failed", "error", err)
		}
		return ErrClosed
	}
	s.sub = sub
	s.subMu.Unlock()
	defer s.Close()

	if !s.alive.Load() {
		return ErrClosed
	}
	if err := src.Emit(ctx, events.Ready()); err != nil {
		return fmt.Errorf("failed to signal readiness: %w", err)
	}
	s.logger.Info("frontend_ready_emitted")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synchronizer_stopping", "reason", ctx.Err())
			return nil
		case evt, ok := <-sub.Events():
			if !ok {
				s.logger.Info("event_stream_closed")
				return nil
			}
			if s.recorder != nil && s.alive.Load() {
				if err := s.recorder.Record(ctx, evt); err != nil {
					s.logger.Error("record_failed", "type", evt.Type, "error", err)
				}
			}
			// Rejections are diagnosed inside Apply and never stop the loop.
			_ = s.Apply(evt)
		}
	}
}

// Close stops the synchronizer. Events applied afterwards are ignored. The
// subscription, if any, is released once.
func (s *Synchronizer) Close() {
	s.alive.Store(false)
	s.closeOnce.Do(func() {
		s.subMu.Lock()
		sub := s.sub
		s.subMu.Unlock()
		if sub == nil {
			return
		}
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Error("unsubscribe_failed", "error", err)
		}
	})
}

// Apply applies a single event. A rejected event leaves the store unchanged
// and its error is returned after being logged; callers may ignore it.
func (s *Synchronizer) Apply(evt events.Event) error {
	if !s.alive.Load() {
		FluxductEventsTotal.WithLabelValues(string(evt.Type), string(OutcomeIgnored)).Inc()
		return nil
	}

	start := time.Now()
	s.mu.Lock()
	err := s.applyLocked(evt)
	if err == nil {
		s.view.Refresh(s.store)
		s.revision++
	}
	change := Change{Revision: s.revision, Type: evt.Type, Outcome: OutcomeApplied, Stats: s.store.Stats()}
	s.mu.Unlock()
	FluxductApplySeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		change.Outcome = OutcomeRejected
		change.Error = err.Error()
		FluxductRejectionsTotal.WithLabelValues(string(evt.Type), rejectionReason(err)).Inc()
		s.logger.Warn("event_rejected", "type", evt.Type, "seq", evt.Seq, "reason", rejectionReason(err), "error", err)
	}
	FluxductEventsTotal.WithLabelValues(string(evt.Type), string(change.Outcome)).Inc()
	observeStats(change.Stats)

	for _, l := range s.listeners {
		l(change)
	}
	return err
}

func (s *Synchronizer) applyLocked(evt events.Event) error {
	switch evt.Type {
	case events.TypeDebugMessage:
		var p events.MessagePayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		s.store.AppendDebugMessage(p.Message)
		return nil

	case events.TypeAddNode:
		var p events.NodePayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		return s.store.AddNode(graph.Node{ID: p.ID, Serial: p.Serial, Name: p.Name})

	case events.TypeAddPort:
		var p events.PortPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		dir := graph.Direction(p.Direction)
		if !dir.Valid() {
			return fmt.Errorf("%w: port %d has direction %q", ErrInvalidPayload, p.ID, p.Direction)
		}
		return s.store.AddPort(graph.Port{ID: p.ID, Serial: p.Serial, NodeID: p.NodeID, Direction: dir, Name: p.Name})

	case events.TypeAddLink:
		var p events.LinkPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		return s.store.AddLink(graph.Link{
			ID:           p.ID,
			Serial:       p.Serial,
			InputPortID:  p.InputPortID,
			OutputPortID: p.OutputPortID,
			InputNodeID:  p.InputNodeID,
			OutputNodeID: p.OutputNodeID,
		})

	case events.TypeRemoveID:
		var p events.IDPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		if n := s.store.RemoveID(p.ID); n == 0 {
			s.logger.Debug("remove_unmatched", "id", p.ID)
		}
		return nil
	}

	return fmt.Errorf("%w: %q", events.ErrUnknownType, evt.Type)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, graph.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, graph.ErrDanglingReference):
		return "dangling_reference"
	case errors.Is(err, events.ErrUnknownType):
		return "unknown_type"
	default:
		return "invalid_payload"
	}
}

// ReplayResult counts the outcome of a replay.
type ReplayResult struct {
	Applied  int `json:"applied"`
	Rejected int `json:"rejected"`
}

// Replay applies a recorded sequence of events in order. Rejections are
// counted, not returned, matching live delivery.
func (s *Synchronizer) Replay(evts []events.Event) ReplayResult {
	var res ReplayResult
	for _, evt := range evts {
		if err := s.Apply(evt); err != nil {
			res.Rejected++
			continue
		}
		res.Applied++
	}
	return res
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() graph.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return graph.Capture(s.store, s.view)
}

// Read calls fn with the live store and view under the read lock. fn may
// hold on to the view's pointers, which stay valid across updates, but must
// not mutate projected fields. Consumer-owned fields such as positions and
// edge annotations are copied by Snapshot, so a consumer writing them must
// not run concurrently with Snapshot.
func (s *Synchronizer) Read(fn func(*graph.Store, *graph.View)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.store, s.view)
}

// Revision returns the number of events applied so far.
func (s *Synchronizer) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Alive reports whether the synchronizer still accepts events.
func (s *Synchronizer) Alive() bool {
	return s.alive.Load()
}
