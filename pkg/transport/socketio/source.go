// Package socketio receives graph events from a Socket.IO endpoint. Each
// inbound event type is its own Socket.IO event name and carries the payload
// object as its first argument.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/arsdragonfly/fluxduct/pkg/engine"
	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// ErrNotConnected is returned when the socket is not connected.
var ErrNotConnected = errors.New("socket.io client is not connected")

// Config describes the endpoint to dial.
type Config struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
	Buffer             int
}

// Source implements engine.Source over a connected Socket.IO client.
type Source struct {
	io     *socket.Socket
	buffer int
	logger *slog.Logger
	seq    atomic.Uint64

	mu       sync.Mutex
	active   *subscription
	handlers map[events.Type]bool
}

// listenerRegistry is the part of the client event emitter used to install
// inbound handlers.
type listenerRegistry interface {
	On(types.EventName, ...types.Listener) error
}

// Dial connects to the endpoint and waits for the connect event.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "socketio_source", "url", cfg.URL)

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	if parsed.Path != "" {
		opts.SetPath(parsed.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("tls_verification_disabled")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(args ...any) {
		err := errors.New("connect_error")
		if len(args) > 0 {
			if e, ok := args[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	logger.Info("socketio_connected", "sid", io.Id())
	return &Source{io: io, buffer: cfg.Buffer, logger: logger}, nil
}

// Subscribe makes a new subscription the receiver of the requested types and
// ends the previous one. Handlers run on the client's event goroutine, so
// delivery follows receive order.
func (s *Source) Subscribe(ctx context.Context, kinds ...events.Type) (engine.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.io.Connected() {
		return nil, ErrNotConnected
	}
	sub := newSubscription(s.buffer, s.logger, &s.seq)
	if err := s.register(s.io, kinds); err != nil {
		return nil, err
	}
	s.attach(sub)
	return sub, nil
}

// register installs one handler per event name for the lifetime of the
// client. Handlers forward to whichever subscription is active.
func (s *Source) register(on listenerRegistry, kinds []events.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[events.Type]bool)
	}
	for _, t := range kinds {
		if s.handlers[t] {
			continue
		}
		if err := on.On(eventName(t), func(args ...any) { s.dispatch(t, args...) }); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", t, err)
		}
		s.handlers[t] = true
	}
	return nil
}

func (s *Source) attach(sub *subscription) {
	sub.release = func() {
		s.mu.Lock()
		if s.active == sub {
			s.active = nil
		}
		s.mu.Unlock()
	}
	s.mu.Lock()
	prev := s.active
	s.active = sub
	s.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}
}

func (s *Source) dispatch(t events.Type, args ...any) {
	s.mu.Lock()
	sub := s.active
	s.mu.Unlock()
	if sub == nil {
		s.logger.Debug("event_without_subscriber", "type", t)
		return
	}
	sub.handle(t, args...)
}

// Emit sends an outbound event with its payload object.
func (s *Source) Emit(ctx context.Context, evt events.Event) error {
	if !s.io.Connected() {
		return ErrNotConnected
	}
	var payload map[string]any
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", evt.Type, err)
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	s.io.Emit(string(evt.Type), payload)
	return nil
}

// Close disconnects the client.
func (s *Source) Close() error {
	s.logger.Info("socketio_disconnecting", "sid", s.io.Id())
	s.io.Disconnect()
	return nil
}

func eventName(t events.Type) types.EventName {
	return types.EventName(string(t))
}

type subscription struct {
	ch      chan events.Event
	done    chan struct{}
	sendMu  sync.Mutex
	once    sync.Once
	seq     *atomic.Uint64
	logger  *slog.Logger
	release func()
}

func newSubscription(buffer int, logger *slog.Logger, seq *atomic.Uint64) *subscription {
	if buffer < 0 {
		buffer = 0
	}
	return &subscription{
		ch:     make(chan events.Event, buffer),
		done:   make(chan struct{}),
		seq:    seq,
		logger: logger,
	}
}

// handle turns handler arguments into an envelope and delivers it. It blocks
// while the consumer is behind, which holds back later events in order.
func (s *subscription) handle(t events.Type, args ...any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}

	payload, err := encodeArgs(args)
	if err != nil {
		s.logger.Warn("payload_malformed", "type", t, "error", err)
		return
	}
	evt := events.Event{Type: t, Payload: payload, Seq: s.seq.Add(1), TsIngest: time.Now().UTC()}
	select {
	case s.ch <- evt:
	case <-s.done:
	}
}

// encodeArgs re-encodes the first handler argument as the raw payload.
func encodeArgs(args []any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, errors.New("missing payload argument")
	}
	switch v := args[0].(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	case string:
		if json.Valid([]byte(v)) {
			return json.RawMessage(v), nil
		}
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *subscription) Events() <-chan events.Event {
	return s.ch
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
		close(s.done)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
	return nil
}
