package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// Publisher is the producer side of the Redis transport, used by the
// simulator and by tests.
type Publisher struct {
	client  *redis.Client
	events  string
	control string
}

func NewPublisher(client *redis.Client, eventsCh, controlCh string) *Publisher {
	if eventsCh == "" {
		eventsCh = DefaultEventsChannel
	}
	if controlCh == "" {
		controlCh = DefaultControlChannel
	}
	return &Publisher{client: client, events: eventsCh, control: controlCh}
}

// Publish sends one envelope on the events channel.
func (p *Publisher) Publish(ctx context.Context, evt events.Event) error {
	data, err := json.Marshal(events.Event{Type: evt.Type, Payload: evt.Payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", evt.Type, err)
	}
	if err := p.client.Publish(ctx, p.events, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Type, err)
	}
	return nil
}

// AwaitReady subscribes to the control channel and returns a channel that is
// closed when frontend_ready arrives. The subscription is confirmed before
// AwaitReady returns.
func (p *Publisher) AwaitReady(ctx context.Context) (<-chan struct{}, error) {
	ps := p.client.Subscribe(ctx, p.control)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.control, err)
	}

	ready := make(chan struct{})
	go func() {
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt events.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				if evt.Type == events.TypeFrontendReady {
					close(ready)
					return
				}
			}
		}
	}()
	return ready, nil
}
