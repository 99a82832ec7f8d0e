package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arsdragonfly/fluxduct/pkg/events"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

// Publisher delivers one event to a running synchronizer.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt events.Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt events.Event) error {
	return f(ctx, evt)
}

// StateFunc fetches the synchronizer's current state.
type StateFunc func(ctx context.Context) (graph.State, error)

// Runner publishes scenarios and checks their invariants.
type Runner struct {
	Publisher Publisher
	State     StateFunc     // optional; invariants are skipped without it
	Settle    time.Duration // how long to wait for invariants to hold
	Logger    *slog.Logger
}

// LoadScenario reads a scenario from a YAML or JSON file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario file: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	return s, nil
}

// Events expands a scenario into the events it publishes: scripted steps
// first, then generated churn.
func Events(s Scenario) ([]events.Event, error) {
	var out []events.Event
	for i, step := range s.Steps {
		if !events.IsInbound(step.Type) {
			return nil, fmt.Errorf("step %d: %w: %q", i, events.ErrUnknownType, step.Type)
		}
		payload := step.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		evt, err := events.New(step.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, evt)
	}
	if s.Churn != nil {
		seed := s.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		out = append(out, Generate(*s.Churn, seed)...)
	}
	return out, nil
}

// Run publishes every event of s in order, then evaluates the invariants
// against the state reported by r.State.
func (r *Runner) Run(ctx context.Context, s Scenario) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("scenario", s.Name)

	evts, err := Events(s)
	if err != nil {
		return Result{}, err
	}

	res := Result{ScenarioName: s.Name, ByType: make(map[string]uint64)}
	start := time.Now()
	logger.Info("simulation_starting", "events", len(evts), "seed", s.Seed)

	for _, evt := range evts {
		if s.Pace > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(s.Pace):
			}
		}
		if err := r.Publisher.Publish(ctx, evt); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Errors++
			logger.Warn("publish_failed", "type", evt.Type, "error", err)
			continue
		}
		res.Published++
		res.ByType[string(evt.Type)]++
	}
	res.Duration = time.Since(start)

	if r.State != nil && len(s.Invariants) > 0 {
		res.Invariants = r.settle(ctx, s.Invariants, logger)
	}

	res.Success = res.Errors == 0
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}
	logger.Info("simulation_finished", "published", res.Published, "errors", res.Errors, "success", res.Success)
	return res, nil
}

// settle re-evaluates the invariants until they all pass or the settle
// window closes. Events are applied asynchronously after Publish returns.
func (r *Runner) settle(ctx context.Context, invariants []Invariant, logger *slog.Logger) []InvariantResult {
	window := r.Settle
	if window <= 0 {
		window = 2 * time.Second
	}
	deadline := time.Now().Add(window)

	var results []InvariantResult
	for {
		st, err := r.State(ctx)
		if err != nil {
			logger.Warn("state_fetch_failed", "error", err)
		} else {
			results = EvaluateInvariants(st, invariants)
			if allPassed(results) {
				return results
			}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			if results == nil {
				for _, inv := range invariants {
					results = append(results, InvariantResult{Metric: inv.Metric, Expected: expected(inv), Actual: "N/A"})
				}
			}
			return results
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func allPassed(results []InvariantResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func expected(inv Invariant) string {
	return fmt.Sprintf("%s %g", inv.Condition, inv.Value)
}

// Metric returns the named metric of st.
func Metric(st graph.State, name string) (float64, bool) {
	live := func(k graph.Kind) float64 { return float64(st.Stats[k].Live) }
	total := func(k graph.Kind) float64 { return float64(st.Stats[k].Total) }

	switch name {
	case "nodes":
		return total(graph.KindNode), true
	case "ports":
		return total(graph.KindPort), true
	case "links":
		return total(graph.KindLink), true
	case "live_nodes":
		return live(graph.KindNode), true
	case "live_ports":
		return live(graph.KindPort), true
	case "live_links":
		return live(graph.KindLink), true
	case "debug_messages":
		return float64(len(st.DebugMessages)), true
	case "port_edges":
		return float64(len(st.PortEdges)), true
	case "link_edges":
		return float64(len(st.LinkEdges)), true
	case "vertices":
		return float64(len(st.Vertices)), true
	}
	return 0, false
}

// EvaluateInvariants checks each invariant against st.
func EvaluateInvariants(st graph.State, invariants []Invariant) []InvariantResult {
	results := make([]InvariantResult, 0, len(invariants))
	for _, inv := range invariants {
		actual, ok := Metric(st, inv.Metric)
		if !ok {
			results = append(results, InvariantResult{Metric: inv.Metric, Expected: expected(inv), Actual: "N/A"})
			continue
		}

		var passed bool
		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		results = append(results, InvariantResult{
			Metric:   inv.Metric,
			Expected: expected(inv),
			Actual:   fmt.Sprintf("%g", actual),
			Passed:   passed,
		})
	}
	return results
}
