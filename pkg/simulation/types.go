package simulation

import (
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// Scenario is a scripted or generated sequence of graph events plus the
// state expected once they have been applied.
type Scenario struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Seed        int64         `json:"seed" yaml:"seed"` // Deterministic seed for churn
	Pace        time.Duration `json:"pace" yaml:"pace"` // Delay between events
	Steps       []Step        `json:"steps,omitempty" yaml:"steps,omitempty"`
	Churn       *ChurnConfig  `json:"churn,omitempty" yaml:"churn,omitempty"`
	Invariants  []Invariant   `json:"invariants,omitempty" yaml:"invariants,omitempty"`
}

// Step is one scripted event. Payload is encoded as the event payload.
type Step struct {
	Type    events.Type    `json:"type" yaml:"type"`
	Payload map[string]any `json:"payload" yaml:"payload"`
}

// ChurnConfig drives the topology generator. Rates are probabilities in
// [0, 1] applied per generated event.
type ChurnConfig struct {
	Nodes         int     `json:"nodes" yaml:"nodes"`
	PortsPerNode  int     `json:"ports_per_node" yaml:"ports_per_node"`
	Links         int     `json:"links" yaml:"links"`
	Removals      int     `json:"removals" yaml:"removals"`
	Respawn       int     `json:"respawn" yaml:"respawn"`
	DuplicateRate float64 `json:"duplicate_rate" yaml:"duplicate_rate"`
	DanglingRate  float64 `json:"dangling_rate" yaml:"dangling_rate"`
}

// Invariant compares a metric of the final graph state against a value.
type Invariant struct {
	Metric    string  `json:"metric" yaml:"metric"`       // e.g. "live_nodes", "link_edges", "debug_messages"
	Condition string  `json:"condition" yaml:"condition"` // ">", "<", ">=", "<=", "=="
	Value     float64 `json:"value" yaml:"value"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Expected string `json:"expected"` // e.g. ">= 3"
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// Result summarises one scenario run.
type Result struct {
	ScenarioName string            `json:"scenario_name"`
	Duration     time.Duration     `json:"duration"`
	Published    uint64            `json:"published"`
	Errors       uint64            `json:"errors"`
	ByType       map[string]uint64 `json:"by_type"`
	Invariants   []InvariantResult `json:"invariants"`
	Success      bool              `json:"success"`
}
