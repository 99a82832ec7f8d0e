package client

import (
	"fmt"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

// Health is the daemon's liveness report.
type Health struct {
	// Status is "ok" while the synchronizer is subscribed and "degraded"
	// otherwise.
	Status string `json:"status"`
	// Alive mirrors the synchronizer's liveness flag.
	Alive bool `json:"alive"`
	// Revision is the number of events applied so far.
	Revision uint64 `json:"revision"`
	// Transport names the event source the daemon was started with.
	Transport string `json:"transport"`
}

// Edges holds the two edge projections of the graph.
type Edges struct {
	PortEdges []graph.Edge `json:"port_edges"`
	LinkEdges []graph.Edge `json:"link_edges"`
}

// DebugLog is the ordered list of debug messages received so far.
type DebugLog struct {
	Messages []string `json:"messages"`
}

// Session describes one recorded event journal.
type Session struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
	Events    int64     `json:"events"`
}

// Accepted is returned once an event has been queued for the synchronizer.
type Accepted struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
}

// APIError is a non-success response from the daemon.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 503 || e.StatusCode == 502 || e.StatusCode == 504
}
