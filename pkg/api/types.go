package api

import "github.com/arsdragonfly/fluxduct/pkg/graph"

// HealthResponse matches the response for GET /v1/health
type HealthResponse struct {
	Status    string `json:"status"` // ok, degraded
	Alive     bool   `json:"alive"`
	Revision  uint64 `json:"revision"`
	Transport string `json:"transport"`
}

// EdgesResponse matches the response for GET /v1/graph/edges
type EdgesResponse struct {
	PortEdges []graph.Edge `json:"port_edges"`
	LinkEdges []graph.Edge `json:"link_edges"`
}

// DebugResponse matches the response for GET /v1/debug
type DebugResponse struct {
	Messages []string `json:"messages"`
}

// AcceptedResponse matches the response for POST /v1/events
type AcceptedResponse struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
}

// ErrorResponse is the body of every non-success response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
