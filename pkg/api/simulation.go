package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/arsdragonfly/fluxduct/pkg/graph"
	"github.com/arsdragonfly/fluxduct/pkg/simulation"
)

// handleSimulate runs a scenario against the live synchronizer and returns
// its result once the invariants have been evaluated.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		s.writeError(w, r, http.StatusNotImplemented, "ingest_disabled", "")
		return
	}

	var scenario simulation.Scenario
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&scenario); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json_body", err.Error())
		return
	}
	if len(scenario.Steps) == 0 && scenario.Churn == nil {
		s.writeError(w, r, http.StatusBadRequest, "empty_scenario", "")
		return
	}
	if _, err := simulation.Events(scenario); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_scenario", err.Error())
		return
	}

	s.logger.Info("starting_simulation", "trace_id", getTraceID(r.Context()), "scenario", scenario.Name)

	runner := &simulation.Runner{
		Publisher: s.ingest,
		State: func(context.Context) (graph.State, error) {
			return s.graph.Snapshot(), nil
		},
		Logger: s.logger,
	}
	result, err := runner.Run(r.Context(), scenario)
	if err != nil {
		s.logger.Error("simulation_failed", "trace_id", getTraceID(r.Context()), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "simulation_failed", err.Error())
		return
	}

	s.writeJSON(w, r, http.StatusOK, result)
}
