package reports

import (
	"context"
	"errors"
	"io"

	"github.com/arsdragonfly/fluxduct/pkg/graph"
	"github.com/arsdragonfly/fluxduct/pkg/store"
)

type ReportType string

const (
	ReportTypeNodes  ReportType = "nodes"
	ReportTypePorts  ReportType = "ports"
	ReportTypeLinks  ReportType = "links"
	ReportTypeEdges  ReportType = "edges"
	ReportTypeEvents ReportType = "events"
)

type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatJSON ReportFormat = "json"
)

var (
	ErrUnknownType     = errors.New("unknown report type")
	ErrUnknownFormat   = errors.New("unknown report format")
	ErrJournalRequired = errors.New("report requires the journal")
	ErrMissingSession  = errors.New("report requires a session")
)

// ContentType returns the MIME type of reports in format f.
func (f ReportFormat) ContentType() string {
	if f == ReportFormatJSON {
		return "application/json"
	}
	return "text/csv"
}

type ReportParams struct {
	Format    ReportFormat
	LiveOnly  bool   // graph reports: skip removed entities
	SessionID string // events report
}

// StateFunc returns the graph state a report is built from.
type StateFunc func() graph.State

// EventSource is the journal access the events report needs.
type EventSource interface {
	ReadEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]store.Record, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
