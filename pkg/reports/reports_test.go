package reports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/arsdragonfly/fluxduct/pkg/events"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
	"github.com/arsdragonfly/fluxduct/pkg/store"
)

func fixture() graph.State {
	return graph.State{
		Nodes: []graph.Node{
			{ID: 1, Serial: 101, Name: "mic", Exists: true},
			{ID: 2, Serial: 102, Name: "old speaker", Exists: false},
		},
		Ports: []graph.Port{
			{ID: 10, Serial: 201, NodeID: 1, NodeSerial: 101, Direction: graph.DirectionOut, Name: "capture_FL", Exists: true},
		},
		PortEdges: []graph.Edge{
			{EdgeFields: graph.EdgeFields{Source: 101, Target: 201, Exists: true}},
			{EdgeFields: graph.EdgeFields{Source: 102, Target: 202, Exists: false}},
		},
		LinkEdges: []graph.Edge{
			{EdgeFields: graph.EdgeFields{Source: 201, Target: 203, Exists: true}},
		},
	}
}

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	return records
}

func TestGraphReport_CSV(t *testing.T) {
	state := func() graph.State { return fixture() }

	tests := []struct {
		name   string
		kind   ReportType
		params ReportParams
		want   [][]string
	}{
		{
			name: "AllNodes",
			kind: ReportTypeNodes,
			want: [][]string{
				{"id", "serial", "name", "exists"},
				{"1", "101", "mic", "true"},
				{"2", "102", "old speaker", "false"},
			},
		},
		{
			name:   "LiveNodes",
			kind:   ReportTypeNodes,
			params: ReportParams{LiveOnly: true},
			want: [][]string{
				{"id", "serial", "name", "exists"},
				{"1", "101", "mic", "true"},
			},
		},
		{
			name: "Ports",
			kind: ReportTypePorts,
			want: [][]string{
				{"id", "serial", "node_id", "node_serial", "direction", "name", "exists"},
				{"10", "201", "1", "101", "out", "capture_FL", "true"},
			},
		},
		{
			name: "EmptyLinks",
			kind: ReportTypeLinks,
			want: [][]string{
				{"id", "serial", "output_port_serial", "input_port_serial", "output_node_serial", "input_node_serial", "exists"},
			},
		},
		{
			name:   "LiveEdges",
			kind:   ReportTypeEdges,
			params: ReportParams{Format: ReportFormatCSV, LiveOnly: true},
			want: [][]string{
				{"kind", "source", "target", "exists"},
				{"port", "101", "201", "true"},
				{"link", "201", "203", "true"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := NewReportGenerator(tt.kind, state, nil)
			if err != nil {
				t.Fatalf("NewReportGenerator failed: %v", err)
			}
			r, err := gen.Generate(context.Background(), tt.params)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, readCSV(t, r)); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGraphReport_JSON(t *testing.T) {
	gen := NewGraphReport(ReportTypeNodes, func() graph.State { return fixture() })
	r, err := gen.Generate(context.Background(), ReportParams{Format: ReportFormatJSON, LiveOnly: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var got []map[string]string
	if err := json.NewDecoder(r).Decode(&got); err != nil {
		t.Fatalf("failed to decode JSON report: %v", err)
	}
	want := []map[string]string{{"id": "1", "serial": "101", "name": "mic", "exists": "true"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	// An empty report is an empty array, not null.
	empty := NewGraphReport(ReportTypeLinks, func() graph.State { return graph.State{} })
	r, _ = empty.Generate(context.Background(), ReportParams{Format: ReportFormatJSON})
	data, _ := io.ReadAll(r)
	if string(data) != "[]\n" {
		t.Errorf("expected empty array, got %q", data)
	}
}

type mockJournal struct {
	records map[string][]store.Record
}

func (m *mockJournal) ReadEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]store.Record, error) {
	return m.records[sessionID], nil
}

func TestEventReport(t *testing.T) {
	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	evt := events.MustNew(events.TypeAddNode, events.NodePayload{ID: 1, Serial: 101, Name: "mic"})
	evt.Seq = 4
	evt.TsIngest = ts

	journal := &mockJournal{records: map[string][]store.Record{
		"s-1": {{JournalSeq: 1, EventID: "evt1", SessionID: "s-1", Event: evt}},
	}}

	gen, err := NewReportGenerator(ReportTypeEvents, nil, journal)
	if err != nil {
		t.Fatalf("NewReportGenerator failed: %v", err)
	}
	r, err := gen.Generate(context.Background(), ReportParams{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	want := [][]string{
		{"journal_seq", "event_id", "ts_ingest", "type", "seq", "payload"},
		{"1", "evt1", "2026-05-06T07:08:09Z", "add_node", "4", string(evt.Payload)},
	}
	if diff := cmp.Diff(want, readCSV(t, r)); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	if _, err := gen.Generate(context.Background(), ReportParams{}); !errors.Is(err, ErrMissingSession) {
		t.Errorf("expected ErrMissingSession, got %v", err)
	}
}

func TestNewReportGenerator_Errors(t *testing.T) {
	if _, err := NewReportGenerator("usage", nil, nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if _, err := NewReportGenerator(ReportTypeEvents, nil, nil); !errors.Is(err, ErrJournalRequired) {
		t.Errorf("expected ErrJournalRequired, got %v", err)
	}

	gen := NewGraphReport(ReportTypeNodes, func() graph.State { return fixture() })
	if _, err := gen.Generate(context.Background(), ReportParams{Format: "xml"}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}
