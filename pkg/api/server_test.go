package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/engine"
	"github.com/arsdragonfly/fluxduct/pkg/events"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
	"github.com/arsdragonfly/fluxduct/pkg/hub"
	"github.com/arsdragonfly/fluxduct/pkg/simulation"
	"github.com/arsdragonfly/fluxduct/pkg/store"
	"github.com/arsdragonfly/fluxduct/pkg/transport/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// micGraph returns a synchronizer holding a mic node with two ports, a
// speaker node and a link between them, plus one removed port.
func micGraph(t *testing.T) *engine.Synchronizer {
	t.Helper()
	s := engine.NewSynchronizer(engine.WithLogger(quietLogger()))
	res := s.Replay([]events.Event{
		events.MustNew(events.TypeDebugMessage, events.MessagePayload{Message: "hello"}),
		events.MustNew(events.TypeAddNode, events.NodePayload{ID: 1, Serial: 101, Name: "mic"}),
		events.MustNew(events.TypeAddNode, events.NodePayload{ID: 2, Serial: 102, Name: "speaker"}),
		events.MustNew(events.TypeAddPort, events.PortPayload{ID: 10, Serial: 201, NodeID: 1, Direction: "out", Name: "capture"}),
		events.MustNew(events.TypeAddPort, events.PortPayload{ID: 11, Serial: 202, NodeID: 1, Direction: "out", Name: "monitor"}),
		events.MustNew(events.TypeAddPort, events.PortPayload{ID: 20, Serial: 203, NodeID: 2, Direction: "in", Name: "playback"}),
		events.MustNew(events.TypeAddLink, events.LinkPayload{ID: 30, Serial: 301, InputPortID: 20, OutputPortID: 10, InputNodeID: 2, OutputNodeID: 1}),
		events.MustNew(events.TypeRemoveID, events.IDPayload{ID: 11}),
	})
	if res.Rejected != 0 {
		t.Fatalf("fixture rejected %d events", res.Rejected)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestSecureHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	secureHandler := withSecureHeaders(handler)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	secureHandler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"Content-Security-Policy":   "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;",
		"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "no-referrer",
		"X-XSS-Protection":          "1; mode=block",
	}

	for key, expected := range expectedHeaders {
		got := w.Header().Get(key)
		if got != expected {
			t.Errorf("Header %s: expected %q, got %q", key, expected, got)
		}
	}
}

func TestWithLogging_TraceID(t *testing.T) {
	var seen string
	h := withLogging(quietLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = getTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen != "trace-123" || w.Header().Get("X-Trace-ID") != "trace-123" {
		t.Errorf("expected propagated trace id, got context %q header %q", seen, w.Header().Get("X-Trace-ID"))
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("expected status to pass through, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if len(w.Header().Get("X-Trace-ID")) != 36 {
		t.Errorf("expected a generated uuid trace id, got %q", w.Header().Get("X-Trace-ID"))
	}
}

func TestWithRecovery(t *testing.T) {
	h := withRecovery(quietLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := do(t, h, "GET", "/", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestServer_ReadEndpoints(t *testing.T) {
	s := NewServer(micGraph(t), "", quietLogger())
	s.SetTransport("http")
	h := s.Handler()

	health := decode[HealthResponse](t, do(t, h, "GET", "/v1/health", nil))
	if health.Status != "ok" || !health.Alive || health.Revision != 8 || health.Transport != "http" {
		t.Errorf("unexpected health %+v", health)
	}

	st := decode[graph.State](t, do(t, h, "GET", "/v1/graph", nil))
	if len(st.Nodes) != 2 || len(st.Ports) != 3 || len(st.Links) != 1 {
		t.Errorf("unexpected graph sizes: %d nodes, %d ports, %d links", len(st.Nodes), len(st.Ports), len(st.Links))
	}

	all := decode[EdgesResponse](t, do(t, h, "GET", "/v1/graph/edges", nil))
	live := decode[EdgesResponse](t, do(t, h, "GET", "/v1/graph/edges?live=true", nil))
	if len(all.PortEdges) != 3 || len(live.PortEdges) != 2 {
		t.Errorf("expected 3 port edges and 2 live ones, got %d and %d", len(all.PortEdges), len(live.PortEdges))
	}
	if len(live.LinkEdges) != 1 || live.LinkEdges[0].Source != 201 || live.LinkEdges[0].Target != 203 {
		t.Errorf("unexpected link edges %+v", live.LinkEdges)
	}

	debug := decode[DebugResponse](t, do(t, h, "GET", "/v1/debug", nil))
	if len(debug.Messages) != 1 || debug.Messages[0] != "hello" {
		t.Errorf("unexpected debug messages %v", debug.Messages)
	}

	detail := decode[graph.NodeDetail](t, do(t, h, "GET", "/v1/nodes/1", nil))
	if detail.Node.Name != "mic" || len(detail.Ports) != 1 || len(detail.Links) != 1 {
		t.Errorf("unexpected node detail %+v", detail)
	}

	tests := []struct {
		path string
		code int
		err  string
	}{
		{"/v1/nodes/99", http.StatusNotFound, "node_not_found"},
		{"/v1/nodes/abc", http.StatusBadRequest, "invalid_id"},
		{"/v1/sessions", http.StatusNotImplemented, "journal_disabled"},
		{"/v1/stream", http.StatusNotImplemented, "stream_disabled"},
	}
	for _, tt := range tests {
		w := do(t, h, "GET", tt.path, nil)
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
			continue
		}
		if got := decode[ErrorResponse](t, w).Error; got != tt.err {
			t.Errorf("%s: expected error %q, got %q", tt.path, tt.err, got)
		}
	}
}

func TestServer_PostEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncer := engine.NewSynchronizer(engine.WithLogger(quietLogger()))
	s := NewServer(syncer, "", quietLogger())
	h := s.Handler()

	node := events.MustNew(events.TypeAddNode, events.NodePayload{ID: 1, Serial: 101, Name: "mic"})

	if w := do(t, h, "POST", "/v1/events", node); w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without an ingestor, got %d", w.Code)
	}

	bus := memory.NewBus(8)
	s.SetIngest(bus)

	w := do(t, h, "POST", "/v1/events", node)
	if w.Code != http.StatusServiceUnavailable || decode[ErrorResponse](t, w).Error != "no_subscriber" {
		t.Errorf("expected 503 no_subscriber before Run, got %d %s", w.Code, w.Body.String())
	}

	go syncer.Run(ctx, bus)
	<-bus.Ready()

	w = do(t, h, "POST", "/v1/events", node)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	if acc := decode[AcceptedResponse](t, w); !acc.Accepted || acc.Type != "add_node" {
		t.Errorf("unexpected response %+v", acc)
	}

	for deadline := time.Now().Add(time.Second); syncer.Revision() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("event never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if health := decode[HealthResponse](t, do(t, h, "GET", "/v1/health", nil)); health.Status != "ok" {
		t.Errorf("expected ok while running, got %+v", health)
	}

	bad := []struct {
		name string
		body any
		err  string
	}{
		{"BadJSON", "{", "invalid_json_body"},
		{"UnknownType", map[string]any{"type": "rename", "payload": map[string]any{}}, "unknown_event_type"},
		{"Outbound", map[string]any{"type": "frontend_ready", "payload": map[string]any{}}, "unknown_event_type"},
		{"MissingPayload", map[string]any{"type": "add_node"}, "missing_payload"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/v1/events", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if got := decode[ErrorResponse](t, w).Error; got != tt.err {
				t.Errorf("expected %q, got %q", tt.err, got)
			}
		})
	}
}

type fakeIngestor struct{ err error }

func (f fakeIngestor) Publish(context.Context, events.Event) error { return f.err }

func TestServer_HealthAfterClose(t *testing.T) {
	syncer := micGraph(t)
	syncer.Close()

	health := decode[HealthResponse](t, do(t, NewServer(syncer, "", quietLogger()).Handler(), "GET", "/v1/health", nil))
	if health.Status != "degraded" || health.Alive {
		t.Errorf("expected degraded after close, got %+v", health)
	}
}

func TestServer_PostEventsUpstreamFailure(t *testing.T) {
	s := NewServer(micGraph(t), "", quietLogger())
	s.SetIngest(fakeIngestor{err: errors.New("redis down")})

	w := do(t, s.Handler(), "POST", "/v1/events", events.MustNew(events.TypeRemoveID, events.IDPayload{ID: 1}))
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

type fakeJournal struct {
	sessions []store.SessionInfo
	records  []store.Record
	err      error
}

func (f fakeJournal) Sessions(context.Context) ([]store.SessionInfo, error) {
	return f.sessions, f.err
}

func (f fakeJournal) ReadEvents(context.Context, string, int64, int) ([]store.Record, error) {
	return f.records, f.err
}

func TestServer_Sessions(t *testing.T) {
	s := NewServer(micGraph(t), "", quietLogger())

	s.SetJournal(fakeJournal{})
	if w := do(t, s.Handler(), "GET", "/v1/sessions", nil); w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %d %q", w.Code, w.Body.String())
	}

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.SetJournal(fakeJournal{sessions: []store.SessionInfo{{ID: "s1", Label: "live", StartedAt: started, Events: 7}}})
	got := decode[[]store.SessionInfo](t, do(t, s.Handler(), "GET", "/v1/sessions", nil))
	if len(got) != 1 || got[0].ID != "s1" || got[0].Events != 7 || !got[0].StartedAt.Equal(started) {
		t.Errorf("unexpected sessions %+v", got)
	}

	s.SetJournal(fakeJournal{err: errors.New("disk")})
	if w := do(t, s.Handler(), "GET", "/v1/sessions", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestServer_Static(t *testing.T) {
	s := NewServer(micGraph(t), "", quietLogger())
	h := s.Handler()

	if w := do(t, h, "GET", "/", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without assets, got %d", w.Code)
	}

	s.SetStaticFS(fstest.MapFS{
		"index.html": {Data: []byte("<html>viewer</html>")},
		"app.js":     {Data: []byte("console.log(1)")},
	})

	tests := []struct {
		path        string
		code        int
		contentType string
		body        string
	}{
		{"/", http.StatusOK, "text/html", "<html>viewer</html>"},
		{"/app.js", http.StatusOK, "application/javascript", "console.log(1)"},
		{"/graph/anything", http.StatusOK, "text/html", "<html>viewer</html>"},
		{"/v1/missing", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		w := do(t, h, "GET", tt.path, nil)
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
			continue
		}
		if tt.contentType != "" && w.Header().Get("Content-Type") != tt.contentType {
			t.Errorf("%s: expected %s, got %s", tt.path, tt.contentType, w.Header().Get("Content-Type"))
		}
		if tt.body != "" && w.Body.String() != tt.body {
			t.Errorf("%s: expected %q, got %q", tt.path, tt.body, w.Body.String())
		}
	}
}

func TestServer_Simulate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncer := engine.NewSynchronizer(engine.WithLogger(quietLogger()))
	bus := memory.NewBus(8)
	go syncer.Run(ctx, bus)
	<-bus.Ready()

	s := NewServer(syncer, "", quietLogger())
	s.SetIngest(bus)
	h := s.Handler()

	if w := do(t, h, "POST", "/v1/simulate", simulation.Scenario{Name: "empty"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty scenario, got %d", w.Code)
	}

	scenario := simulation.Scenario{
		Name:  "churn",
		Seed:  11,
		Churn: &simulation.ChurnConfig{Nodes: 2, PortsPerNode: 2, Links: 1},
		Invariants: []simulation.Invariant{
			{Metric: "live_nodes", Condition: "==", Value: 2},
			{Metric: "live_links", Condition: "==", Value: 1},
		},
	}
	w := do(t, h, "POST", "/v1/simulate", scenario)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	res := decode[simulation.Result](t, w)
	if !res.Success || res.Errors != 0 {
		t.Errorf("expected successful run, got %+v", res)
	}
}

func TestServer_StreamThroughMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.New(time.Hour, quietLogger())
	go h.Run(ctx)

	s := NewServer(micGraph(t), "", quietLogger())
	s.SetStream(h)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/stream")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("expected connected comment through the middleware, got %q (err %v)", line, err)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Error("expected trace id on the stream response")
	}
}

func TestServer_Reports(t *testing.T) {
	s := NewServer(micGraph(t), "", quietLogger())
	h := s.Handler()

	w := do(t, h, "GET", "/v1/reports/ports?live=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="ports.csv"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 || strings.Contains(w.Body.String(), "monitor") {
		t.Errorf("expected header plus two live ports, got:\n%s", w.Body.String())
	}

	w = do(t, h, "GET", "/v1/reports/nodes?format=json", nil)
	nodes := decode[[]map[string]string](t, w)
	if len(nodes) != 2 || nodes[0]["name"] != "mic" {
		t.Errorf("unexpected nodes report %v", nodes)
	}

	tests := []struct {
		path string
		code int
		err  string
	}{
		{"/v1/reports/usage", http.StatusNotFound, "unknown_report"},
		{"/v1/reports/nodes?format=xml", http.StatusBadRequest, "invalid_format"},
		{"/v1/reports/events?session=s1", http.StatusNotImplemented, "journal_disabled"},
	}
	for _, tt := range tests {
		w := do(t, h, "GET", tt.path, nil)
		if w.Code != tt.code || decode[ErrorResponse](t, w).Error != tt.err {
			t.Errorf("%s: expected %d %s, got %d %s", tt.path, tt.code, tt.err, w.Code, w.Body.String())
		}
	}

	s.SetJournal(fakeJournal{records: []store.Record{
		{JournalSeq: 1, EventID: "e1", SessionID: "s1", Event: events.MustNew(events.TypeAddNode, events.NodePayload{ID: 1, Serial: 101})},
	}})
	if w := do(t, h, "GET", "/v1/reports/events", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without session, got %d", w.Code)
	}
	w = do(t, h, "GET", "/v1/reports/events?session=s1", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "add_node") {
		t.Errorf("expected events report, got %d %q", w.Code, w.Body.String())
	}
}
