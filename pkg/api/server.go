package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arsdragonfly/fluxduct/pkg/events"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
	"github.com/arsdragonfly/fluxduct/pkg/store"
	"github.com/arsdragonfly/fluxduct/pkg/transport/memory"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// Interfaces for dependencies to enable mocking

// GraphReader exposes the synchronizer's state to handlers.
type GraphReader interface {
	Snapshot() graph.State
	Revision() uint64
	Alive() bool
}

// Ingestor forwards an event to the running synchronizer.
type Ingestor interface {
	Publish(ctx context.Context, evt events.Event) error
}

// JournalReader lists recorded sessions and reads their events.
type JournalReader interface {
	Sessions(ctx context.Context) ([]store.SessionInfo, error)
	ReadEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]store.Record, error)
}

// Server encapsulates the HTTP API server
type Server struct {
	graph     GraphReader
	ingest    Ingestor
	journal   JournalReader
	stream    http.Handler
	staticFS  fs.FS
	transport string
	server    *http.Server
	logger    *slog.Logger

	// TLS Config
	tlsCertFile string
	tlsKeyFile  string
}

// NewServer creates a new API server instance. Optional collaborators are
// attached with the Set* methods before Start.
func NewServer(g GraphReader, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		graph:  g,
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/graph", s.handleGraph)
	mux.HandleFunc("GET /v1/graph/edges", s.handleEdges)
	mux.HandleFunc("GET /v1/debug", s.handleDebug)
	mux.HandleFunc("GET /v1/nodes/{id}", s.handleNode)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/reports/{type}", s.handleReport)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/events", s.handleEvents)
	mux.HandleFunc("POST /v1/simulate", s.handleSimulate)

	// Static file handler (catch-all for the viewer)
	mux.Handle("/", s.handleStatic())

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := withLogging(s.logger, withRecovery(s.logger, withSecureHeaders(mux)))

	if addr == "" {
		addr = ":8090"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// SetStaticFS sets the filesystem for serving static web assets
func (s *Server) SetStaticFS(fsys fs.FS) {
	s.staticFS = fsys
}

// SetTLS configures the server to use TLS
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// SetIngest enables POST /v1/events and POST /v1/simulate.
func (s *Server) SetIngest(in Ingestor) {
	s.ingest = in
}

// SetJournal enables GET /v1/sessions and the events report.
func (s *Server) SetJournal(j JournalReader) {
	s.journal = j
}

// SetStream sets the handler behind GET /v1/stream.
func (s *Server) SetStream(h http.Handler) {
	s.stream = h
}

// SetTransport records the event source name reported by the health check.
func (s *Server) SetTransport(name string) {
	s.transport = name
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		s.logger.Info("server_starting_tls", "addr", s.server.Addr)
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); err != http.ErrServerClosed {
			return err
		}
	} else {
		s.logger.Info("server_starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Alive:     s.graph.Alive(),
		Revision:  s.graph.Revision(),
		Transport: s.transport,
	}
	if !resp.Alive {
		resp.Status = "degraded"
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.graph.Snapshot())
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	st := s.graph.Snapshot()
	resp := EdgesResponse{PortEdges: st.PortEdges, LinkEdges: st.LinkEdges}
	if r.URL.Query().Get("live") == "true" {
		resp.PortEdges = liveEdges(st.PortEdges)
		resp.LinkEdges = liveEdges(st.LinkEdges)
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func liveEdges(edges []graph.Edge) []graph.Edge {
	out := make([]graph.Edge, 0, len(edges))
	for _, e := range edges {
		if e.Exists {
			out = append(out, e)
		}
	}
	return out
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, DebugResponse{Messages: s.graph.Snapshot().DebugMessages})
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	detail, ok := s.graph.Snapshot().Describe(uint32(id))
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "node_not_found", "")
		return
	}
	s.writeJSON(w, r, http.StatusOK, detail)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, r, http.StatusNotImplemented, "journal_disabled", "")
		return
	}
	sessions, err := s.journal.Sessions(r.Context())
	if err != nil {
		s.logger.Error("failed_to_list_sessions", "trace_id", getTraceID(r.Context()), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal_server_error", "")
		return
	}
	if sessions == nil {
		sessions = []store.SessionInfo{}
	}
	s.writeJSON(w, r, http.StatusOK, sessions)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		s.writeError(w, r, http.StatusNotImplemented, "stream_disabled", "")
		return
	}
	// The stream outlives the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Warn("stream_deadline_not_cleared", "trace_id", getTraceID(r.Context()), "error", err)
	}
	s.stream.ServeHTTP(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		s.writeError(w, r, http.StatusNotImplemented, "ingest_disabled", "")
		return
	}

	var evt events.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&evt); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json_body", err.Error())
		return
	}
	if !events.IsInbound(evt.Type) {
		s.writeError(w, r, http.StatusBadRequest, "unknown_event_type", string(evt.Type))
		return
	}
	if len(evt.Payload) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "missing_payload", "")
		return
	}

	// Sequence and ingest time belong to the transport.
	if err := s.ingest.Publish(r.Context(), events.Event{Type: evt.Type, Payload: evt.Payload}); err != nil {
		if errors.Is(err, memory.ErrNoSubscriber) {
			s.writeError(w, r, http.StatusServiceUnavailable, "no_subscriber", "")
			return
		}
		s.logger.Error("failed_to_ingest_event", "trace_id", getTraceID(r.Context()), "type", evt.Type, "error", err)
		s.writeError(w, r, http.StatusBadGateway, "ingest_failed", err.Error())
		return
	}

	s.writeJSON(w, r, http.StatusAccepted, AcceptedResponse{Type: string(evt.Type), Accepted: true})
}

func (s *Server) handleStatic() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.staticFS == nil {
			http.NotFound(w, r)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")

		// Skip API and debug routes
		if strings.HasPrefix(path, "v1/") || strings.HasPrefix(path, "debug/") {
			http.NotFound(w, r)
			return
		}

		if path != "" {
			if file, err := s.staticFS.Open(path); err == nil {
				defer file.Close()
				if stat, err := file.Stat(); err == nil && !stat.IsDir() {
					switch {
					case strings.HasSuffix(path, ".css"):
						w.Header().Set("Content-Type", "text/css")
					case strings.HasSuffix(path, ".js"):
						w.Header().Set("Content-Type", "application/javascript")
					case strings.HasSuffix(path, ".html"):
						w.Header().Set("Content-Type", "text/html")
					}
					io.Copy(w, file)
					return
				}
			}
		}

		// Fallback to index.html
		if indexFile, err := s.staticFS.Open("index.html"); err == nil {
			defer indexFile.Close()
			w.Header().Set("Content-Type", "text/html")
			io.Copy(w, indexFile)
			return
		}

		http.NotFound(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed_to_encode_response", "trace_id", getTraceID(r.Context()), "path", r.URL.Path, "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.writeJSON(w, r, status, ErrorResponse{Error: code, Message: msg})
}

func withRecovery(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic_recovered", "error", err, "path", r.URL.Path, "trace_id", getTraceID(r.Context()))
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		r = r.WithContext(context.WithValue(r.Context(), traceIDKey, traceID))

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, strconv.Itoa(ww.status)).Inc()
		logger.Info("http_request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func getTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush lets streaming handlers push frames through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		next.ServeHTTP(w, r)
	})
}
