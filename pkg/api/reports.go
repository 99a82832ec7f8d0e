package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/arsdragonfly/fluxduct/pkg/reports"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reportType := reports.ReportType(r.PathValue("type"))
	params := reports.ReportParams{
		Format:    reports.ReportFormat(q.Get("format")),
		LiveOnly:  q.Get("live") == "true",
		SessionID: q.Get("session"),
	}
	if params.Format == "" {
		params.Format = reports.ReportFormatCSV
	}
	if params.Format != reports.ReportFormatCSV && params.Format != reports.ReportFormatJSON {
		s.writeError(w, r, http.StatusBadRequest, "invalid_format", string(params.Format))
		return
	}

	// A nil interface keeps the events report disabled without a journal.
	var journal reports.EventSource
	if s.journal != nil {
		journal = s.journal
	}
	gen, err := reports.NewReportGenerator(reportType, s.graph.Snapshot, journal)
	switch {
	case errors.Is(err, reports.ErrUnknownType):
		s.writeError(w, r, http.StatusNotFound, "unknown_report", string(reportType))
		return
	case errors.Is(err, reports.ErrJournalRequired):
		s.writeError(w, r, http.StatusNotImplemented, "journal_disabled", "")
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "internal_server_error", "")
		return
	}

	body, err := gen.Generate(r.Context(), params)
	if errors.Is(err, reports.ErrMissingSession) {
		s.writeError(w, r, http.StatusBadRequest, "missing_session", "")
		return
	}
	if err != nil {
		s.logger.Error("failed_to_generate_report", "trace_id", getTraceID(r.Context()), "type", reportType, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal_server_error", "")
		return
	}

	w.Header().Set("Content-Type", params.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s.%s", reportType, params.Format)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("report_write_failed", "trace_id", getTraceID(r.Context()), "error", err)
	}
}
