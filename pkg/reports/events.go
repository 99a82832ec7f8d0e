package reports

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
)

// EventReport lists the journaled events of one session in journal order.
type EventReport struct {
	journal EventSource
}

func NewEventReport(journal EventSource) *EventReport {
	return &EventReport{journal: journal}
}

func (r *EventReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	if params.SessionID == "" {
		return nil, ErrMissingSession
	}
	recs, err := r.journal.ReadEvents(ctx, params.SessionID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	t := table{columns: []string{"journal_seq", "event_id", "ts_ingest", "type", "seq", "payload"}}
	for _, rec := range recs {
		t.add(
			strconv.FormatInt(rec.JournalSeq, 10),
			rec.EventID,
			rec.Event.TsIngest.UTC().Format(time.RFC3339Nano),
			string(rec.Event.Type),
			strconv.FormatUint(rec.Event.Seq, 10),
			string(rec.Event.Payload),
		)
	}
	return t.render(params.Format)
}
