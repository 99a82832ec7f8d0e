package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/blob"
)

// PruneWorker periodically drops journal sessions older than the retention
// window. The active session is never pruned. With an archive configured,
// expired sessions are exported to it first and nothing is deleted unless
// every export succeeded.
type PruneWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	keep      string
	logger    *slog.Logger
	archive   blob.Store
	now       func() time.Time
}

func NewPruneWorker(st *Store, retention, interval time.Duration, keep string, logger *slog.Logger) *PruneWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneWorker{
		store:     st,
		retention: retention,
		interval:  interval,
		keep:      keep,
		logger:    logger.With("component", "journal_prune"),
		now:       time.Now,
	}
}

// WithArchive makes the worker export sessions to archive before deleting
// them.
func (w *PruneWorker) WithArchive(archive blob.Store) *PruneWorker {
	w.archive = archive
	return w
}

// Run prunes once immediately and then on every tick until ctx is done. A
// zero retention disables pruning.
func (w *PruneWorker) Run(ctx context.Context) {
	if w.retention <= 0 {
		w.logger.Info("prune_disabled")
		return
	}

	w.logger.Info("prune_worker_starting", "interval", w.interval, "retention", w.retention)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Prune(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("prune_worker_stopping")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune removes expired sessions and returns how many were dropped.
func (w *PruneWorker) Prune(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.retention)
	if w.archive != nil {
		archived, err := w.store.archiveExpired(ctx, w.archive, cutoff, w.keep)
		if err != nil {
			w.logger.Error("archive_failed", "error", err)
			return 0
		}
		if archived > 0 {
			w.logger.Info("sessions_archived", "count", archived)
		}
	}
	n, err := w.store.DeleteSessionsBefore(ctx, cutoff, w.keep)
	if err != nil {
		w.logger.Error("prune_failed", "error", err)
		return 0
	}
	if n > 0 {
		w.logger.Info("sessions_pruned", "count", n, "cutoff", cutoff)
	}
	return n
}
