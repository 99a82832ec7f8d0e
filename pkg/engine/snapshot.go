package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/blob"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

// SnapshotPrefix is the blob key prefix every snapshot is stored under.
const SnapshotPrefix = "snapshots/"

// ErrNoSnapshot is returned by LoadLatestSnapshot on an empty archive.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot is a persisted copy of the graph state at one revision.
type Snapshot struct {
	Revision uint64      `json:"revision"`
	TakenAt  time.Time   `json:"taken_at"`
	State    graph.State `json:"state"`
}

// StateSource is the part of the synchronizer a snapshot reads.
type StateSource interface {
	Snapshot() graph.State
	Revision() uint64
}

// SnapshotWorker periodically persists the graph state to a blob store.
// Ticks that see no new revision are skipped.
type SnapshotWorker struct {
	source   StateSource
	archive  blob.Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	lastRevision uint64
	taken        bool
}

func NewSnapshotWorker(src StateSource, archive blob.Store, interval time.Duration, logger *slog.Logger) *SnapshotWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWorker{
		source:   src,
		archive:  archive,
		interval: interval,
		logger:   logger.With("component", "snapshot"),
		now:      time.Now,
	}
}

// Run takes a snapshot on every tick, and a final one when ctx is done.
func (w *SnapshotWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("snapshot_worker_started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			// The parent context is gone; give the last write its own deadline.
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.tick(final)
			cancel()
			w.logger.Info("snapshot_worker_stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *SnapshotWorker) tick(ctx context.Context) {
	key, err := w.TakeSnapshot(ctx)
	if err != nil {
		w.logger.Error("snapshot_failed", "error", err)
		return
	}
	if key != "" {
		w.logger.Info("snapshot_created", "key", key, "revision", w.lastRevision)
	}
}

// TakeSnapshot writes the current state and returns its key, or "" when the
// revision has not moved since the previous snapshot.
func (w *SnapshotWorker) TakeSnapshot(ctx context.Context) (string, error) {
	rev := w.source.Revision()
	if w.taken && rev == w.lastRevision {
		return "", nil
	}

	// State and revision are read separately; the state may be newer than
	// rev, never older.
	snap := Snapshot{Revision: rev, TakenAt: w.now().UTC(), State: w.source.Snapshot()}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(snap); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to compress snapshot: %w", err)
	}

	key := SnapshotKey(snap)
	if err := w.archive.Put(ctx, key, &buf); err != nil {
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	w.lastRevision = rev
	w.taken = true
	return key, nil
}

// SnapshotKey names a snapshot so that lexical order is chronological:
// snapshots/YYYY/MM/DD/<unix-nanos>-r<revision>.json.gz.
func SnapshotKey(s Snapshot) string {
	y, m, d := s.TakenAt.Date()
	return fmt.Sprintf("%s%04d/%02d/%02d/%019d-r%d.json.gz", SnapshotPrefix, y, m, d, s.TakenAt.UnixNano(), s.Revision)
}

// LoadSnapshot reads the snapshot stored under key.
func LoadSnapshot(ctx context.Context, archive blob.Store, key string) (Snapshot, error) {
	r, err := archive.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to open snapshot %s: %w", key, err)
	}
	defer gz.Close()

	var snap Snapshot
	if err := json.NewDecoder(gz).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

// LoadLatestSnapshot returns the most recent snapshot in archive.
func LoadLatestSnapshot(ctx context.Context, archive blob.Store) (Snapshot, string, error) {
	keys, err := archive.List(ctx, SnapshotPrefix)
	if err != nil {
		return Snapshot{}, "", err
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if strings.HasSuffix(keys[i], ".json.gz") {
			snap, err := LoadSnapshot(ctx, archive, keys[i])
			return snap, keys[i], err
		}
	}
	return Snapshot{}, "", ErrNoSnapshot
}
