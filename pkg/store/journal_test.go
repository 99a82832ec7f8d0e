package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// setupTestStore creates a temporary journal for testing
func setupTestStore(t *testing.T) (*Store, string, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "fluxduct-store-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "journal.db")
	store, err := NewStore(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, dbPath, cleanup
}

func TestNewStore(t *testing.T) {
	store, dbPath, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}

	for _, table := range []string{"events", "sessions"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("failed to find table %s: %v", table, err)
		}
	}

	var index string
	err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_events_session'").Scan(&index)
	if err != nil {
		t.Errorf("idx_events_session not found: %v", err)
	}
}

func TestNewStore_ReopenKeepsJournal(t *testing.T) {
	store, dbPath, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	sess, err := store.BeginSession(ctx, "first")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	if err := sess.Record(ctx, events.MustNew(events.TypeAddNode, events.NodePayload{ID: 1, Serial: 101})); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	store.Close()

	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	recs, err := reopened.ReadEvents(ctx, sess.ID(), 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 event after reopen, got %d", len(recs))
	}
}

func TestJournal_RecordAndRead(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sess, err := store.BeginSession(ctx, "capture")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	other, _ := store.BeginSession(ctx, "other")

	seeded := []events.Event{
		events.MustNew(events.TypeAddNode, events.NodePayload{ID: 1, Serial: 101, Name: "mic"}),
		events.MustNew(events.TypeAddPort, events.PortPayload{ID: 10, Serial: 201, NodeID: 1, Direction: "out"}),
		events.MustNew(events.TypeRemoveID, events.IDPayload{ID: 1}),
	}
	for i, evt := range seeded {
		evt.Seq = uint64(i + 1)
		if err := sess.Record(ctx, evt); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := other.Record(ctx, events.MustNew(events.TypeDebugMessage, events.MessagePayload{Message: "x"})); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// 1. Read everything for the session
	recs, err := store.ReadEvents(ctx, sess.ID(), 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.Event.Type != seeded[i].Type {
			t.Errorf("event %d: expected %s, got %s", i, seeded[i].Type, rec.Event.Type)
		}
		if rec.Event.Seq != uint64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, rec.Event.Seq)
		}
		if rec.EventID == "" || rec.SessionID != sess.ID() {
			t.Errorf("event %d: bad identifiers %+v", i, rec)
		}
	}
	var port events.PortPayload
	if err := recs[1].Event.Decode(&port); err != nil || port.Serial != 201 {
		t.Errorf("payload did not round-trip: %+v (err %v)", port, err)
	}

	// 2. Paged read
	page, err := store.ReadEvents(ctx, sess.ID(), recs[0].JournalSeq, 1)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(page) != 1 || page[0].JournalSeq != recs[1].JournalSeq {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestJournal_Sessions(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.LatestSession(ctx); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on empty journal, got %v", err)
	}

	first, _ := store.BeginSession(ctx, "first")
	second, _ := store.BeginSession(ctx, "second")
	second.Record(ctx, events.MustNew(events.TypeDebugMessage, events.MessagePayload{Message: "x"}))

	latest, err := store.LatestSession(ctx)
	if err != nil {
		t.Fatalf("LatestSession failed: %v", err)
	}
	if latest != second.ID() {
		t.Errorf("expected latest session %s, got %s", second.ID(), latest)
	}

	infos, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].ID != second.ID() || infos[0].Events != 1 || infos[1].Events != 0 {
		t.Errorf("unexpected session list %+v", infos)
	}

	ok, err := store.HasSession(ctx, first.ID())
	if err != nil || !ok {
		t.Errorf("expected first session to exist (err %v)", err)
	}
	ok, _ = store.HasSession(ctx, "missing")
	if ok {
		t.Error("expected missing session to be absent")
	}
}

func TestPruneWorker(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	old, _ := store.BeginSession(ctx, "old")
	old.Record(ctx, events.MustNew(events.TypeAddNode, events.NodePayload{ID: 1, Serial: 101}))
	active, _ := store.BeginSession(ctx, "active")

	w := NewPruneWorker(store, time.Hour, time.Minute, active.ID(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if n := w.Prune(ctx); n != 1 {
		t.Errorf("expected 1 session pruned, got %d", n)
	}
	if ok, _ := store.HasSession(ctx, old.ID()); ok {
		t.Error("expected old session to be pruned")
	}
	if ok, _ := store.HasSession(ctx, active.ID()); !ok {
		t.Error("expected active session to survive")
	}
	recs, _ := store.ReadEvents(ctx, old.ID(), 0, 0)
	if len(recs) != 0 {
		t.Errorf("expected pruned session events to be gone, got %d", len(recs))
	}

	// Disabled worker returns immediately.
	done := make(chan struct{})
	go func() {
		NewPruneWorker(store, 0, time.Minute, "", nil).Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled prune worker did not return")
	}
}
