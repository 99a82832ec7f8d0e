package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(filepath.Join(dir, "archive"))
	ctx := context.Background()

	// Listing before the root exists is empty, not an error.
	keys, err := store.List(ctx, "")
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected empty listing, got %v, %v", keys, err)
	}

	key := "sessions/2026/01/02/abc.jsonl.gz"
	if err := store.Put(ctx, key, strings.NewReader("hello world")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive", "sessions", "2026", "01", "02", "abc.jsonl.gz")); err != nil {
		t.Errorf("blob not written to disk: %v", err)
	}

	r, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil || string(data) != "hello world" {
		t.Errorf("Get content mismatch: %q, %v", data, err)
	}

	store.Put(ctx, "sessions/2026/01/01/older.jsonl.gz", strings.NewReader("x"))
	store.Put(ctx, "other/readme", strings.NewReader("y"))

	keys, err = store.List(ctx, "sessions/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"sessions/2026/01/01/older.jsonl.gz", key}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "/abs/path", "a/../../b"} {
		if err := store.Put(ctx, key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}
