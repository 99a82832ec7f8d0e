package store

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/arsdragonfly/fluxduct/pkg/blob"
)

// ArchiveSuffix marks blob keys holding an exported session.
const ArchiveSuffix = ".jsonl.gz"

// ArchiveKey is the blob key a session is exported under:
// sessions/YYYY/MM/DD/<id>.jsonl.gz, dated by the session start.
func ArchiveKey(info SessionInfo) string {
	y, m, d := info.StartedAt.UTC().Date()
	return fmt.Sprintf("sessions/%04d/%02d/%02d/%s%s", y, m, d, info.ID, ArchiveSuffix)
}

// ExpiredSessions lists sessions started before cutoff, except keep.
func (s *Store) ExpiredSessions(ctx context.Context, cutoff time.Time, keep string) ([]SessionInfo, error) {
	all, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []SessionInfo
	for _, info := range all {
		if info.ID != keep && info.StartedAt.Before(cutoff) {
			out = append(out, info)
		}
	}
	return out, nil
}

// ExportSession writes the events of a session to w as gzipped JSON lines,
// one Record per line, and returns how many were written.
func (s *Store) ExportSession(ctx context.Context, id string, w io.Writer) (int, error) {
	recs, err := s.ReadEvents(ctx, id, 0, 0)
	if err != nil {
		return 0, err
	}

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			gz.Close()
			return 0, fmt.Errorf("failed to encode event %s: %w", rec.EventID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return len(recs), nil
}

// ImportSession reads an export produced by ExportSession into a new
// session, preserving event order.
func (s *Store) ImportSession(ctx context.Context, r io.Reader, label string) (*Session, int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer gz.Close()

	session, err := s.BeginSession(ctx, label)
	if err != nil {
		return nil, 0, err
	}

	n := 0
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, n, fmt.Errorf("failed to decode archived event %d: %w", n+1, err)
		}
		if err := session.Record(ctx, rec.Event); err != nil {
			return nil, n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, n, fmt.Errorf("failed to read archive: %w", err)
	}
	return session, n, nil
}

// Restore imports the archived session stored under key and returns the new
// session id. The archive file name becomes the session label.
func (s *Store) Restore(ctx context.Context, archive blob.Store, key string) (string, int, error) {
	r, err := archive.Get(ctx, key)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()

	label := "restored:" + strings.TrimSuffix(path.Base(key), ArchiveSuffix)
	session, n, err := s.ImportSession(ctx, r, label)
	if err != nil {
		return "", n, err
	}
	return session.ID(), n, nil
}

// archiveExpired uploads every expired session before it is deleted.
func (s *Store) archiveExpired(ctx context.Context, archive blob.Store, cutoff time.Time, keep string) (int, error) {
	expired, err := s.ExpiredSessions(ctx, cutoff, keep)
	if err != nil {
		return 0, err
	}
	for _, info := range expired {
		var buf bytes.Buffer
		if _, err := s.ExportSession(ctx, info.ID, &buf); err != nil {
			return 0, err
		}
		if err := archive.Put(ctx, ArchiveKey(info), &buf); err != nil {
			return 0, fmt.Errorf("failed to upload session %s: %w", info.ID, err)
		}
	}
	return len(expired), nil
}
