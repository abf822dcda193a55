// Package submit implements the Submit Sink: idempotent persistence of
// crawl results into the relational bookkeeping tables (hosts, URLs) and
// an append-only CSV index of every URL darc has ever seen, independent
// of whichever Work Store backend is in use.
/*
 * Copyright (c) 2018-2026, darc project contributors. All rights reserved.
 */
package submit

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/teris-io/shortid"
	"golang.org/x/sys/unix"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/store"
)

const indexFileName = "link.csv"

// Sink is the process-wide writer for link.csv plus the idempotent
// UpsertHost/UpsertURL calls into the Work Store. One flock'd file
// handle is shared by every caller in the process; the lock only
// protects against other darc processes sharing PATH_DATA, since
// writers within a process already serialize through mu.
type Sink struct {
	cfg *cmn.Config
	ws  store.WorkStore

	mu    sync.Mutex
	f     *os.File
	w     *csv.Writer
	genID string
}

// New opens (creating if absent) PATH_DATA/link.csv, takes an exclusive
// advisory lock on it for the lifetime of the process, and stamps a
// fresh generation ID used to tag every row this process appends.
func New(cfg *cmn.Config, ws store.WorkStore) (*Sink, error) {
	path := filepath.Join(cfg.PathData, indexFileName)
	if err := os.MkdirAll(cfg.PathData, 0o755); err != nil {
		return nil, fmt.Errorf("submit: creating %s: %w", cfg.PathData, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("submit: opening %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("submit: %s is locked by another darc process: %w", path, err)
	}

	gen, err := shortid.Generate()
	if err != nil {
		gen = fmt.Sprintf("gen-%d", time.Now().UnixNano())
	}

	info, statErr := f.Stat()
	needsHeader := statErr == nil && info.Size() == 0
	w := csv.NewWriter(f)
	s := &Sink{cfg: cfg, ws: ws, f: f, w: w, genID: gen}
	if needsHeader {
		if err := s.writeRowLocked([]string{"gen", "timestamp", "url_hash", "host", "kind", "url", "outcome"}); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Record idempotently upserts the host and URL bookkeeping rows for l
// and appends one line to link.csv describing the outcome of the fetch
// attempt (the Kind name, or "ok" for a successful terminal fetch).
func (s *Sink) Record(ctx context.Context, l *link.Link, outcome cmn.Kind) error {
	now := time.Now().Unix()
	if err := s.ws.UpsertURL(ctx, store.URLRecord{
		URLHash:   l.URLHash,
		Host:      l.Host,
		URL:       l.Canonical(),
		BasePath:  l.BasePath(s.cfg.PathData),
		FirstSeen: now,
		LastSeen:  now,
		Alive:     true,
	}); err != nil {
		return fmt.Errorf("submit: upserting url %s: %w", l.URLHash, err)
	}
	if l.Host != "" {
		if err := s.ws.UpsertHost(ctx, store.HostnameRecord{
			Host:      l.Host,
			Kind:      l.Kind,
			FirstSeen: now,
			LastSeen:  now,
			Alive:     true,
		}); err != nil {
			glog.Warningf("submit: upserting host %s: %v", l.Host, err)
		}
	}

	return s.appendRow(now, l, string(outcome))
}

func (s *Sink) appendRow(ts int64, l *link.Link, outcome string) error {
	row := []string{
		s.genID,
		fmt.Sprintf("%d", ts),
		l.URLHash,
		l.Host,
		string(l.Kind),
		l.Canonical(),
		outcome,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRowLocked(row)
}

func (s *Sink) writeRowLocked(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("submit: writing %s row: %w", indexFileName, err)
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes pending writes and releases the index file's lock.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	unix.Flock(int(s.f.Fd()), unix.LOCK_UN)
	return s.f.Close()
}

// Reindex replays link.csv — the durable, append-only record of every
// fetch this process or a prior one has recorded — and re-applies each
// row's UpsertURL/UpsertHost calls against the current Work Store. This
// is the recovery path for a Work Store whose relational tables were
// lost or pointed at a fresh database while PATH_DATA survived: the
// on-disk artifact tree itself can't serve that purpose, since every
// artifact directory is keyed by the SHA-256 hash of the host and URL,
// not the text they were hashed from, so there is no way to recover the
// original strings by walking it. link.csv is the only place that text
// still lives. Best-effort: a malformed row is logged and skipped rather
// than aborting the whole replay.
func (s *Sink) Reindex(ctx context.Context) error {
	path := filepath.Join(s.cfg.PathData, indexFileName)
	rows, err := replayIndex(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("submit: reindexing %s: %w", path, err)
	}

	var applied, skipped int
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "gen" {
			continue // header
		}
		if len(row) != 7 {
			skipped++
			continue
		}
		ts, host, kind, rawURL := row[1], row[3], row[4], row[5]
		tsUnix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			skipped++
			continue
		}
		l, err := link.Parse(rawURL, nil)
		if err != nil {
			skipped++
			continue
		}
		if err := s.ws.UpsertURL(ctx, store.URLRecord{
			URLHash:   l.URLHash,
			Host:      host,
			URL:       rawURL,
			BasePath:  l.BasePath(s.cfg.PathData),
			FirstSeen: tsUnix,
			LastSeen:  tsUnix,
			Alive:     true,
		}); err != nil {
			glog.Warningf("submit: reindex: upserting url %s: %v", l.URLHash, err)
			skipped++
			continue
		}
		if host != "" {
			if err := s.ws.UpsertHost(ctx, store.HostnameRecord{
				Host:      host,
				Kind:      link.Kind(kind),
				FirstSeen: tsUnix,
				LastSeen:  tsUnix,
				Alive:     true,
			}); err != nil {
				glog.Warningf("submit: reindex: upserting host %s: %v", host, err)
			}
		}
		applied++
	}
	glog.Infof("submit: reindex replayed %d rows from %s (%d skipped)", applied, path, skipped)
	return nil
}

// replayIndex reads link.csv back from the beginning. Used by Reindex,
// by tests, and by operator tooling to verify what a given generation
// wrote; not called on the hot path.
func replayIndex(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(bufio.NewReader(f))
	return r.ReadAll()
}
