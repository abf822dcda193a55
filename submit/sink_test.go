package submit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/store"
)

// memStore is a minimal in-memory WorkStore stub sufficient for the Sink
// tests, which only exercise UpsertURL/UpsertHost.
type memStore struct {
	store.WorkStore
	urls  []store.URLRecord
	hosts []store.HostnameRecord
}

func (m *memStore) UpsertURL(ctx context.Context, rec store.URLRecord) error {
	m.urls = append(m.urls, rec)
	return nil
}

func (m *memStore) UpsertHost(ctx context.Context, rec store.HostnameRecord) error {
	m.hosts = append(m.hosts, rec)
	return nil
}

func TestSinkRecordWritesCSVAndUpserts(t *testing.T) {
	dir := t.TempDir()
	cfg := &cmn.Config{PathData: dir}
	ws := &memStore{}

	sink, err := New(cfg, ws)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	l, err := link.Parse("http://example.onion/a", nil)
	if err != nil {
		t.Fatalf("parsing link: %v", err)
	}
	if err := sink.Record(context.Background(), l, cmn.KindOK); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(ws.urls) != 1 || ws.urls[0].URLHash != l.URLHash {
		t.Fatalf("expected one url upsert for %s, got %v", l.URLHash, ws.urls)
	}
	if len(ws.hosts) != 1 || ws.hosts[0].Host != "example.onion" {
		t.Fatalf("expected one host upsert for example.onion, got %v", ws.hosts)
	}

	rows, err := replayIndex(filepath.Join(dir, indexFileName))
	if err != nil {
		t.Fatalf("replayIndex: %v", err)
	}
	if len(rows) != 2 { // header + one data row
		t.Fatalf("got %d rows, want 2: %v", len(rows), rows)
	}
	if rows[0][0] != "gen" {
		t.Fatalf("expected header row first, got %v", rows[0])
	}
	if rows[1][2] != l.URLHash {
		t.Fatalf("expected data row to carry url hash %s, got %v", l.URLHash, rows[1])
	}
}

func TestSinkRefusesSecondLockHolder(t *testing.T) {
	dir := t.TempDir()
	cfg := &cmn.Config{PathData: dir}
	ws := &memStore{}

	first, err := New(cfg, ws)
	if err != nil {
		t.Fatalf("New (first): %v", err)
	}
	defer first.Close()

	if _, err := New(cfg, ws); err == nil {
		t.Fatalf("expected a second Sink over the same PATH_DATA to fail to acquire the lock")
	}
}

func TestReindexOnEmptyDataDirIsANoOp(t *testing.T) {
	dir := t.TempDir()
	cfg := &cmn.Config{PathData: dir}
	ws := &memStore{}
	sink, err := New(cfg, ws)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	if err := sink.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if len(ws.urls) != 0 || len(ws.hosts) != 0 {
		t.Fatalf("expected no upserts from an empty link.csv, got %d urls, %d hosts", len(ws.urls), len(ws.hosts))
	}
}

func TestReindexRebuildsBookkeepingFromCSV(t *testing.T) {
	dir := t.TempDir()
	cfg := &cmn.Config{PathData: dir}
	writerWS := &memStore{}

	sink, err := New(cfg, writerWS)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l, err := link.Parse("http://example.onion/a", nil)
	if err != nil {
		t.Fatalf("parsing link: %v", err)
	}
	if err := sink.Record(context.Background(), l, cmn.KindOK); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a Work Store whose relational tables were lost: a fresh
	// empty memStore, with PATH_DATA (and link.csv) surviving untouched.
	emptyWS := &memStore{}
	sink2, err := New(cfg, emptyWS)
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	defer sink2.Close()

	if err := sink2.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if len(emptyWS.urls) != 1 || emptyWS.urls[0].URLHash != l.URLHash {
		t.Fatalf("expected reindex to upsert one url for %s, got %v", l.URLHash, emptyWS.urls)
	}
	if len(emptyWS.hosts) != 1 || emptyWS.hosts[0].Host != "example.onion" {
		t.Fatalf("expected reindex to upsert one host for example.onion, got %v", emptyWS.hosts)
	}
}
