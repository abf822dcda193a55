package sched

import (
	"context"
	"sync"
	"testing"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/proxysuper"
	"github.com/darc-project/darc/store"
)

// testRegistry builds a Registry that is never bootstrapped in these
// tests: Registry.For is reached only through the fetcher, which is faked
// out here, and these tests never call Scheduler.Stop (the caller of
// StopAll), so an unstarted Registry is enough.
func testRegistry() *proxysuper.Registry {
	return proxysuper.NewRegistry(&cmn.Config{
		Tor:     cmn.ProxyDaemonConfig{Port: 9050},
		I2P:     cmn.ProxyDaemonConfig{Port: 4444},
		ZeroNet: cmn.ProxyDaemonConfig{Port: 43110},
		Freenet: cmn.ProxyDaemonConfig{Port: 8888},
	})
}

// fakeStore is a minimal in-memory WorkStore stub covering only the
// methods the Scheduler actually calls.
type fakeStore struct {
	store.WorkStore

	mu        sync.Mutex
	hostnames []store.Entry
	requests  []*link.Link
	selenium  []*link.Link
	dropped   []string
	requeued  []*link.Link
	upserts   []store.HostnameRecord
}

func (f *fakeStore) LoadHostname(ctx context.Context, count int) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.hostnames
	f.hostnames = nil
	return out, nil
}

func (f *fakeStore) LoadRequests(ctx context.Context, count int) ([]*link.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.requests
	f.requests = nil
	return out, nil
}

func (f *fakeStore) LoadSelenium(ctx context.Context, count int) ([]*link.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.selenium
	f.selenium = nil
	return out, nil
}

func (f *fakeStore) DropHostname(ctx context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, host)
	return nil
}

func (f *fakeStore) UpsertHost(ctx context.Context, rec store.HostnameRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeStore) SaveRequests(ctx context.Context, links []*link.Link, score float64, nx bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, links...)
	return nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	seen  []string
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, l *link.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, l.Canonical())
	return f.err
}

func mustParse(t *testing.T, raw string) *link.Link {
	t.Helper()
	l, err := link.Parse(raw, nil)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return l
}

func TestTickCrawlerAdmitsHostsAndDispatchesRequests(t *testing.T) {
	onion := mustParse(t, "http://example.onion/a")
	ws := &fakeStore{
		hostnames: []store.Entry{{Kind: store.QueueHostname, Key: "example.onion"}},
		requests:  []*link.Link{onion},
	}
	fetcher := &fakeFetcher{}
	s := New(&cmn.Config{CPU: 4, Mode: cmn.ModeCooperative}, ws, testRegistry(), cmn.Crawler, fetcher)

	n, err := s.tickCrawler(context.Background())
	if err != nil {
		t.Fatalf("tickCrawler: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d claimed, want 2", n)
	}
	if len(ws.dropped) != 1 || ws.dropped[0] != "example.onion" {
		t.Fatalf("expected hostname queue entry dropped, got %v", ws.dropped)
	}
	if len(ws.upserts) != 1 || ws.upserts[0].Kind != link.KindTor {
		t.Fatalf("expected host upserted with KindTor, got %v", ws.upserts)
	}
	if len(fetcher.seen) != 1 || fetcher.seen[0] != onion.Canonical() {
		t.Fatalf("expected the fetcher to see %s, got %v", onion.Canonical(), fetcher.seen)
	}
}

func TestFilterShardRequeuesForeignHosts(t *testing.T) {
	mine := mustParse(t, "http://a.example/x")
	foreign := mustParse(t, "http://b.example/y")
	ws := &fakeStore{}
	s := New(&cmn.Config{CPU: 4}, ws, testRegistry(), cmn.Crawler, &fakeFetcher{})
	s.shardOf = func(host string) bool { return host == "a.example" }

	got := s.filterShard(context.Background(), []*link.Link{mine, foreign})
	if len(got) != 1 || got[0] != mine {
		t.Fatalf("expected only the local-shard link to survive, got %v", got)
	}
	if len(ws.requeued) != 1 || ws.requeued[0] != foreign {
		t.Fatalf("expected the foreign link requeued, got %v", ws.requeued)
	}
}

func TestHostKindClassification(t *testing.T) {
	cases := map[string]link.Kind{
		"foo.onion":   link.KindTor,
		"foo.i2p":     link.KindI2P,
		"example.com": link.KindNull,
	}
	for host, want := range cases {
		if got := hostKind(host); got != want {
			t.Errorf("hostKind(%q) = %v, want %v", host, got, want)
		}
	}
}
