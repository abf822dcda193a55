package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/proxysuper"
	"github.com/darc-project/darc/store"
)

// fakeWorkStore is a minimal in-memory WorkStore stub covering only the
// methods RequestFetcher calls.
type fakeWorkStore struct {
	store.WorkStore

	mu       sync.Mutex
	history  []store.HistoryRecord
	saved    []*link.Link
	selenium []*link.Link
}

func (f *fakeWorkStore) AppendHistory(ctx context.Context, rec store.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeWorkStore) SaveRequests(ctx context.Context, links []*link.Link, score float64, nx bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, links...)
	return nil
}

func (f *fakeWorkStore) SaveSelenium(ctx context.Context, l *link.Link, score float64, nx bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selenium = append(f.selenium, l)
	return nil
}

// clearwebRegistry builds a Registry whose only usable kind is KindNull,
// backed by the no-op clearweb daemon, so HTTPSession bootstraps instantly
// without spawning any subprocess.
func clearwebRegistry() *proxysuper.Registry {
	return proxysuper.NewRegistry(&cmn.Config{})
}

func TestRequestFetcherFetchesParsesAndEnqueuesLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="http://child.example/a">child</a></body></html>`))
	}))
	defer srv.Close()

	ws := &fakeWorkStore{}
	rl, err := store.NewRateLimiter(time.Millisecond, "")
	if err != nil {
		t.Fatal(err)
	}
	defer rl.Close()

	f := NewRequestFetcher(&cmn.Config{PathData: t.TempDir(), Force: true}, ws, clearwebRegistry(), rl, nil)

	l, err := link.Parse(srv.URL+"/", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Fetch(context.Background(), l); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(ws.history) != 1 {
		t.Fatalf("got %d history rows, want 1", len(ws.history))
	}
	if ws.history[0].Outcome != cmn.KindOK {
		t.Fatalf("got outcome %v, want %v", ws.history[0].Outcome, cmn.KindOK)
	}
	if ws.history[0].StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", ws.history[0].StatusCode)
	}
	if len(ws.saved) != 1 {
		t.Fatalf("got %d extracted links enqueued, want 1", len(ws.saved))
	}
	if len(ws.selenium) != 1 || ws.selenium[0] != l {
		t.Fatalf("HTML content-type should enqueue the page for a selenium render, got %v", ws.selenium)
	}
}

func TestRequestFetcherDeniedProxyKindRecordsHistoryWithoutFetching(t *testing.T) {
	t.Setenv("PROXY_FALLBACK", "false")
	cfg, err := cmn.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.PathData = t.TempDir()

	ws := &fakeWorkStore{}
	rl, err := store.NewRateLimiter(time.Millisecond, "")
	if err != nil {
		t.Fatal(err)
	}
	defer rl.Close()

	f := NewRequestFetcher(cfg, ws, clearwebRegistry(), rl, nil)

	l, err := link.Parse("http://example.com/", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Fetch(context.Background(), l); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(ws.history) != 1 || ws.history[0].Outcome != cmn.KindProxyDenied {
		t.Fatalf("expected a single KindProxyDenied history row, got %v", ws.history)
	}
}
