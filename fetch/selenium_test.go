package fetch

import (
	"context"
	"testing"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
)

func TestSeleniumFetcherEnqueueRenderedLinksParsesAbsoluteHrefs(t *testing.T) {
	ws := &fakeWorkStore{}
	f := NewSeleniumFetcher(&cmn.Config{PathData: t.TempDir()}, ws, clearwebRegistry(), nil)

	parent, err := link.Parse("http://example.onion/", nil)
	if err != nil {
		t.Fatal(err)
	}

	html := `<html><body><a href="http://example.onion/child">child</a></body></html>`
	f.enqueueRenderedLinks(context.Background(), parent, html)

	if len(ws.saved) != 1 {
		t.Fatalf("got %d links enqueued, want 1: %v", len(ws.saved), ws.saved)
	}
	if ws.saved[0].Host != "example.onion" {
		t.Fatalf("got host %q, want example.onion", ws.saved[0].Host)
	}
}

func TestSeleniumFetcherEnqueueRenderedLinksDeniedByLinkList(t *testing.T) {
	t.Setenv("LINK_FALLBACK", "false")
	cfg, err := cmn.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	ws := &fakeWorkStore{}
	f := NewSeleniumFetcher(cfg, ws, clearwebRegistry(), nil)

	parent, err := link.Parse("http://example.onion/", nil)
	if err != nil {
		t.Fatal(err)
	}
	f.enqueueRenderedLinks(context.Background(), parent, `<html><body><a href="http://example.onion/child">child</a></body></html>`)

	if len(ws.saved) != 0 {
		t.Fatalf("expected the denied link list to drop every discovered link, got %v", ws.saved)
	}
}

func TestSeleniumFetcherRecordAppendsRenderHistoryRow(t *testing.T) {
	ws := &fakeWorkStore{}
	f := NewSeleniumFetcher(&cmn.Config{PathData: t.TempDir()}, ws, clearwebRegistry(), nil)

	l, err := link.Parse("http://example.onion/", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.record(context.Background(), l, cmn.KindRenderEmpty, "empty sentinel"); err != nil {
		t.Fatal(err)
	}
	if len(ws.history) != 1 || ws.history[0].Outcome != cmn.KindRenderEmpty || ws.history[0].Method != "RENDER" {
		t.Fatalf("got history %v, want one RENDER row with outcome KindRenderEmpty", ws.history)
	}
}

func TestEmptyPageSentinel(t *testing.T) {
	if emptyPageSentinel != "<html><head></head><body></body></html>" {
		t.Fatalf("unexpected sentinel value: %q", emptyPageSentinel)
	}
}
