package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/darc-project/darc/link"
)

func TestHostStateAllowedNilIsAllowAll(t *testing.T) {
	var st *hostState
	if !st.allowed("/anything") {
		t.Fatal("a nil hostState must allow everything")
	}
}

func TestPreflighterFetchesRobotsAndSitemap(t *testing.T) {
	var sitemapHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /private\nSitemap: " + "http://" + r.Host + "/sitemap.xml\n"))
		case "/sitemap.xml":
			sitemapHits++
			w.Write([]byte(`<?xml version="1.0"?><urlset><url><loc>http://` + r.Host + `/a</loc></url></urlset>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ws := &fakeWorkStore{}
	p := newPreflighter(clearwebRegistry(), ws, t.TempDir())

	l, err := link.Parse(srv.URL+"/page", nil)
	if err != nil {
		t.Fatal(err)
	}

	st, err := p.ensure(context.Background(), l)
	if err != nil {
		t.Fatal(err)
	}
	if st.robots == nil {
		t.Fatal("expected a parsed robots group")
	}
	if st.allowed("/private") {
		t.Fatal("robots.txt disallows /private")
	}
	if !st.allowed("/page") {
		t.Fatal("robots.txt should allow /page")
	}
	if sitemapHits != 1 {
		t.Fatalf("got %d sitemap fetches, want 1", sitemapHits)
	}
	if len(ws.saved) != 1 {
		t.Fatalf("got %d links enqueued from the sitemap, want 1", len(ws.saved))
	}

	// A second ensure() for the same host must hit the cache, not the server.
	sitemapHits = 0
	if _, err := p.ensure(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if sitemapHits != 0 {
		t.Fatal("ensure() must cache the preflight result per host for the process generation")
	}
}
