package proxysuper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/darc-project/darc/link"
)

func TestInsecureForOnionAndI2POnly(t *testing.T) {
	cases := []struct {
		kind link.Kind
		want bool
	}{
		{link.KindTor, true},
		{link.KindI2P, true},
		{link.KindNull, false},
		{link.KindZeroNet, false},
	}
	for _, c := range cases {
		if got := insecureFor(c.kind); got != c.want {
			t.Errorf("insecureFor(%s) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestClientFetchClearweb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newClient(link.KindNull, 0)
	status, body, headers, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatalf("got status %d, want 200", status)
	}
	if string(body) != "hello" {
		t.Fatalf("got body %q, want %q", body, "hello")
	}
	if string(headers["Content-Type"]) != "text/plain" {
		t.Fatalf("got content-type %q, want text/plain", headers["Content-Type"])
	}
}

func TestClientHeadClearweb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
	}))
	defer srv.Close()

	c := newClient(link.KindNull, 0)
	status, contentType, err := c.Head(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatalf("got status %d, want 200", status)
	}
	if contentType != "application/json" {
		t.Fatalf("got content-type %q, want application/json", contentType)
	}
}
