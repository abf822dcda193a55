package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/darc-project/darc/cmn"
)

func TestParseDaemonType(t *testing.T) {
	cases := []struct {
		in      string
		want    cmn.DaemonType
		wantErr bool
	}{
		{"crawler", cmn.Crawler, false},
		{"loader", cmn.Loader, false},
		{"", "", true},
		{"bogus", "", true},
	}
	for _, c := range cases {
		got, err := parseDaemonType(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseDaemonType(%q): want error, got nil", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDaemonType(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("parseDaemonType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCollectSeedsFromFileAndPositional(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.txt")
	contents := "http://example.onion/a\n\nhttp://example.onion/b\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	seeds, err := collectSeeds(stringList{path}, []string{"http://example.onion/c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds) != 3 {
		t.Fatalf("got %d seeds, want 3", len(seeds))
	}
}

func TestCollectSeedsSkipsUnparseable(t *testing.T) {
	seeds, err := collectSeeds(nil, []string{"://not-a-url", "http://example.onion/a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds) != 1 {
		t.Fatalf("got %d seeds, want 1 (unparseable entry should be skipped)", len(seeds))
	}
}

func TestCollectSeedsMissingFile(t *testing.T) {
	if _, err := collectSeeds(stringList{"/no/such/file"}, nil); err == nil {
		t.Fatal("want error for missing seed file")
	}
}

func TestRateLimiterPath(t *testing.T) {
	cfg := &cmn.Config{PathData: "/tmp/darc-data"}
	got := rateLimiterPath(cfg)
	want := filepath.Join("/tmp/darc-data", "ratelimit.db")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
