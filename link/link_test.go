package link_test

import (
	"testing"

	"github.com/darc-project/darc/link"
)

func TestParseIdempotentHash(t *testing.T) {
	l1, err := link.Parse("http://EXAMPLE.com/Path?q=1", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	l2, err := link.Parse(l1.Canonical(), nil)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if l1.URLHash != l2.URLHash {
		t.Fatalf("hash not idempotent: %s != %s", l1.URLHash, l2.URLHash)
	}
}

func TestParseHostLowercasedPathCasePreserved(t *testing.T) {
	l, err := link.Parse("http://EXAMPLE.com/Path", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if l.Host != "example.com" {
		t.Fatalf("expected lowercased host, got %q", l.Host)
	}
	if l.Path != "/Path" {
		t.Fatalf("expected case-preserved path, got %q", l.Path)
	}
}

func TestClassifyTor(t *testing.T) {
	l, err := link.Parse("http://abcdefghij234567.onion/", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if l.Kind != link.KindTor {
		t.Fatalf("expected tor, got %s", l.Kind)
	}
	if got := l.BasePath("/data"); got[:len("/data/tor/")] != "/data/tor/" {
		t.Fatalf("base path does not start with /data/tor/: %s", got)
	}
}

func TestClassifyI2P(t *testing.T) {
	l, err := link.Parse("http://example.i2p/x", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if l.Kind != link.KindI2P {
		t.Fatalf("expected i2p, got %s", l.Kind)
	}
}

func TestClassifyBareSchemes(t *testing.T) {
	cases := map[string]link.Kind{
		"magnet:?xt=urn:btih:abc": link.KindMagnet,
		"mailto:a@b.com":         link.KindMail,
		"tel:+15551234567":       link.KindTel,
		"bitcoin:1ABC":           link.KindBitcoin,
	}
	for raw, want := range cases {
		l, err := link.Parse(raw, nil)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if l.Kind != want {
			t.Errorf("%q: expected %s, got %s", raw, want, l.Kind)
		}
	}
}

func TestParseInvalidURL(t *testing.T) {
	if _, err := link.Parse("not-a-url-no-scheme", nil); err == nil {
		t.Fatal("expected InvalidURL error")
	}
}

func TestFragmentIncludedInHash(t *testing.T) {
	l1, _ := link.Parse("http://example.com/page", nil)
	l2, _ := link.Parse("http://example.com/page#frag", nil)
	if l1.URLHash == l2.URLHash {
		t.Fatal("fragment must change the URL hash")
	}
}

func TestBackrefDoesNotAffectHash(t *testing.T) {
	parent, _ := link.Parse("http://example.com/", nil)
	a, _ := link.Parse("http://example.com/x", nil)
	b, _ := link.Parse("http://example.com/x", parent)
	if a.URLHash != b.URLHash {
		t.Fatal("backref must not change the URL hash")
	}
	if b.Backref != parent {
		t.Fatal("backref not recorded")
	}
}
