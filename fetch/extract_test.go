package fetch

import "testing"

func TestExtractHTMLLinks(t *testing.T) {
	body := []byte(`<html><body><a href="/a">a</a><img src="/b.png"><form action="/submit"></form></body></html>`)
	got := extractLinks("text/html; charset=utf-8", body)
	want := map[string]bool{"/a": true, "/b.png": true, "/submit": true}
	if len(got) != len(want) {
		t.Fatalf("got %d links, want %d: %v", len(got), len(want), got)
	}
	for _, g := range got {
		if !want[g] {
			t.Fatalf("unexpected link %q", g)
		}
	}
}

func TestExtractXMLSitemap(t *testing.T) {
	body := []byte(`<?xml version="1.0"?><urlset><url><loc>http://a.example/1</loc></url><url><loc>http://a.example/2</loc></url></urlset>`)
	got := extractLinks("application/xml", body)
	if len(got) != 2 {
		t.Fatalf("got %d links, want 2: %v", len(got), got)
	}
}

func TestExtractTextLinks(t *testing.T) {
	body := []byte("see http://a.example/x and also plain text, not https://b.example/y?q=1 either")
	got := extractLinks("text/plain", body)
	if len(got) != 2 {
		t.Fatalf("got %d links, want 2: %v", len(got), got)
	}
}

func TestExtractBinaryYieldsNothing(t *testing.T) {
	got := extractLinks("application/octet-stream", []byte{0, 1, 2, 3})
	if got != nil {
		t.Fatalf("expected nil for binary content, got %v", got)
	}
}

func TestClassifyContentType(t *testing.T) {
	cases := map[string]contentFamily{
		"text/html; charset=utf-8": familyHTML,
		"application/xhtml+xml":    familyHTML,
		"application/xml":          familyXML,
		"text/xml":                 familyXML,
		"text/plain":               familyText,
		"image/png":                familyBinary,
	}
	for ct, want := range cases {
		if got := classifyContentType(ct); got != want {
			t.Errorf("classifyContentType(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestParseHostsTxt(t *testing.T) {
	body := []byte("# comment\nfoo.i2p=abc123\nbar.i2p=def456\n\nmalformed-line\n")
	got := parseHostsTxt(body)
	want := []string{"foo.i2p", "bar.i2p"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
