package fetch

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestWriteFileBestEffortRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "artifact.html")
	body := []byte("<html>hello, darc</html>")

	writeFileBestEffort(path, body)

	got, err := readArtifact(path)
	if err != nil {
		t.Fatalf("readArtifact: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %q, want %q", got, body)
	}
}
