package fetch

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/pierrec/lz4/v3"

	"github.com/darc-project/darc/archive"
)

// artifactExt is appended to every path writeFileBestEffort produces so a
// reader can tell a compressed artifact from link.ArtifactPath's bare
// name without opening it.
const artifactExt = ".lz4"

// writeFileBestEffort creates parent directories and writes body to
// path+artifactExt, lz4-compressed, logging (not returning) failures:
// artifact persistence must never block the crawl loop itself. The
// content-type recorded alongside a history row always describes the
// uncompressed body; decompression is transparent to any later reader
// via readArtifact.
func writeFileBestEffort(path string, body []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		glog.Warningf("fetch: mkdir for %s: %v", path, err)
		return
	}
	f, err := os.Create(path + artifactExt)
	if err != nil {
		glog.Warningf("fetch: creating %s: %v", path, err)
		return
	}
	defer f.Close()
	zw := lz4.NewWriter(f)
	if _, err := zw.Write(body); err != nil {
		glog.Warningf("fetch: compressing %s: %v", path, err)
		return
	}
	if err := zw.Close(); err != nil {
		glog.Warningf("fetch: flushing %s: %v", path, err)
	}
}

// readArtifact reads back a file written by writeFileBestEffort,
// transparently decompressing it.
func readArtifact(path string) ([]byte, error) {
	f, err := os.Open(path + artifactExt)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(f)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mirrorBestEffort uploads the uncompressed body to m under a key derived
// from path, swallowing and logging any error: the archive mirror is an
// optional secondary copy, never a dependency of the crawl loop. m may be
// nil (e.g. in tests), in which case this is a no-op.
func mirrorBestEffort(ctx context.Context, m archive.Mirror, path, contentType string, body []byte) {
	if m == nil {
		return
	}
	key := strings.TrimPrefix(path, "/")
	if err := m.Put(ctx, key, contentType, body); err != nil {
		glog.Warningf("fetch: mirroring %s to %s: %v", path, m.Name(), err)
	}
}
