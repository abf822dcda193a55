package archive

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/colinmarc/hdfs/v2"

	"github.com/darc-project/darc/cmn"
)

// hdfsMirror uploads artifacts to an HDFS cluster, the on-prem analog of
// s3Mirror/gcsMirror for deployments that archive onto an existing Hadoop
// data lake rather than a cloud object store.
type hdfsMirror struct {
	client *hdfs.Client
	prefix string
}

func newHDFSMirror(cfg *cmn.Config) (Mirror, error) {
	if cfg.ArchiveNamenode == "" {
		return nil, fmt.Errorf("archive: ARCHIVE_BACKEND=hdfs requires ARCHIVE_HDFS_NAMENODE")
	}
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{cfg.ArchiveNamenode},
		User:      cfg.User,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: connecting to HDFS namenode %s: %w", cfg.ArchiveNamenode, err)
	}
	prefix := cfg.ArchiveBucket
	if prefix == "" {
		prefix = "/darc"
	}
	return &hdfsMirror{client: client, prefix: prefix}, nil
}

func (m *hdfsMirror) Name() string { return "hdfs" }

func (m *hdfsMirror) Put(ctx context.Context, key, contentType string, body []byte) error {
	full := path.Join(m.prefix, key)
	if err := m.client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return fmt.Errorf("archive: hdfs mkdir %s: %w", path.Dir(full), err)
	}
	w, err := m.client.CreateFile(full, 3, 128<<20, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if rmErr := m.client.Remove(full); rmErr != nil {
				return fmt.Errorf("archive: hdfs replacing existing %s: %w", full, rmErr)
			}
			w, err = m.client.CreateFile(full, 3, 128<<20, 0o644)
		}
		if err != nil {
			return fmt.Errorf("archive: hdfs create %s: %w", full, err)
		}
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return fmt.Errorf("archive: hdfs write %s: %w", full, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: hdfs close %s: %w", full, err)
	}
	return nil
}

func (m *hdfsMirror) Close() error { return m.client.Close() }
