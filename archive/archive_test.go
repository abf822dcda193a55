package archive

import (
	"context"
	"testing"

	"github.com/darc-project/darc/cmn"
)

func TestNewDefaultsToLocal(t *testing.T) {
	m, err := New(&cmn.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Name() != "local" {
		t.Fatalf("got %q, want %q", m.Name(), "local")
	}
	if err := m.Put(context.Background(), "k", "text/plain", []byte("x")); err != nil {
		t.Fatalf("local Put should never fail: %v", err)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(&cmn.Config{ArchiveBackend: "swift"})
	if err == nil {
		t.Fatalf("expected an error for an unknown ARCHIVE_BACKEND")
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := New(&cmn.Config{ArchiveBackend: "s3"})
	if err == nil {
		t.Fatalf("expected an error when ARCHIVE_BUCKET is unset")
	}
}

func TestNewAzureRequiresAccountAndKey(t *testing.T) {
	_, err := New(&cmn.Config{ArchiveBackend: "azure", ArchiveBucket: "b"})
	if err == nil {
		t.Fatalf("expected an error when ARCHIVE_AZURE_ACCOUNT/KEY are unset")
	}
}

func TestNewHDFSRequiresNamenode(t *testing.T) {
	_, err := New(&cmn.Config{ArchiveBackend: "hdfs"})
	if err == nil {
		t.Fatalf("expected an error when ARCHIVE_HDFS_NAMENODE is unset")
	}
}
