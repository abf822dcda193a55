package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/darc-project/darc/cmn"
)

// gcsMirror uploads artifacts to a Google Cloud Storage bucket, the
// GCS-side analog of s3Mirror.
type gcsMirror struct {
	bucket *storage.BucketHandle
	client *storage.Client
}

func newGCSMirror(cfg *cmn.Config) (Mirror, error) {
	if cfg.ArchiveBucket == "" {
		return nil, fmt.Errorf("archive: ARCHIVE_BACKEND=gcs requires ARCHIVE_BUCKET")
	}
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("archive: opening GCS client: %w", err)
	}
	return &gcsMirror{bucket: client.Bucket(cfg.ArchiveBucket), client: client}, nil
}

func (m *gcsMirror) Name() string { return "gcs" }

func (m *gcsMirror) Put(ctx context.Context, key, contentType string, body []byte) error {
	w := m.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(body); err != nil {
		w.Close()
		return fmt.Errorf("archive: gcs put %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: gcs put %s: closing writer: %w", key, err)
	}
	return nil
}

func (m *gcsMirror) Close() error { return m.client.Close() }
