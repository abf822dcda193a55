package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/darc-project/darc/cmn"
)

// azureMirror uploads artifacts to an Azure Blob Storage container, the
// Azure-side analog of s3Mirror/gcsMirror.
type azureMirror struct {
	containerURL azblob.ContainerURL
}

func newAzureMirror(cfg *cmn.Config) (Mirror, error) {
	if cfg.ArchiveBucket == "" {
		return nil, fmt.Errorf("archive: ARCHIVE_BACKEND=azure requires ARCHIVE_BUCKET (container name)")
	}
	if cfg.ArchiveAccount == "" || cfg.ArchiveAccountKey == "" {
		return nil, fmt.Errorf("archive: ARCHIVE_BACKEND=azure requires ARCHIVE_AZURE_ACCOUNT and ARCHIVE_AZURE_KEY")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.ArchiveAccount, cfg.ArchiveAccountKey)
	if err != nil {
		return nil, fmt.Errorf("archive: azure credentials: %w", err)
	}
	pipeline := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", cfg.ArchiveAccount, cfg.ArchiveBucket))
	if err != nil {
		return nil, fmt.Errorf("archive: azure container URL: %w", err)
	}
	return &azureMirror{containerURL: azblob.NewContainerURL(*u, pipeline)}, nil
}

func (m *azureMirror) Name() string { return "azure" }

func (m *azureMirror) Put(ctx context.Context, key, contentType string, body []byte) error {
	blobURL := m.containerURL.NewBlockBlobURL(key)
	_, err := blobURL.Upload(ctx, bytes.NewReader(body),
		azblob.BlobHTTPHeaders{ContentType: contentType},
		azblob.Metadata{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier,
		nil, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return fmt.Errorf("archive: azure put %s: %w", key, err)
	}
	return nil
}

func (m *azureMirror) Close() error { return nil }
