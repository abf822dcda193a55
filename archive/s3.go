package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/darc-project/darc/cmn"
)

// s3Mirror uploads artifacts to an S3 bucket via s3manager, matching the
// teacher's object-store mirror shape (ais/backend) with aws-sdk-go as
// the concrete client.
type s3Mirror struct {
	bucket   string
	uploader *s3manager.Uploader
}

func newS3Mirror(cfg *cmn.Config) (Mirror, error) {
	if cfg.ArchiveBucket == "" {
		return nil, fmt.Errorf("archive: ARCHIVE_BACKEND=s3 requires ARCHIVE_BUCKET")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.ArchiveRegion)})
	if err != nil {
		return nil, fmt.Errorf("archive: opening S3 session: %w", err)
	}
	return &s3Mirror{
		bucket:   cfg.ArchiveBucket,
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (m *s3Mirror) Name() string { return "s3" }

func (m *s3Mirror) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := m.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s/%s: %w", m.bucket, key, err)
	}
	return nil
}

func (m *s3Mirror) Close() error { return nil }
