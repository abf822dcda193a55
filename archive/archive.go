// Package archive implements the optional Archive Mirror: a secondary
// copy of a persisted artifact written to an external object store,
// selected by ARCHIVE_BACKEND. PATH_DATA is always the system of record;
// a Mirror failure is logged and never blocks or retries the crawl loop.
/*
 * Copyright (c) 2018-2026, darc project contributors. All rights reserved.
 */
package archive

import (
	"context"
	"fmt"

	"github.com/darc-project/darc/cmn"
)

// Mirror is the contract every archive backend implements: a single
// fire-and-forget object put, the one operation darc's artifact pipeline
// actually needs.
type Mirror interface {
	Name() string
	Put(ctx context.Context, key string, contentType string, body []byte) error
	Close() error
}

// New constructs the Mirror selected by cfg.ArchiveBackend ("local" the
// default and requiring nothing further, "s3", "gcs", "azure", or "hdfs").
func New(cfg *cmn.Config) (Mirror, error) {
	switch cfg.ArchiveBackend {
	case "", "local":
		return &localMirror{}, nil
	case "s3":
		return newS3Mirror(cfg)
	case "gcs":
		return newGCSMirror(cfg)
	case "azure":
		return newAzureMirror(cfg)
	case "hdfs":
		return newHDFSMirror(cfg)
	default:
		return nil, fmt.Errorf("archive: unknown ARCHIVE_BACKEND %q", cfg.ArchiveBackend)
	}
}

// localMirror is the required default: PATH_DATA already is the
// artifact's home, so mirroring is a no-op.
type localMirror struct{}

func (localMirror) Name() string { return "local" }
func (localMirror) Put(ctx context.Context, key, contentType string, body []byte) error {
	return nil
}
func (localMirror) Close() error { return nil }
