// Package store implements the Work Store: the three
// ordered queues (hostname, requests, selenium), atomic claim (a claimed
// entry leaves its queue; there is no separate ack), and the
// append-only history table, against either of two physically different
// backends behind one contract — a Redis sorted-set store and a SQL
// relational store, picked by whether REDIS_URL is set.
/*
 * Copyright (c) 2018-2026, darc project contributors. All rights reserved.
 */
package store

import (
	"context"
	"time"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
)

// QueueKind identifies one of the three ordered queues.
type QueueKind string

const (
	QueueHostname  QueueKind = "hostname"
	QueueRequests  QueueKind = "requests"
	QueueSelenium  QueueKind = "selenium"
)

// Entry is a claimed queue row.
type Entry struct {
	Kind  QueueKind
	Key   string // URL hash, or host for the hostname queue
	URL   string // full URL text; empty for hostname-queue entries
	Score float64
}

// HistoryRecord is one immutable row appended per fetch attempt
// (one row per fetch attempt).
type HistoryRecord struct {
	URLHash         string
	Timestamp       int64
	Method          string
	StatusCode      int
	RequestHeaders  []byte
	RequestBody     []byte
	ResponseHeaders []byte
	ResponseBody    []byte
	ContentType     string
	ResponseMIME    string
	SessionCookies  []byte
	Outcome         cmn.Kind
}

// SeleniumSnapshot is one row of rendered-page metadata.
type SeleniumSnapshot struct {
	URLHash       string
	Timestamp     int64
	RenderedPath  string
	ScreenshotPath string
}

// HostnameRecord is unique by (Host, Kind).
type HostnameRecord struct {
	Host      string
	Kind      link.Kind
	FirstSeen int64
	LastSeen  int64
	Alive     bool
}

// URLRecord is unique by URLHash.
type URLRecord struct {
	URLHash   string
	Host      string
	URL       string
	BasePath  string
	FirstSeen int64
	LastSeen  int64
	Alive     bool
}

// WorkStore is the contract both backends implement. All batch operations
// are atomic per call.
type WorkStore interface {
	// SaveRequests enqueues links onto the requests queue (and their hosts
	// onto the hostname queue). nx=true means first-seen wins.
	SaveRequests(ctx context.Context, links []*link.Link, score float64, nx bool) error

	// SaveSelenium enqueues a single link onto the selenium queue.
	SaveSelenium(ctx context.Context, l *link.Link, score float64, nx bool) error

	// LoadRequests claims up to count ready entries from the requests
	// queue in ascending score and applies the configured white/black
	// lists before returning. The SQL backend breaks score ties by
	// insertion time; the Redis backend breaks them by URL hash.
	LoadRequests(ctx context.Context, count int) ([]*link.Link, error)
	LoadHostname(ctx context.Context, count int) ([]Entry, error)
	LoadSelenium(ctx context.Context, count int) ([]*link.Link, error)

	// DropHostname removes a hostname-queue entry by key, bypassing the
	// normal claim/grace cycle (the scheduler calls it for every host it
	// admits).
	DropHostname(ctx context.Context, host string) error

	// AppendHistory appends an immutable history row.
	AppendHistory(ctx context.Context, rec HistoryRecord) error
	AppendSelenium(ctx context.Context, snap SeleniumSnapshot) error

	// UpsertHost/UpsertURL are idempotent writes used by the Submit Sink.
	UpsertHost(ctx context.Context, rec HostnameRecord) error
	UpsertURL(ctx context.Context, rec URLRecord) error

	// Reboot drops all three queues; called at startup when
	// DARC_REBOOT=true.
	Reboot(ctx context.Context) error

	Close() error
}

// New opens the backend selected by config: Redis sorted sets if
// REDIS_URL is set, otherwise the SQL relational backend against DB_URL.
func New(cfg *cmn.Config) (WorkStore, error) {
	var (
		ws  WorkStore
		err error
	)
	if cfg.RedisURL != "" {
		ws, err = newRedisStore(cfg)
	} else {
		ws, err = newSQLStore(cfg)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Reboot {
		if rerr := ws.Reboot(context.Background()); rerr != nil {
			return nil, rerr
		}
	}
	return ws, nil
}

// readyScore is "now" in the monotonically evolving score space queue
// entries live in: a zero score is "ready now", any larger score is a
// future Unix timestamp.
func readyScore() float64 { return 0 }

func nowUnix() int64 { return time.Now().Unix() }
