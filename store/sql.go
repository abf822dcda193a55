package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
)

// sqlStore implements Backend B: one table per queue, each
// with (url_hash PK, url, score, timestamp). Claim is a transaction that
// would use `SELECT ... FOR UPDATE SKIP LOCKED` on a driver that supports
// it; sqlite3 (this driver, matching the default `sqlite/darc.db` layout
// does not, so a single global advisory lock
// (claimMu) serializes claims as the
// fallback.
type sqlStore struct {
	db      *sql.DB
	cfg     *cmn.Config
	dedup   *Dedup
	claimMu sync.Mutex
}

func newSQLStore(cfg *cmn.Config) (*sqlStore, error) {
	dsn := cfg.DBURL
	if dsn == "" {
		dsn = "sqlite/darc.db"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "open sqlite", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	ss := &sqlStore{db: db, cfg: cfg, dedup: NewDedup(1 << 20)}
	if err := ss.migrate(); err != nil {
		return nil, err
	}
	return ss, nil
}

func (ss *sqlStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_hostname (
			key TEXT PRIMARY KEY, url TEXT, score REAL NOT NULL, ts INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS queue_requests (
			key TEXT PRIMARY KEY, url TEXT NOT NULL, score REAL NOT NULL, ts INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS queue_selenium (
			key TEXT PRIMARY KEY, url TEXT NOT NULL, score REAL NOT NULL, ts INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS claimed (
			queue TEXT NOT NULL, key TEXT NOT NULL, url TEXT, expires_at INTEGER NOT NULL,
			PRIMARY KEY (queue, key))`,
		`CREATE TABLE IF NOT EXISTS history (
			url_hash TEXT, ts INTEGER, method TEXT, status INTEGER,
			req_headers BLOB, req_body BLOB, resp_headers BLOB, resp_body BLOB,
			content_type TEXT, resp_mime TEXT, cookies BLOB, outcome TEXT)`,
		`CREATE TABLE IF NOT EXISTS selenium_snapshots (
			url_hash TEXT, ts INTEGER, rendered_path TEXT, screenshot_path TEXT)`,
		`CREATE TABLE IF NOT EXISTS hostnames (
			host TEXT, kind TEXT, first_seen INTEGER, last_seen INTEGER, alive INTEGER,
			PRIMARY KEY (host, kind))`,
		`CREATE TABLE IF NOT EXISTS urls (
			url_hash TEXT PRIMARY KEY, host TEXT, url TEXT, base_path TEXT,
			first_seen INTEGER, last_seen INTEGER, alive INTEGER)`,
	}
	for _, s := range stmts {
		if _, err := ss.db.Exec(s); err != nil {
			return cmn.NewError(cmn.KindDatabaseOpFailed, "migrate: "+s, err)
		}
	}
	return nil
}

func queueTable(kind QueueKind) string {
	switch kind {
	case QueueHostname:
		return "queue_hostname"
	case QueueRequests:
		return "queue_requests"
	case QueueSelenium:
		return "queue_selenium"
	}
	panic("store: unknown queue kind " + string(kind))
}

func (ss *sqlStore) upsertQueueRow(ctx context.Context, tx *sql.Tx, kind QueueKind, key, url string, score float64, nx bool) error {
	table := queueTable(kind)
	var q string
	if nx {
		q = fmt.Sprintf(`INSERT INTO %s (key, url, score, ts) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO NOTHING`, table)
	} else {
		q = fmt.Sprintf(`INSERT INTO %s (key, url, score, ts) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET score=excluded.score, ts=excluded.ts`, table)
	}
	_, err := tx.ExecContext(ctx, q, key, url, score, nowUnix())
	return err
}

func (ss *sqlStore) SaveRequests(ctx context.Context, links []*link.Link, score float64, nx bool) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "begin save requests tx", err)
	}
	defer tx.Rollback()
	for _, l := range links {
		// A filter hit never skips the write itself: the ON CONFLICT clause
		// in upsertQueueRow is the authoritative nx check. The filter only
		// ever lets a provably-new hash (a miss) fast-path past any future
		// pre-existence read added here; it must never cause a real enqueue
		// to be dropped.
		if err := ss.upsertQueueRow(ctx, tx, QueueRequests, l.URLHash, l.Canonical(), score, nx); err != nil {
			return cmn.NewError(cmn.KindDatabaseOpFailed, "insert requests row", err)
		}
		if err := ss.upsertQueueRow(ctx, tx, QueueHostname, l.Host, "", readyScore(), true); err != nil {
			return cmn.NewError(cmn.KindDatabaseOpFailed, "insert hostname row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "commit save requests", err)
	}
	for _, l := range links {
		ss.dedup.Observe(l.URLHash)
	}
	return nil
}

func (ss *sqlStore) SaveSelenium(ctx context.Context, l *link.Link, score float64, nx bool) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "begin save selenium tx", err)
	}
	defer tx.Rollback()
	if err := ss.upsertQueueRow(ctx, tx, QueueSelenium, l.URLHash, l.Canonical(), score, nx); err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "insert selenium row", err)
	}
	if err := tx.Commit(); err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "commit save selenium", err)
	}
	return nil
}

// claim implements `SELECT ... ORDER BY score, ts LIMIT count FOR UPDATE
// SKIP LOCKED` logically, using claimMu in place of SKIP LOCKED since
// sqlite3 has no row-level locking.
func (ss *sqlStore) claim(ctx context.Context, kind QueueKind, count int) ([]Entry, error) {
	ss.claimMu.Lock()
	defer ss.claimMu.Unlock()

	table := queueTable(kind)
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "begin claim tx", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	// release expired claims first
	if _, err := tx.ExecContext(ctx, `DELETE FROM claimed WHERE queue = ? AND expires_at < ?`, string(kind), now); err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "release expired claims", err)
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT q.key, q.url, q.score FROM %s q
		 LEFT JOIN claimed c ON c.queue = ? AND c.key = q.key
		 WHERE q.score <= ? AND c.key IS NULL
		 ORDER BY q.score ASC, q.ts ASC LIMIT ?`, table), string(kind), float64(now), count)
	if err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "select ready entries", err)
	}
	var out []Entry
	for rows.Next() {
		var e Entry
		e.Kind = kind
		if err := rows.Scan(&e.Key, &e.URL, &e.Score); err != nil {
			rows.Close()
			return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "scan claim row", err)
		}
		out = append(out, e)
	}
	rows.Close()

	grace := int64(ss.cfg.TimeCache.Seconds())
	for _, e := range out {
		if grace > 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO claimed (queue, key, url, expires_at) VALUES (?, ?, ?, ?)`,
				string(kind), e.Key, e.URL, now+grace); err != nil {
				return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "insert claimed row", err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table), e.Key); err != nil {
			return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "delete claimed from queue", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "commit claim", err)
	}
	return out, nil
}

func (ss *sqlStore) LoadRequests(ctx context.Context, count int) ([]*link.Link, error) {
	entries, err := ss.claim(ctx, QueueRequests, count)
	if err != nil {
		return nil, err
	}
	return ss.toLinks(entries)
}

func (ss *sqlStore) LoadSelenium(ctx context.Context, count int) ([]*link.Link, error) {
	entries, err := ss.claim(ctx, QueueSelenium, count)
	if err != nil {
		return nil, err
	}
	return ss.toLinks(entries)
}

func (ss *sqlStore) LoadHostname(ctx context.Context, count int) ([]Entry, error) {
	entries, err := ss.claim(ctx, QueueHostname, count)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if !ss.cfg.ProxyList.Allowed(e.Key) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (ss *sqlStore) toLinks(entries []Entry) ([]*link.Link, error) {
	out := make([]*link.Link, 0, len(entries))
	for _, e := range entries {
		if !ss.cfg.LinkList.Allowed(e.URL) {
			continue
		}
		l, err := link.Parse(e.URL, nil)
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (ss *sqlStore) DropHostname(ctx context.Context, host string) error {
	_, err := ss.db.ExecContext(ctx, `DELETE FROM queue_hostname WHERE key = ?`, host)
	if err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "drop hostname", err)
	}
	return nil
}

func (ss *sqlStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	_, err := ss.db.ExecContext(ctx, `INSERT INTO history
		(url_hash, ts, method, status, req_headers, req_body, resp_headers, resp_body,
		 content_type, resp_mime, cookies, outcome) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.URLHash, rec.Timestamp, rec.Method, rec.StatusCode, rec.RequestHeaders, rec.RequestBody,
		rec.ResponseHeaders, rec.ResponseBody, rec.ContentType, rec.ResponseMIME, rec.SessionCookies, string(rec.Outcome))
	if err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "append history", err)
	}
	return nil
}

func (ss *sqlStore) AppendSelenium(ctx context.Context, snap SeleniumSnapshot) error {
	_, err := ss.db.ExecContext(ctx, `INSERT INTO selenium_snapshots
		(url_hash, ts, rendered_path, screenshot_path) VALUES (?,?,?,?)`,
		snap.URLHash, snap.Timestamp, snap.RenderedPath, snap.ScreenshotPath)
	if err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "append selenium snapshot", err)
	}
	return nil
}

func (ss *sqlStore) UpsertHost(ctx context.Context, rec HostnameRecord) error {
	_, err := ss.db.ExecContext(ctx, `INSERT INTO hostnames (host, kind, first_seen, last_seen, alive)
		VALUES (?,?,?,?,?)
		ON CONFLICT(host, kind) DO UPDATE SET last_seen=excluded.last_seen, alive=excluded.alive`,
		rec.Host, string(rec.Kind), rec.FirstSeen, rec.LastSeen, boolToInt(rec.Alive))
	if err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "upsert hostname", err)
	}
	return nil
}

func (ss *sqlStore) UpsertURL(ctx context.Context, rec URLRecord) error {
	_, err := ss.db.ExecContext(ctx, `INSERT INTO urls (url_hash, host, url, base_path, first_seen, last_seen, alive)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(url_hash) DO UPDATE SET last_seen=excluded.last_seen, alive=excluded.alive`,
		rec.URLHash, rec.Host, rec.URL, rec.BasePath, rec.FirstSeen, rec.LastSeen, boolToInt(rec.Alive))
	if err != nil {
		return cmn.NewError(cmn.KindDatabaseOpFailed, "upsert url", err)
	}
	return nil
}

func (ss *sqlStore) Reboot(ctx context.Context) error {
	for _, t := range []string{"queue_hostname", "queue_requests", "queue_selenium", "claimed"} {
		if _, err := ss.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return cmn.NewError(cmn.KindDatabaseOpFailed, "reboot: clear "+t, err)
		}
	}
	return nil
}

func (ss *sqlStore) Close() error { return ss.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
