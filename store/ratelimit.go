package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/buntdb"
	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-host token bucket: default one
// request per interval per host. In-memory limiters (golang.org/x/time/rate)
// do the actual pacing decision; a buntdb-backed side store persists each
// host's last-fill timestamp so pacing survives a single worker's restart
// without a full Work Store round trip (the genuine home for buntdb in
// this codebase — see SPEC_FULL.md §4.2).
type RateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	persist  *buntdb.DB // nil when persistence is disabled (e.g. tests)
}

// NewRateLimiter opens (or creates) the buntdb file at path and returns a
// limiter pacing at most one request per interval per host. An empty path
// runs in-memory only.
func NewRateLimiter(interval time.Duration, path string) (*RateLimiter, error) {
	rl := &RateLimiter{interval: interval, buckets: make(map[string]*rate.Limiter, 256)}
	if path == "" {
		return rl, nil
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: opening rate-limit store: %w", err)
	}
	rl.persist = db
	return rl, nil
}

func (rl *RateLimiter) limiterFor(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.buckets[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(rl.interval), 1)
		if rl.persist != nil {
			rl.seedFromDisk(host, lim)
		}
		rl.buckets[host] = lim
	}
	return lim
}

// seedFromDisk replays a prior process's last-fill timestamp for host by
// issuing a reservation as-of that time; if the reservation would already
// be in the past the limiter ends up exactly where a continuously-running
// process would be, without exposing any unexported rate.Limiter state.
func (rl *RateLimiter) seedFromDisk(host string, lim *rate.Limiter) {
	_ = rl.persist.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(host)
		if err != nil {
			return nil // not found: start fresh
		}
		last, perr := time.Parse(time.RFC3339Nano, val)
		if perr != nil {
			return nil
		}
		lim.ReserveN(last, 1)
		return nil
	})
}

// Allow reports whether host may be fetched now. When it cannot, the
// second result is the duration the caller should wait before the entry
// is re-scored to now+wait and requeued.
func (rl *RateLimiter) Allow(host string) (bool, time.Duration) {
	lim := rl.limiterFor(host)
	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, rl.interval
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	if rl.persist != nil {
		_ = rl.persist.Update(func(tx *buntdb.Tx) error {
			ttl := rl.interval * 10
			_, _, err := tx.Set(host, now.Format(time.RFC3339Nano), &buntdb.SetOptions{Expires: true, TTL: ttl})
			return err
		})
	}
	return true, 0
}

func (rl *RateLimiter) Close() error {
	if rl.persist == nil {
		return nil
	}
	return rl.persist.Close()
}
