package store

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
)

// redisStore implements Backend A: each queue is a sorted
// set keyed by score, the member is the URL hash, and the URL text lives
// in a side hash keyed by URL hash. A Lua script claims ready members
// atomically: it removes them from the queue, so no other worker observes
// them, and records them in a claimed-set scored now+TIME_CACHE. The
// claimed-set is not read back: expired claims are not returned to the
// queue, and there is no ack. Members with equal scores are claimed in
// member (URL hash) order, not insertion order.
type redisStore struct {
	cli    *redis.Client
	cfg    *cmn.Config
	dedup  *Dedup
	claimSHA string
}

const claimScript = `
local zkey = KEYS[1]
local claimedkey = KEYS[2]
local now = tonumber(ARGV[1])
local count = tonumber(ARGV[2])
local grace = tonumber(ARGV[3])
local members = redis.call('ZRANGEBYSCORE', zkey, '-inf', now, 'LIMIT', 0, count)
if #members == 0 then
  return {}
end
for i, m in ipairs(members) do
  redis.call('ZREM', zkey, m)
  if grace > 0 then
    redis.call('ZADD', claimedkey, now + grace, m)
  end
end
return members
`

func newRedisStore(cfg *cmn.Config) (*redisStore, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid REDIS_URL: %w", err)
	}
	cli := redis.NewClient(opt)
	rs := &redisStore{cli: cli, cfg: cfg, dedup: NewDedup(1 << 20)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rs.pingWithRetry(ctx); err != nil {
		return nil, err
	}
	sha, err := cli.ScriptLoad(ctx, claimScript).Result()
	if err != nil {
		return nil, cmn.NewError(cmn.KindWorkStoreUnavailable, "loading claim script", err)
	}
	rs.claimSHA = sha
	return rs, nil
}

// pingWithRetry pings until Redis answers, doubling the wait between
// attempts up to 60s, and gives up with KindWorkStoreUnavailable once ctx
// expires (newRedisStore allows 10s).
func (rs *redisStore) pingWithRetry(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := rs.cli.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			glog.Warningf("store: redis unavailable, retrying in %s: %v", backoff, err)
		}
		select {
		case <-ctx.Done():
			return cmn.NewError(cmn.KindWorkStoreUnavailable, "redis ping", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 60*time.Second {
			backoff = 60 * time.Second
		}
	}
}

func zsetKey(kind QueueKind) string    { return "darc:q:" + string(kind) }
func claimedKey(kind QueueKind) string { return "darc:claimed:" + string(kind) }
func mapKey(kind QueueKind) string     { return "darc:map:" + string(kind) }

func (rs *redisStore) SaveRequests(ctx context.Context, links []*link.Link, score float64, nx bool) error {
	if len(links) == 0 {
		return nil
	}
	pipe := rs.cli.TxPipeline()
	for _, l := range links {
		// A filter hit never skips the write itself: ZAddNX below is the
		// authoritative nx check. The filter only ever lets a provably-new
		// hash (a miss) fast-path past any future pre-existence read added
		// here; it must never cause a real enqueue to be dropped.
		rs.addToZSet(ctx, pipe, QueueRequests, l.URLHash, score, nx)
		rs.addToZSet(ctx, pipe, QueueHostname, l.Host, readyScore(), true)
		ue := urlEntry{URL: l.Canonical(), Host: l.Host}
		b, _ := ue.MarshalMsg(nil)
		pipe.HSet(ctx, mapKey(QueueRequests), l.URLHash, b)
		pipe.HSet(ctx, mapKey(QueueHostname), l.Host, l.Host)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "save requests batch", err)
	}
	for _, l := range links {
		rs.dedup.Observe(l.URLHash)
	}
	return nil
}

func (rs *redisStore) SaveSelenium(ctx context.Context, l *link.Link, score float64, nx bool) error {
	pipe := rs.cli.TxPipeline()
	rs.addToZSet(ctx, pipe, QueueSelenium, l.URLHash, score, nx)
	ue := urlEntry{URL: l.Canonical(), Host: l.Host}
	b, _ := ue.MarshalMsg(nil)
	pipe.HSet(ctx, mapKey(QueueSelenium), l.URLHash, b)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "save selenium", err)
	}
	return nil
}

func (rs *redisStore) addToZSet(ctx context.Context, pipe redis.Pipeliner, kind QueueKind, member string, score float64, nx bool) {
	z := redis.Z{Score: score, Member: member}
	if nx {
		pipe.ZAddNX(ctx, zsetKey(kind), z)
	} else {
		pipe.ZAdd(ctx, zsetKey(kind), z)
	}
}

func (rs *redisStore) claim(ctx context.Context, kind QueueKind, count int) ([]string, error) {
	now := float64(time.Now().Unix())
	res, err := rs.cli.EvalSha(ctx, rs.claimSHA, []string{zsetKey(kind), claimedKey(kind)},
		now, count, rs.cfg.TimeCache.Seconds()).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, cmn.NewError(cmn.KindWorkStoreUnavailable, "claim "+string(kind), err)
	}
	return res, nil
}

func (rs *redisStore) LoadRequests(ctx context.Context, count int) ([]*link.Link, error) {
	hashes, err := rs.claim(ctx, QueueRequests, count)
	if err != nil || len(hashes) == 0 {
		return nil, err
	}
	return rs.resolveLinks(ctx, QueueRequests, hashes)
}

func (rs *redisStore) LoadSelenium(ctx context.Context, count int) ([]*link.Link, error) {
	hashes, err := rs.claim(ctx, QueueSelenium, count)
	if err != nil || len(hashes) == 0 {
		return nil, err
	}
	return rs.resolveLinks(ctx, QueueSelenium, hashes)
}

func (rs *redisStore) LoadHostname(ctx context.Context, count int) ([]Entry, error) {
	hosts, err := rs.claim(ctx, QueueHostname, count)
	if err != nil || len(hosts) == 0 {
		return nil, err
	}
	out := make([]Entry, 0, len(hosts))
	for _, h := range hosts {
		if !rs.cfg.ProxyList.Allowed(h) {
			continue
		}
		out = append(out, Entry{Kind: QueueHostname, Key: h})
	}
	return out, nil
}

func (rs *redisStore) resolveLinks(ctx context.Context, kind QueueKind, hashes []string) ([]*link.Link, error) {
	raws, err := rs.cli.HMGet(ctx, mapKey(kind), hashes...).Result()
	if err != nil {
		return nil, cmn.NewError(cmn.KindWorkStoreUnavailable, "resolve link map", err)
	}
	out := make([]*link.Link, 0, len(raws))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok || s == "" {
			continue
		}
		var ue urlEntry
		if _, err := ue.UnmarshalMsg([]byte(s)); err != nil {
			glog.Warningf("store: corrupt side-mapping entry: %v", err)
			continue
		}
		l, err := link.Parse(ue.URL, nil)
		if err != nil {
			continue
		}
		if !rs.cfg.LinkList.Allowed(ue.URL) || !rs.cfg.MIMEList.Allowed("") {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (rs *redisStore) DropHostname(ctx context.Context, host string) error {
	if err := rs.cli.ZRem(ctx, zsetKey(QueueHostname), host).Err(); err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "drop hostname", err)
	}
	return nil
}

func (rs *redisStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	key := fmt.Sprintf("darc:history:%s", rec.URLHash)
	b, err := jsonMarshalHistory(rec)
	if err != nil {
		return err
	}
	if err := rs.cli.RPush(ctx, key, b).Err(); err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "append history", err)
	}
	return nil
}

func (rs *redisStore) AppendSelenium(ctx context.Context, snap SeleniumSnapshot) error {
	key := fmt.Sprintf("darc:selenium:%s", snap.URLHash)
	b, err := jsonMarshalSnapshot(snap)
	if err != nil {
		return err
	}
	if err := rs.cli.RPush(ctx, key, b).Err(); err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "append selenium snapshot", err)
	}
	return nil
}

func (rs *redisStore) UpsertHost(ctx context.Context, rec HostnameRecord) error {
	key := fmt.Sprintf("darc:host:%s:%s", rec.Kind, rec.Host)
	b, _ := jsonMarshalHost(rec)
	if err := rs.cli.Set(ctx, key, b, 0).Err(); err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "upsert host", err)
	}
	return nil
}

func (rs *redisStore) UpsertURL(ctx context.Context, rec URLRecord) error {
	key := fmt.Sprintf("darc:url:%s", rec.URLHash)
	b, _ := jsonMarshalURL(rec)
	if err := rs.cli.Set(ctx, key, b, 0).Err(); err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "upsert url", err)
	}
	return nil
}

func (rs *redisStore) Reboot(ctx context.Context) error {
	keys := []string{zsetKey(QueueHostname), zsetKey(QueueRequests), zsetKey(QueueSelenium),
		claimedKey(QueueHostname), claimedKey(QueueRequests), claimedKey(QueueSelenium),
		mapKey(QueueHostname), mapKey(QueueRequests), mapKey(QueueSelenium)}
	if err := rs.cli.Del(ctx, keys...).Err(); err != nil {
		return cmn.NewError(cmn.KindWorkStoreUnavailable, "reboot: drop queues", err)
	}
	return nil
}

func (rs *redisStore) Close() error { return rs.cli.Close() }
