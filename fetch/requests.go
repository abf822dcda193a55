package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/darc-project/darc/archive"
	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/metrics"
	"github.com/darc-project/darc/proxysuper"
	"github.com/darc-project/darc/store"
)

// retryBackoff is the fixed 1s/4s/16s curve applied to network timeouts
// and 5xx responses.
var retryBackoff = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// RequestFetcher runs the stage-one pipeline for a single claimed Link:
// per-host preflight, robots/MIME gating, GET with retry, history
// persistence, link extraction, and requeueing of discovered URLs.
type RequestFetcher struct {
	cfg    *cmn.Config
	ws     store.WorkStore
	sups   *proxysuper.Registry
	pre    *preflighter
	rl     *store.RateLimiter
	mirror archive.Mirror
	root   string
}

func NewRequestFetcher(cfg *cmn.Config, ws store.WorkStore, sups *proxysuper.Registry, rl *store.RateLimiter, mirror archive.Mirror) *RequestFetcher {
	return &RequestFetcher{
		cfg:    cfg,
		ws:     ws,
		sups:   sups,
		pre:    newPreflighter(sups, ws, cfg.PathData),
		rl:     rl,
		mirror: mirror,
		root:   cfg.PathData,
	}
}

// Fetch drives one Link through the full stage-one pipeline. It never
// returns an error for a terminal outcome (robots/MIME/proxy denial,
// exhausted retries) — those are recorded as history rows. It returns an
// error only when the Link could not be processed at all (store failure
// while requeueing, e.g.), a signal the scheduler may act on.
func (f *RequestFetcher) Fetch(ctx context.Context, l *link.Link) error {
	if !f.cfg.ProxyList.Allowed(string(l.Kind)) {
		return f.record(ctx, l, 0, cmn.KindProxyDenied, "proxy kind denied by configuration")
	}

	if ok, wait := f.rl.Allow(l.Host); !ok {
		return f.ws.SaveRequests(ctx, []*link.Link{l}, float64(time.Now().Add(wait).Unix()), false)
	}

	sup, err := f.sups.For(l.Kind)
	if err != nil {
		return f.record(ctx, l, 0, cmn.KindProxyDenied, err.Error())
	}
	cli, err := sup.HTTPSession(ctx)
	if err != nil {
		return f.record(ctx, l, 0, cmn.KindBootstrapFailed, err.Error())
	}

	st, err := f.pre.ensure(ctx, l)
	if err != nil {
		glog.Warningf("fetch: preflight for %s failed: %v", l.Host, err)
		st = nil
	}

	if !f.cfg.Force && !st.allowed(l.Path) {
		return f.record(ctx, l, 0, cmn.KindRobotsDenied, "disallowed by robots.txt")
	}

	if denied, reason := f.mimeDenied(ctx, cli, l); denied {
		return f.record(ctx, l, 0, cmn.KindMIMEDenied, reason)
	}

	status, body, headers, outcome := f.getWithRetry(ctx, cli, l.Canonical())
	metrics.ObserveFetchOutcome(string(outcome))
	ts := time.Now().Unix()
	if status > 0 {
		path := l.ArtifactPath(f.root, link.ArtifactHistory, ts, status)
		writeFileBestEffort(path, body)
	}

	contentType := string(headers["Content-Type"])
	if status > 0 {
		mirrorBestEffort(ctx, f.mirror, l.ArtifactPath(f.root, link.ArtifactHistory, ts, status), contentType, body)
	}
	if err := f.ws.AppendHistory(ctx, store.HistoryRecord{
		URLHash:      l.URLHash,
		Timestamp:    ts,
		Method:       "GET",
		StatusCode:   status,
		ContentType:  contentType,
		ResponseMIME: contentType,
		Outcome:      outcome,
	}); err != nil {
		glog.Warningf("fetch: appending history for %s: %v", l.URLHash, err)
	}

	if cmn.Terminal(outcome) || status >= 400 {
		return nil
	}

	f.enqueueExtractedLinks(ctx, l, contentType, body)

	if classifyContentType(contentType) == familyHTML {
		if err := f.ws.SaveSelenium(ctx, l, 0, true); err != nil {
			glog.Warningf("fetch: enqueueing %s onto selenium queue: %v", l.URLHash, err)
		}
	}
	return nil
}

// mimeDenied issues a HEAD (falling back to treating an error as "allow",
// since MIME_FALLBACK governs unknown content, not unreachable hosts) and
// applies the configured MIME white/black lists.
func (f *RequestFetcher) mimeDenied(ctx context.Context, cli *proxysuper.Client, l *link.Link) (bool, string) {
	_, contentType, err := cli.Head(ctx, l.Canonical())
	if err != nil || contentType == "" {
		return false, ""
	}
	if !f.cfg.MIMEList.Allowed(contentType) {
		return true, fmt.Sprintf("content-type %q denied by configuration", contentType)
	}
	return false, ""
}

// getWithRetry retries network timeouts and 5xx responses up to
// len(retryBackoff) times; 4xx is recorded, never retried.
func (f *RequestFetcher) getWithRetry(ctx context.Context, cli *proxysuper.Client, rawURL string) (status int, body []byte, headers map[string][]byte, outcome cmn.Kind) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		status, body, headers, lastErr = cli.Fetch(ctx, rawURL)
		if lastErr == nil {
			switch {
			case status >= 500:
				outcome = cmn.KindHTTPErrorServer
			case status >= 400:
				return status, body, headers, cmn.KindHTTPErrorClient
			default:
				return status, body, headers, cmn.KindOK
			}
		} else {
			outcome = cmn.KindNetworkTransient
		}
		if attempt >= len(retryBackoff) {
			return status, body, headers, outcome
		}
		select {
		case <-ctx.Done():
			return status, body, headers, cmn.KindNetworkTimeout
		case <-time.After(retryBackoff[attempt]):
		}
	}
}

func (f *RequestFetcher) enqueueExtractedLinks(ctx context.Context, parent *link.Link, contentType string, body []byte) {
	raw := extractLinks(contentType, body)
	var fresh []*link.Link
	for _, r := range raw {
		child, err := link.Parse(r, parent)
		if err != nil {
			continue
		}
		if !f.cfg.LinkList.Allowed(child.Canonical()) {
			continue
		}
		fresh = append(fresh, child)
	}
	if len(fresh) == 0 {
		return
	}
	if err := f.ws.SaveRequests(ctx, fresh, 0, true); err != nil {
		glog.Warningf("fetch: enqueueing %d links extracted from %s: %v", len(fresh), parent.URLHash, err)
	}
}

func (f *RequestFetcher) record(ctx context.Context, l *link.Link, status int, kind cmn.Kind, reason string) error {
	metrics.ObserveFetchOutcome(string(kind))
	glog.V(1).Infof("fetch: dropping %s: %s", l.Canonical(), reason)
	return f.ws.AppendHistory(ctx, store.HistoryRecord{
		URLHash:    l.URLHash,
		Timestamp:  time.Now().Unix(),
		Method:     "GET",
		StatusCode: status,
		Outcome:    kind,
	})
}
