// Package sched implements the worker-pool driver that pulls batches from
// the Work Store's queues and dispatches them to the two fetch stages,
// honoring idle-sleep and orderly shutdown.
package sched

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/OneOfOne/xxhash"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/metrics"
	"github.com/darc-project/darc/proxysuper"
	"github.com/darc-project/darc/store"
)

const (
	maxIdleSleep    = 60 * time.Second
	minIdleSleep    = 250 * time.Millisecond
	shutdownTimeout = 30 * time.Second
)

// Fetcher is the minimal interface both fetch.RequestFetcher and
// fetch.SeleniumFetcher satisfy.
type Fetcher interface {
	Fetch(ctx context.Context, l *link.Link) error
}

// Scheduler drives one of the two stages (crawler: hostname+requests
// queues; loader: selenium queue) depending on kind.
type Scheduler struct {
	cfg  *cmn.Config
	ws   store.WorkStore
	sups *proxysuper.Registry
	kind cmn.DaemonType

	fetcher  Fetcher
	dispatch Dispatcher
	shardOf  func(host string) bool // nil unless multi-process sharding is active

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	idle    time.Duration
}

// New builds a Scheduler for kind, dispatching claimed batches through
// fetcher via the Dispatcher implied by cfg.Mode.
func New(cfg *cmn.Config, ws store.WorkStore, sups *proxysuper.Registry, kind cmn.DaemonType, fetcher Fetcher) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		ws:       ws,
		sups:     sups,
		kind:     kind,
		fetcher:  fetcher,
		dispatch: newDispatcher(cfg.Mode, cfg.CPU),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		idle:     minIdleSleep,
	}
}

// WithShard restricts this Scheduler to hosts whose xxhash falls in shard
// out of shardCount, used by multi-process mode's re-exec'd children so a
// given host's rate-limit state and preflight cache stay in one process.
func (s *Scheduler) WithShard(shard, shardCount int) *Scheduler {
	if shardCount <= 1 {
		return s
	}
	s.shardOf = func(host string) bool {
		return int(xxhash.ChecksumString32(host)%uint32(shardCount)) == shard
	}
	return s
}

func (s *Scheduler) Name() string { return "scheduler-" + string(s.kind) }

// Run is the main loop: claim a batch up to DARC_CPU entries, dispatch,
// await completion, idle-sleep capped at maxIdleSleep, repeat.
func (s *Scheduler) Run() error {
	defer close(s.doneCh)
	ctx := context.Background()
	for {
		select {
		case <-s.stopCh:
			return nil
		default:
		}

		n, err := s.tick(ctx)
		if err != nil {
			glog.Warningf("sched: tick error: %v", err)
		}
		if n > 0 {
			s.idle = minIdleSleep
			continue
		}
		s.sleepIdle()
	}
}

func (s *Scheduler) sleepIdle() {
	select {
	case <-s.stopCh:
	case <-time.After(s.idle):
		if s.idle < maxIdleSleep {
			s.idle *= 2
			if s.idle > maxIdleSleep {
				s.idle = maxIdleSleep
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) (int, error) {
	switch s.kind {
	case cmn.Crawler:
		return s.tickCrawler(ctx)
	case cmn.Loader:
		return s.tickLoader(ctx)
	default:
		return 0, nil
	}
}

func (s *Scheduler) tickCrawler(ctx context.Context) (int, error) {
	hosts, err := s.ws.LoadHostname(ctx, s.cfg.CPU)
	if err != nil {
		return 0, err
	}
	metrics.SetQueueDepth(string(store.QueueHostname), len(hosts))
	for _, h := range hosts {
		s.admitHost(ctx, h)
	}

	links, err := s.ws.LoadRequests(ctx, s.cfg.CPU)
	if err != nil {
		return 0, err
	}
	links = s.filterShard(ctx, links)
	metrics.SetQueueDepth(string(store.QueueRequests), len(links))
	if len(links) == 0 {
		return len(hosts), nil
	}
	return len(hosts) + len(links), s.dispatch.RunBatch(ctx, links, s.fetcher.Fetch)
}

func (s *Scheduler) tickLoader(ctx context.Context) (int, error) {
	links, err := s.ws.LoadSelenium(ctx, s.cfg.CPU)
	if err != nil {
		return 0, err
	}
	links = s.filterShard(ctx, links)
	metrics.SetQueueDepth(string(store.QueueSelenium), len(links))
	if len(links) == 0 {
		return 0, nil
	}
	return len(links), s.dispatch.RunBatch(ctx, links, s.fetcher.Fetch)
}

// filterShard drops (and requeues for a sibling process) claimed links
// that don't belong to this process's shard.
func (s *Scheduler) filterShard(ctx context.Context, links []*link.Link) []*link.Link {
	if s.shardOf == nil {
		return links
	}
	mine := links[:0]
	var foreign []*link.Link
	for _, l := range links {
		if s.shardOf(l.Host) {
			mine = append(mine, l)
		} else {
			foreign = append(foreign, l)
		}
	}
	if len(foreign) > 0 {
		var err error
		if s.kind == cmn.Loader {
			for _, l := range foreign {
				if err = s.ws.SaveSelenium(ctx, l, 0, false); err != nil {
					break
				}
			}
		} else {
			err = s.ws.SaveRequests(ctx, foreign, 0, false)
		}
		if err != nil {
			glog.Warningf("sched: requeueing %d out-of-shard links: %v", len(foreign), err)
		}
	}
	return mine
}

// admitHost records the host as seen and drops its one-shot hostname-
// queue admission entry; per-URL preflight itself happens lazily inside
// the request fetcher the first time a URL for that host is claimed.
func (s *Scheduler) admitHost(ctx context.Context, e store.Entry) {
	now := time.Now().Unix()
	if err := s.ws.UpsertHost(ctx, store.HostnameRecord{
		Host:      e.Key,
		Kind:      hostKind(e.Key),
		FirstSeen: now,
		LastSeen:  now,
		Alive:     true,
	}); err != nil {
		glog.Warningf("sched: upserting host %s: %v", e.Key, err)
	}
	if err := s.ws.DropHostname(ctx, e.Key); err != nil {
		glog.Warningf("sched: dropping hostname entry %s: %v", e.Key, err)
	}
}

// hostKind mirrors link.Classify's suffix rules (.onion, .i2p) for a bare
// hostname, since hostname-queue entries carry no scheme or full URL.
// ZeroNet/Freenet gateway hosts are not matched and classify as KindNull.
func hostKind(host string) link.Kind {
	switch {
	case strings.HasSuffix(host, ".onion"):
		return link.KindTor
	case strings.HasSuffix(host, ".i2p"):
		return link.KindI2P
	default:
		return link.KindNull
	}
}

// Stop signals the main loop to exit, waits up to shutdownTimeout for
// in-flight work to finalize, then tears down every supervisor,
// best-effort.
func (s *Scheduler) Stop(cause error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(shutdownTimeout):
		glog.Warningf("sched: %s did not finish within %s, forcing teardown", s.Name(), shutdownTimeout)
	}
	s.sups.StopAll()
}
