// Command darc is the crawler/loader process entry point: it parses the
// `-t/--type` and `-f/--file` flags plus positional seed links, wires up
// the Work Store, Proxy Supervisor registry, fetch stages and Scheduler,
// and runs until terminated.
/*
 * Copyright (c) 2018-2026, darc project contributors. All rights reserved.
 */
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/golang/glog"

	"github.com/darc-project/darc/archive"
	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/fetch"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/metrics"
	"github.com/darc-project/darc/proxysuper"
	"github.com/darc-project/darc/sched"
	"github.com/darc-project/darc/store"
	"github.com/darc-project/darc/submit"
)

const (
	exitOK       = 0
	exitArgError = 1
	exitFatal    = 2
)

type stringList []string

func (l *stringList) String() string { return fmt.Sprintf("%v", []string(*l)) }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	var (
		daemonType string
		files      stringList
	)
	flag.StringVar(&daemonType, "t", "", "process type: crawler | loader (required)")
	flag.StringVar(&daemonType, "type", "", "process type: crawler | loader (required)")
	flag.Var(&files, "f", "file of newline-separated seed links (repeatable)")
	flag.Var(&files, "file", "file of newline-separated seed links (repeatable)")
	flag.Parse()

	kind, err := parseDaemonType(daemonType)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return exitArgError
	}

	seeds, err := collectSeeds(files, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitArgError
	}

	cfg, err := cmn.LoadConfig()
	if err != nil {
		glog.Errorf("darc: loading config: %v", err)
		return exitArgError
	}
	cmn.GCOPut(cfg)

	ws, err := store.New(cfg)
	if err != nil {
		glog.Errorf("darc: opening work store: %v", err)
		return exitFatal
	}
	defer ws.Close()

	if len(seeds) > 0 {
		if err := ws.SaveRequests(context.Background(), seeds, 0, true); err != nil {
			glog.Errorf("darc: seeding %d links: %v", len(seeds), err)
			return exitFatal
		}
	}

	sink, err := submit.New(cfg, ws)
	if err != nil {
		glog.Errorf("darc: opening submit sink: %v", err)
		return exitFatal
	}
	defer sink.Close()
	if err := sink.Reindex(context.Background()); err != nil {
		glog.Warningf("darc: reindex: %v", err)
	}

	mirror, err := archive.New(cfg)
	if err != nil {
		glog.Errorf("darc: opening archive mirror: %v", err)
		return exitFatal
	}
	defer mirror.Close()

	sups := proxysuper.NewRegistry(cfg)
	rl, err := store.NewRateLimiter(cfg.HostRateInterval, rateLimiterPath(cfg))
	if err != nil {
		glog.Errorf("darc: opening rate limiter: %v", err)
		return exitFatal
	}
	defer rl.Close()

	var fetcher sched.Fetcher
	switch kind {
	case cmn.Crawler:
		fetcher = fetch.NewRequestFetcher(cfg, ws, sups, rl, mirror)
	case cmn.Loader:
		fetcher = fetch.NewSeleniumFetcher(cfg, ws, sups, mirror)
	}

	scheduler := sched.New(cfg, ws, sups, kind, fetcher)
	if shard, count, ok := sched.ShardFromEnv(); ok {
		scheduler = scheduler.WithShard(shard, count)
	}

	group := cmn.NewRunGroup()
	group.Add(scheduler)
	group.Add(metrics.NewDiskSampler())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		glog.Infof("darc: received %v, shutting down", sig)
		for _, r := range []cmn.Runner{scheduler} {
			r.Stop(nil)
		}
	}()

	if err := group.Run(); err != nil {
		glog.Errorf("darc: exited with error: %v", err)
		return exitFatal
	}
	return exitOK
}

func parseDaemonType(v string) (cmn.DaemonType, error) {
	switch v {
	case string(cmn.Crawler):
		return cmn.Crawler, nil
	case string(cmn.Loader):
		return cmn.Loader, nil
	default:
		return "", fmt.Errorf("darc: -t/--type must be %q or %q, got %q", cmn.Crawler, cmn.Loader, v)
	}
}

// collectSeeds reads every -f/--file and appends the positional args,
// parsing each line/argument as a Link.
func collectSeeds(files stringList, positional []string) ([]*link.Link, error) {
	var raw []string
	for _, path := range files {
		lines, err := readLines(path)
		if err != nil {
			return nil, fmt.Errorf("darc: reading seed file %s: %w", path, err)
		}
		raw = append(raw, lines...)
	}
	raw = append(raw, positional...)

	seeds := make([]*link.Link, 0, len(raw))
	for _, r := range raw {
		l, err := link.Parse(r, nil)
		if err != nil {
			glog.Warningf("darc: skipping unparseable seed %q: %v", r, err)
			continue
		}
		seeds = append(seeds, l)
	}
	return seeds, nil
}

func rateLimiterPath(cfg *cmn.Config) string {
	return filepath.Join(cfg.PathData, "ratelimit.db")
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
