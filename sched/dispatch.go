package sched

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
)

type workFunc func(context.Context, *link.Link) error

// Dispatcher is the per-process worker-pool discipline a Scheduler
// dispatches a claimed batch through: cooperative (one worker, strictly
// sequential) or thread (up to DARC_CPU goroutines). ModeMultiProcess
// selects the thread Dispatcher as well. RunMultiProcess (multiprocess.go)
// can re-exec the binary into DARC_CPU sharded children, but cmd/darc does
// not call it, so with DARC_MULTIPROCESSING=true darc runs as a single
// process with a thread Dispatcher.
type Dispatcher interface {
	RunBatch(ctx context.Context, items []*link.Link, work workFunc) error
}

type cooperativeDispatcher struct{}

func (cooperativeDispatcher) RunBatch(ctx context.Context, items []*link.Link, work workFunc) error {
	for _, it := range items {
		if err := work(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// threadDispatcher bounds concurrent stage workers at a fixed weight via
// golang.org/x/sync/semaphore, fanning out with golang.org/x/sync/errgroup.
type threadDispatcher struct {
	sem *semaphore.Weighted
}

func newThreadDispatcher(cpu int) *threadDispatcher {
	if cpu < 1 {
		cpu = 1
	}
	return &threadDispatcher{sem: semaphore.NewWeighted(int64(cpu))}
}

func (d *threadDispatcher) RunBatch(ctx context.Context, items []*link.Link, work workFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, it := range items {
		it := it
		if err := d.sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer d.sem.Release(1)
			return work(gctx, it)
		})
	}
	return g.Wait()
}

func newDispatcher(mode cmn.Mode, cpu int) Dispatcher {
	switch mode {
	case cmn.ModeMultiThread, cmn.ModeMultiProcess:
		return newThreadDispatcher(cpu)
	default:
		return cooperativeDispatcher{}
	}
}
