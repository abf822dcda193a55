package cmn

import (
	"fmt"

	"github.com/golang/glog"
	"go.uber.org/atomic"
)

// Runner is the shape of the long-lived components a RunGroup drives: the
// scheduler and the metrics disk sampler.
type Runner interface {
	Name() string
	Run() error
	Stop(error)
}

// RunGroup drives a fixed set of Runners to completion and tears them all
// down, best-effort, the moment any one of them exits. There is no single
// privileged runner: whichever one exits first triggers the teardown of
// the rest.
type RunGroup struct {
	rs    map[string]Runner
	errCh chan error
}

func NewRunGroup() *RunGroup {
	return &RunGroup{rs: make(map[string]Runner, 4)}
}

func (g *RunGroup) Add(r Runner) {
	if r.Name() == "" {
		panic("cmn: runner with empty name")
	}
	if _, exists := g.rs[r.Name()]; exists {
		panic(fmt.Sprintf("cmn: runner %q already registered", r.Name()))
	}
	g.rs[r.Name()] = r
}

// Run starts every registered runner, waits for the first to exit (for any
// reason, including a clean shutdown signal), and stops the rest,
// best-effort, swallowing per-runner Stop panics.
func (g *RunGroup) Run() error {
	var stopping atomic.Bool
	g.errCh = make(chan error, len(g.rs))
	for _, r := range g.rs {
		go func(r Runner) {
			err := r.Run()
			if err != nil && !stopping.Load() {
				glog.Warningf("runner [%s] exited with err [%v]", r.Name(), err)
			}
			g.errCh <- err
		}(r)
	}

	first := <-g.errCh
	stopping.Store(true)
	for _, r := range g.rs {
		safeStop(r, first)
	}
	for i := 0; i < len(g.rs)-1; i++ {
		<-g.errCh
	}
	return first
}

// safeStop calls r.Stop and recovers from any panic: one runner's failed
// teardown must never skip the rest.
func safeStop(r Runner, cause error) {
	defer func() {
		if rec := recover(); rec != nil {
			glog.Errorf("runner [%s] panicked during Stop: %v", r.Name(), rec)
		}
	}()
	r.Stop(cause)
}
