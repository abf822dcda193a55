// Package proxysuper implements the Proxy Supervisor: one object per proxy
// kind owns the external daemon's lifecycle, bootstraps it lazily and
// single-flight, and hands out configured HTTP-client and browser-driver
// factories.
//
// The registry/lazy-init shape generalizes the process-wide config-owner
// pattern from "one config" to "one supervisor per proxy kind, shared
// across all workers within a process".
/*
 * Copyright (c) 2018-2026, darc project contributors. All rights reserved.
 */
package proxysuper

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/metrics"
)

// State is the supervisor state machine.
type State int

const (
	StateIdle State = iota
	StateBootstrapping
	StateReady
	StateFailed
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// daemon is the per-kind black-box subprocess contract a Supervisor drives.
// The concrete per-network daemons and the clear-web no-op daemon in
// daemons.go implement this.
type daemon interface {
	kind() link.Kind
	// start launches the subprocess if not already running; it must be
	// idempotent.
	start(ctx context.Context) error
	// ready polls the daemon's readiness signal, returning nil once ready.
	ready(ctx context.Context) error
	// stop is best-effort and must never return an error the caller is
	// expected to act on; Supervisor.Stop already swallows it.
	stop()
	config() cmn.ProxyDaemonConfig
}

// Supervisor owns exactly one daemon's lifecycle and session factories.
type Supervisor struct {
	d daemon

	mu    sync.Mutex
	state State
	err   error // non-nil once state == StateFailed

	group singleflight.Group

	pool *driverPool
}

func newSupervisor(d daemon) *Supervisor {
	return &Supervisor{d: d, state: StateIdle, pool: newDriverPool()}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// bootstrap is lazy and single-flight: concurrent callers share one
// bootstrap attempt: supervisors are lazy.
func (s *Supervisor) bootstrap(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateFailed {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	_, err, _ := s.group.Do(string(s.d.kind()), func() (interface{}, error) {
		return nil, s.doBootstrap(ctx)
	})
	return err
}

func (s *Supervisor) doBootstrap(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.state = StateBootstrapping
	s.mu.Unlock()
	metrics.SetBootstrapState(string(s.d.kind()), int(StateBootstrapping))

	cfg := s.d.config()
	var lastErr error
	for attempt := 0; attempt <= cfg.Retry; attempt++ {
		if attempt > 0 {
			glog.Warningf("proxysuper: %s bootstrap retry %d/%d: %v", s.d.kind(), attempt, cfg.Retry, lastErr)
		}
		bctx, cancel := context.WithTimeout(ctx, cfg.Wait)
		lastErr = s.attemptBootstrap(bctx)
		cancel()
		if lastErr == nil {
			s.mu.Lock()
			s.state = StateReady
			s.mu.Unlock()
			metrics.SetBootstrapState(string(s.d.kind()), int(StateReady))
			glog.Infof("proxysuper: %s ready", s.d.kind())
			return nil
		}
	}

	ferr := cmn.NewError(cmn.KindBootstrapFailed, fmt.Sprintf("%s bootstrap failed after %d retries", s.d.kind(), cfg.Retry), lastErr)
	s.mu.Lock()
	s.state = StateFailed
	s.err = ferr
	s.mu.Unlock()
	metrics.SetBootstrapState(string(s.d.kind()), int(StateFailed))
	return ferr
}

func (s *Supervisor) attemptBootstrap(ctx context.Context) error {
	if err := s.d.start(ctx); err != nil {
		return err
	}
	return s.d.ready(ctx)
}

// Restart is the only transition allowed from StateReady back to
// StateBootstrapping.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateIdle
	s.err = nil
	s.mu.Unlock()
	return s.bootstrap(ctx)
}

// Stop is idempotent and never returns an error; it swallows everything
// it must never raise.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateStopping {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()
	metrics.SetBootstrapState(string(s.d.kind()), int(StateStopping))

	func() {
		defer func() {
			if r := recover(); r != nil {
				glog.Errorf("proxysuper: %s panicked during stop: %v", s.d.kind(), r)
			}
		}()
		s.d.stop()
	}()
	s.pool.closeAll()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	metrics.SetBootstrapState(string(s.d.kind()), int(StateIdle))
}

// HTTPSession returns a configured client proxied through this daemon,
// bootstrapping on first use.
func (s *Supervisor) HTTPSession(ctx context.Context) (*Client, error) {
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return newClient(s.d.kind(), s.d.config().Port), nil
}

// Browser returns a pooled headless-browser driver, bootstrapping on
// first use.
func (s *Supervisor) Browser(ctx context.Context) (*BrowserDriver, error) {
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s.pool.acquire(ctx, s.d.kind(), s.d.config().Port)
}

func (s *Supervisor) Release(b *BrowserDriver) {
	s.pool.release(b)
}

///////////////
// registry  //
///////////////

// Registry is the process-wide "one supervisor per proxy kind" map. When
// multi-process dispatch is selected, each child process constructs its
// own Registry by design — never shared across processes.
type Registry struct {
	mu   sync.Mutex
	sups map[link.Kind]*Supervisor
	cfg  *cmn.Config
}

func NewRegistry(cfg *cmn.Config) *Registry {
	return &Registry{sups: make(map[link.Kind]*Supervisor, 4), cfg: cfg}
}

// For returns the Supervisor for kind, constructing it (but not
// bootstrapping it) on first use.
func (r *Registry) For(kind link.Kind) (*Supervisor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sups[kind]; ok {
		return s, nil
	}
	d, err := newDaemon(kind, r.cfg)
	if err != nil {
		return nil, err
	}
	s := newSupervisor(d)
	r.sups[kind] = s
	return s, nil
}

// StopAll tears every constructed supervisor down, best-effort, one by
// one. Supervisors are kept in a map, so the order in which they are
// stopped is not fixed.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sups {
		s.Stop()
	}
}

func newDaemon(kind link.Kind, cfg *cmn.Config) (daemon, error) {
	switch kind {
	case link.KindTor:
		return &torDaemon{cfg: cfg.Tor}, nil
	case link.KindI2P:
		return &i2pDaemon{cfg: cfg.I2P}, nil
	case link.KindZeroNet:
		return &zeronetDaemon{cfg: cfg.ZeroNet}, nil
	case link.KindFreenet:
		return &freenetDaemon{cfg: cfg.Freenet}, nil
	case link.KindNull:
		return &clearwebDaemon{}, nil
	default:
		return nil, cmn.NewError(cmn.KindProxyDenied, fmt.Sprintf("no supervisor for proxy kind %q", kind), nil)
	}
}
