package proxysuper

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
)

// procDaemon is the shared os/exec-based subprocess lifecycle every
// concrete anonymizing-network daemon embeds. Process-group signaling via
// golang.org/x/sys/unix buys "send SIGTERM to the whole group, then
// SIGKILL" semantics.
type procDaemon struct {
	bin  string
	args []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (p *procDaemon) startProcess(ctx context.Context) error {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return cmn.NewError(cmn.KindUnsupportedPlatform, "proxy daemons require linux or darwin", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil && p.cmd.ProcessState == nil {
		return nil // already running
	}
	cmd := exec.Command(p.bin, p.args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", p.bin, err)
	}
	p.cmd = cmd
	go func() { _ = cmd.Wait() }() // reap; exit status observed via ready() polling
	return nil
}

// stopProcess sends SIGTERM to the process group, waits briefly, then
// SIGKILLs — idempotent, swallows everything; stop must never raise.
func (p *procDaemon) stopProcess() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}
	_ = unix.Kill(-pgid, unix.SIGTERM)
	time.Sleep(2 * time.Second)
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

// pollTCP dials addr repeatedly until ctx expires, the simplest possible
// readiness signal for daemons whose only observable state is "is the
// local port open" (I2P's HTTP proxy). ZeroNet's and Freenet's gateways
// are polled with pollHTTP instead.
func pollTCP(ctx context.Context, addr string) error {
	for {
		d := net.Dialer{Timeout: time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func pollHTTP(ctx context.Context, url string) error {
	cli := &http.Client{Timeout: 2 * time.Second}
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := cli.Do(req)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

/////////
// Tor //
/////////

type torDaemon struct {
	cfg cmn.ProxyDaemonConfig
	proc procDaemon
}

func (t *torDaemon) kind() link.Kind                  { return link.KindTor }
func (t *torDaemon) config() cmn.ProxyDaemonConfig { return t.cfg }

func (t *torDaemon) start(ctx context.Context) error {
	t.proc.bin = t.cfg.Bin
	t.proc.args = []string{"--SocksPort", strconv.Itoa(t.cfg.Port), "--ControlPort", strconv.Itoa(t.cfg.Port + 1)}
	return t.proc.startProcess(ctx)
}

// ready authenticates to the Tor control port and polls
// `GETINFO status/bootstrap-phase` until it reports PROGRESS=100, per
// Tor's readiness signal.
func (t *torDaemon) ready(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", t.cfg.Port+1)
	for {
		if err := t.checkBootstrap(ctx, addr); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (t *torDaemon) checkBootstrap(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	fmt.Fprintf(conn, "AUTHENTICATE \"\"\r\n")
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "250") {
		return fmt.Errorf("control port auth failed: %q", line)
	}
	fmt.Fprintf(conn, "GETINFO status/bootstrap-phase\r\n")
	line, err = r.ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.Contains(line, "PROGRESS=100") {
		return fmt.Errorf("bootstrap not complete: %q", line)
	}
	return nil
}

func (t *torDaemon) stop() { t.proc.stopProcess() }

/////////
// I2P //
/////////

type i2pDaemon struct {
	cfg  cmn.ProxyDaemonConfig
	proc procDaemon
}

func (d *i2pDaemon) kind() link.Kind                  { return link.KindI2P }
func (d *i2pDaemon) config() cmn.ProxyDaemonConfig { return d.cfg }

func (d *i2pDaemon) start(ctx context.Context) error {
	d.proc.bin = d.cfg.Bin
	d.proc.args = []string{"start"}
	return d.proc.startProcess(ctx)
}

func (d *i2pDaemon) ready(ctx context.Context) error {
	return pollTCP(ctx, fmt.Sprintf("127.0.0.1:%d", d.cfg.Port))
}

func (d *i2pDaemon) stop() { d.proc.stopProcess() }

/////////////
// ZeroNet //
/////////////

type zeronetDaemon struct {
	cfg  cmn.ProxyDaemonConfig
	proc procDaemon
}

func (d *zeronetDaemon) kind() link.Kind                  { return link.KindZeroNet }
func (d *zeronetDaemon) config() cmn.ProxyDaemonConfig { return d.cfg }

func (d *zeronetDaemon) start(ctx context.Context) error {
	d.proc.bin = d.cfg.Bin
	d.proc.args = []string{"main"}
	return d.proc.startProcess(ctx)
}

func (d *zeronetDaemon) ready(ctx context.Context) error {
	return pollHTTP(ctx, fmt.Sprintf("http://127.0.0.1:%d/", d.cfg.Port))
}

func (d *zeronetDaemon) stop() { d.proc.stopProcess() }

/////////////
// Freenet //
/////////////

type freenetDaemon struct {
	cfg  cmn.ProxyDaemonConfig
	proc procDaemon
}

func (d *freenetDaemon) kind() link.Kind                  { return link.KindFreenet }
func (d *freenetDaemon) config() cmn.ProxyDaemonConfig { return d.cfg }

func (d *freenetDaemon) start(ctx context.Context) error {
	d.proc.bin = d.cfg.Bin
	d.proc.args = []string{}
	return d.proc.startProcess(ctx)
}

func (d *freenetDaemon) ready(ctx context.Context) error {
	return pollHTTP(ctx, fmt.Sprintf("http://127.0.0.1:%d/", d.cfg.Port))
}

func (d *freenetDaemon) stop() { d.proc.stopProcess() }

///////////////////////
// clear web (no-op) //
///////////////////////

// clearwebDaemon backs KindNull: there is no external process to
// supervise, so bootstrap is instantaneous and always succeeds.
type clearwebDaemon struct{}

func (clearwebDaemon) kind() link.Kind                     { return link.KindNull }
func (clearwebDaemon) config() cmn.ProxyDaemonConfig     { return cmn.ProxyDaemonConfig{Wait: time.Second, Retry: 0} }
func (clearwebDaemon) start(context.Context) error          { return nil }
func (clearwebDaemon) ready(context.Context) error           { return nil }
func (clearwebDaemon) stop()                                 {}
