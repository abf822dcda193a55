package proxysuper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
)

const defaultRecycleAfter = 50

// BrowserDriver owns one headless-Chrome allocator context proxied through
// a daemon's local port. navCount tracks how many pages it has rendered;
// once it crosses the recycle threshold the pool replaces it instead of
// reusing it, bounding the memory Chrome accumulates over a long crawl.
type BrowserDriver struct {
	kind     link.Kind
	allocCtx context.Context
	cancel   context.CancelFunc
	navCount int
}

func newBrowserDriver(kind link.Kind, port int) (*BrowserDriver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if kind == link.KindTor || kind == link.KindI2P {
		opts = append(opts, chromedp.ProxyServer(fmt.Sprintf("socks5://127.0.0.1:%d", port)))
	} else if kind == link.KindZeroNet || kind == link.KindFreenet {
		opts = append(opts, chromedp.ProxyServer(fmt.Sprintf("http://127.0.0.1:%d", port)))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserDriver{kind: kind, allocCtx: allocCtx, cancel: cancel}, nil
}

// Render navigates to rawURL with a page-load deadline of navTimeout,
// waits settleWait for dynamic content to populate, and returns the
// rendered HTML plus a full-page screenshot. An empty-looking body (an
// SPA shell that never populated) is reported via cmn.KindRenderEmpty
// rather than silently returning a near-empty string.
func (b *BrowserDriver) Render(ctx context.Context, rawURL string, navTimeout, settleWait time.Duration) (html string, screenshot []byte, err error) {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx)
	defer cancel()
	timeout := cmn.Deadline(navTimeout)
	if !cmn.InfDuration(navTimeout) {
		timeout += settleWait
	}
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)
	defer timeoutCancel()

	err = chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(settleWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&screenshot, 90),
	)
	b.navCount++
	if err != nil {
		return "", nil, cmn.NewError(cmn.KindRenderTimeout, fmt.Sprintf("rendering %s", rawURL), err)
	}
	if isEmptyRender(html) {
		return "", nil, cmn.NewError(cmn.KindRenderEmpty, fmt.Sprintf("rendered page %s is empty", rawURL), nil)
	}
	return html, screenshot, nil
}

func (b *BrowserDriver) exhausted() bool {
	return b.navCount >= recycleThreshold()
}

func (b *BrowserDriver) close() {
	b.cancel()
}

func recycleThreshold() int {
	if c := cmn.GCOGet(); c != nil && c.SeleniumRecycle > 0 {
		return c.SeleniumRecycle
	}
	return defaultRecycleAfter
}

// isEmptyRender is a crude sentinel for "the JS app never populated the
// page": a handful of boilerplate bytes and nothing else.
func isEmptyRender(html string) bool {
	const minBytes = 256
	return len(html) < minBytes
}

// driverPool hands out BrowserDriver instances per proxy kind, recycling
// ones that have rendered past their navigation budget. A single mutex
// guards the whole pool: headless Chrome instances are heavyweight enough
// that contention here is never the bottleneck.
type driverPool struct {
	mu    sync.Mutex
	idle  map[link.Kind][]*BrowserDriver
	inUse map[*BrowserDriver]bool
}

func newDriverPool() *driverPool {
	return &driverPool{
		idle:  make(map[link.Kind][]*BrowserDriver),
		inUse: make(map[*BrowserDriver]bool),
	}
}

func (p *driverPool) acquire(ctx context.Context, kind link.Kind, port int) (*BrowserDriver, error) {
	p.mu.Lock()
	if pool := p.idle[kind]; len(pool) > 0 {
		d := pool[len(pool)-1]
		p.idle[kind] = pool[:len(pool)-1]
		p.inUse[d] = true
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	d, err := newBrowserDriver(kind, port)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.inUse[d] = true
	p.mu.Unlock()
	return d, nil
}

func (p *driverPool) release(d *BrowserDriver) {
	if d == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, d)
	if d.exhausted() {
		d.close()
		return
	}
	p.idle[d.kind] = append(p.idle[d.kind], d)
}

func (p *driverPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pool := range p.idle {
		for _, d := range pool {
			d.close()
		}
	}
	for d := range p.inUse {
		d.close()
	}
	p.idle = make(map[link.Kind][]*BrowserDriver)
	p.inUse = make(map[*BrowserDriver]bool)
}
