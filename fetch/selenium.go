package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/darc-project/darc/archive"
	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/metrics"
	"github.com/darc-project/darc/proxysuper"
	"github.com/darc-project/darc/store"
)

// emptyPageSentinel is the rendered-DOM shape a JS app that never
// populated counts as a failed render.
const emptyPageSentinel = "<html><head></head><body></body></html>"

// SeleniumFetcher runs the stage-two pipeline: navigate with a headless
// browser, wait for dynamic content, persist the rendered page and a
// screenshot, and extract links from the final DOM.
type SeleniumFetcher struct {
	cfg    *cmn.Config
	ws     store.WorkStore
	sups   *proxysuper.Registry
	mirror archive.Mirror
	root   string
}

func NewSeleniumFetcher(cfg *cmn.Config, ws store.WorkStore, sups *proxysuper.Registry, mirror archive.Mirror) *SeleniumFetcher {
	return &SeleniumFetcher{cfg: cfg, ws: ws, sups: sups, mirror: mirror, root: cfg.PathData}
}

func (f *SeleniumFetcher) Fetch(ctx context.Context, l *link.Link) error {
	sup, err := f.sups.For(l.Kind)
	if err != nil {
		return f.record(ctx, l, cmn.KindProxyDenied, err.Error())
	}
	driver, err := sup.Browser(ctx)
	if err != nil {
		return f.record(ctx, l, cmn.KindBootstrapFailed, err.Error())
	}
	defer sup.Release(driver)

	html, screenshot, err := driver.Render(ctx, l.Canonical(), f.cfg.SeleniumWait, f.cfg.DarcWait)
	if err != nil {
		if derr, ok := err.(*cmn.Error); ok {
			return f.record(ctx, l, derr.Kind, derr.Error())
		}
		return f.record(ctx, l, cmn.KindRenderTimeout, err.Error())
	}

	if strings.TrimSpace(html) == emptyPageSentinel {
		return f.record(ctx, l, cmn.KindRenderEmpty, "rendered DOM is the empty-page sentinel")
	}

	metrics.ObserveFetchOutcome(string(cmn.KindOK))
	ts := time.Now().Unix()
	renderPath := l.ArtifactPath(f.root, link.ArtifactRender, ts, 0)
	shotPath := l.ArtifactPath(f.root, link.ArtifactScreenshot, ts, 0)
	writeFileBestEffort(renderPath, []byte(html))
	writeFileBestEffort(shotPath, screenshot)
	mirrorBestEffort(ctx, f.mirror, renderPath, "text/html", []byte(html))
	mirrorBestEffort(ctx, f.mirror, shotPath, "image/png", screenshot)

	if err := f.ws.AppendSelenium(ctx, store.SeleniumSnapshot{
		URLHash:        l.URLHash,
		Timestamp:      ts,
		RenderedPath:   renderPath,
		ScreenshotPath: shotPath,
	}); err != nil {
		glog.Warningf("fetch: appending selenium snapshot for %s: %v", l.URLHash, err)
	}

	f.enqueueRenderedLinks(ctx, l, html)
	return nil
}

func (f *SeleniumFetcher) enqueueRenderedLinks(ctx context.Context, parent *link.Link, html string) {
	raw := extractHTMLLinks([]byte(html))
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
		glog.Warningf("fetch: enqueueing %d links rendered from %s: %v", len(fresh), parent.URLHash, err)
	}
}

func (f *SeleniumFetcher) record(ctx context.Context, l *link.Link, kind cmn.Kind, reason string) error {
	metrics.ObserveFetchOutcome(string(kind))
	glog.V(1).Infof("fetch: selenium dropping %s: %s", l.Canonical(), reason)
	return f.ws.AppendHistory(ctx, store.HistoryRecord{
		URLHash:   l.URLHash,
		Timestamp: time.Now().Unix(),
		Method:    "RENDER",
		Outcome:   kind,
	})
}
