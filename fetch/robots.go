package fetch

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/temoto/robotstxt"

	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/proxysuper"
	"github.com/darc-project/darc/store"
)

const defaultUserAgent = "darc"

// hostState is the per-host preflight result cached for the lifetime of
// one process generation: robots matcher and the sitemap URLs discovered
// from it.
type hostState struct {
	robots   *robotstxt.Group
	sitemaps []string
}

// preflighter performs the once-per-host-per-process-generation robots /
// sitemap / hosts.txt acquisition described for the requests stage.
type preflighter struct {
	mu   sync.Mutex
	seen map[string]*hostState
	sups *proxysuper.Registry
	ws   store.WorkStore
	root string
}

func newPreflighter(sups *proxysuper.Registry, ws store.WorkStore, root string) *preflighter {
	return &preflighter{seen: make(map[string]*hostState), sups: sups, ws: ws, root: root}
}

// ensure runs the preflight for l.Host once per process generation and
// returns the cached host state (nil, or a nil robots group, means
// allow-all). The lock is not held while fetching, so concurrent first
// calls for the same host may each run the preflight.
func (p *preflighter) ensure(ctx context.Context, l *link.Link) (*hostState, error) {
	p.mu.Lock()
	if st, ok := p.seen[l.Host]; ok {
		p.mu.Unlock()
		return st, nil
	}
	p.mu.Unlock()

	sup, err := p.sups.For(l.Kind)
	if err != nil {
		return nil, err
	}
	cli, err := sup.HTTPSession(ctx)
	if err != nil {
		return nil, err
	}

	st := &hostState{}
	p.fetchRobots(ctx, cli, l, st)
	if l.Kind == link.KindI2P {
		p.fetchHostsTxt(ctx, cli, l)
	}

	p.mu.Lock()
	p.seen[l.Host] = st
	p.mu.Unlock()
	return st, nil
}

func (p *preflighter) fetchRobots(ctx context.Context, cli *proxysuper.Client, l *link.Link, st *hostState) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", l.Scheme, l.Host)
	status, body, _, err := cli.Fetch(ctx, robotsURL)
	if err != nil || status >= 400 {
		return // no robots.txt: allow-all
	}
	p.persistRaw(l, link.ArtifactRobots, body)

	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return
	}
	st.robots = data.FindGroup(defaultUserAgent)
	st.sitemaps = append(st.sitemaps, data.Sitemaps...)
	if len(st.sitemaps) == 0 {
		st.sitemaps = []string{fmt.Sprintf("%s://%s/sitemap.xml", l.Scheme, l.Host)}
	}
	for _, sm := range st.sitemaps {
		p.fetchSitemap(ctx, cli, l, sm)
	}
}

func (p *preflighter) fetchSitemap(ctx context.Context, cli *proxysuper.Client, l *link.Link, sitemapURL string) {
	status, body, _, err := cli.Fetch(ctx, sitemapURL)
	if err != nil || status >= 400 {
		return
	}
	p.persistRaw(l, link.ArtifactSitemap, body)

	var discovered []*link.Link
	for _, raw := range extractXMLLinks(body) {
		child, err := link.Parse(raw, l)
		if err != nil {
			continue
		}
		discovered = append(discovered, child)
	}
	if len(discovered) == 0 {
		return
	}
	if err := p.ws.SaveRequests(ctx, discovered, 0, true); err != nil {
		glog.Warningf("fetch: enqueueing %d sitemap URLs for %s: %v", len(discovered), l.Host, err)
	}
}

func (p *preflighter) fetchHostsTxt(ctx context.Context, cli *proxysuper.Client, l *link.Link) {
	hostsURL := fmt.Sprintf("%s://%s/hosts.txt", l.Scheme, l.Host)
	status, body, _, err := cli.Fetch(ctx, hostsURL)
	if err != nil || status >= 400 {
		return
	}
	p.persistRaw(l, link.ArtifactHosts, body)

	var discovered []*link.Link
	for _, host := range parseHostsTxt(body) {
		child, err := link.Parse(fmt.Sprintf("http://%s/", host), l)
		if err != nil {
			continue
		}
		discovered = append(discovered, child)
	}
	if len(discovered) == 0 {
		return
	}
	if err := p.ws.SaveRequests(ctx, discovered, 0, true); err != nil {
		glog.Warningf("fetch: enqueueing %d hosts.txt hosts for %s: %v", len(discovered), l.Host, err)
	}
}

// parseHostsTxt extracts the left-hand host from each `host=b64dest` line,
// the format I2P's hosts.txt uses.
func parseHostsTxt(body []byte) []string {
	var hosts []string
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			hosts = append(hosts, parts[0])
		}
	}
	return hosts
}

func (p *preflighter) persistRaw(l *link.Link, kind link.ArtifactKind, body []byte) {
	path := l.ArtifactPath(p.root, kind, time.Now().Unix(), 0)
	writeFileBestEffort(path, body)
}

// allowed reports whether path is permitted by the cached robots group;
// no robots.txt (or nothing matching the user-agent) means allow-all.
func (st *hostState) allowed(path string) bool {
	if st == nil || st.robots == nil {
		return true
	}
	return st.robots.Test(path)
}
