package link

import (
	"fmt"
	"path/filepath"
)

// ArtifactKind enumerates the persisted blob kinds written under a Link's
// base directory: robots.txt snapshots, sitemap captures and hosts.txt
// directly in it, and history blobs, rendered-page HTML, and screenshots
// in its per-URL-hash subdirectory. Rather than registering a
// content resolver per open-ended content-type, each kind here maps to a
// single fixed path-building rule.
type ArtifactKind string

const (
	ArtifactRobots     ArtifactKind = "robots"
	ArtifactSitemap    ArtifactKind = "sitemap"
	ArtifactHosts      ArtifactKind = "hosts"
	ArtifactHistory    ArtifactKind = "history"
	ArtifactRender     ArtifactKind = "render"
	ArtifactScreenshot ArtifactKind = "screenshot"
)

// ArtifactPath builds the on-disk path for a given artifact kind, reusing
// the Link's BasePath as the common prefix.
func (l *Link) ArtifactPath(root string, kind ArtifactKind, ts int64, status int) string {
	base := l.BasePath(root)
	switch kind {
	case ArtifactRobots:
		if ts == 0 {
			return filepath.Join(base, "robots.txt")
		}
		return filepath.Join(base, fmt.Sprintf("robots.txt.%d", ts))
	case ArtifactSitemap:
		if ts == 0 {
			return filepath.Join(base, "sitemap.xml")
		}
		return filepath.Join(base, fmt.Sprintf("sitemap.xml.%d", ts))
	case ArtifactHosts:
		return filepath.Join(base, "hosts.txt")
	case ArtifactHistory:
		return filepath.Join(base, l.URLHash, fmt.Sprintf("%d_%d.dat", ts, status))
	case ArtifactRender:
		return filepath.Join(base, l.URLHash, fmt.Sprintf("%d.html", ts))
	case ArtifactScreenshot:
		return filepath.Join(base, l.URLHash, fmt.Sprintf("%d.png", ts))
	default:
		panic(fmt.Sprintf("link: unknown artifact kind %q", kind))
	}
}

// URLHashDir is the per-URL directory that both Fetchers write into; ownership is scoped by URL hash so no two workers
// ever write the same file concurrently.
func (l *Link) URLHashDir(root string) string {
	return filepath.Join(l.BasePath(root), l.URLHash)
}
