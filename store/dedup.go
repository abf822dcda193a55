package store

import (
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Dedup is an in-process, advisory filter beside the authoritative
// backend. Both backends Observe every hash after a successful batch and
// always perform the real enqueue; neither consults MaybeNew, so the
// filter never skips or shortens a backend round trip. A miss means the
// hash is certainly new to this process; a hit may be a false positive.
type Dedup struct {
	mu     sync.Mutex
	filter *cuckoo.Filter
}

// NewDedup allocates a filter sized for cap expected distinct URL hashes.
func NewDedup(cap uint) *Dedup {
	return &Dedup{filter: cuckoo.NewFilter(cap)}
}

// MaybeNew reports false only when hash is certainly already known to this
// process; true means "go ahead and check/enqueue against the backend".
func (d *Dedup) MaybeNew(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.filter.Lookup([]byte(hash))
}

// Observe records hash as seen after a successful first-seen enqueue.
func (d *Dedup) Observe(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.InsertUnique([]byte(hash))
}
