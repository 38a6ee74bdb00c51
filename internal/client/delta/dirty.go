package delta

import (
	"strings"
	"sync"
)

// DirtyTracker counts local writes per path. A transfer remembers the
// generation it signed and restarts when a write happened since.
type DirtyTracker struct {
	mu   sync.Mutex
	gens map[string]uint64
}

func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{gens: make(map[string]uint64)}
}

// MarkDirty records a local write to path.
func (d *DirtyTracker) MarkDirty(path string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gens[key(path)]++
}

func (d *DirtyTracker) Generation(path string) uint64 {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gens[key(path)]
}

// Changed reports whether path was written after generation gen.
func (d *DirtyTracker) Changed(path string, gen uint64) bool {
	return d.Generation(path) != gen
}

// Forget drops the counter of a path that no longer exists.
func (d *DirtyTracker) Forget(path string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.gens, key(path))
}

// paths are tracked with or without a leading slash
func key(path string) string {
	return strings.TrimLeft(path, "/")
}
