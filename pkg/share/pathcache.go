package share

import (
	"sync"

	"github.com/marmos91/nfsd/pkg/disk"
)

// PathCache maps file ids to share paths for drivers that cannot resolve ids
// themselves. It is rebuilt lazily; nothing is persisted.
type PathCache struct {
	mu    sync.RWMutex
	paths map[uint32]string
}

func NewPathCache() *PathCache {
	return &PathCache{paths: make(map[uint32]string)}
}

// AddPath records (or replaces) the path of id.
func (c *PathCache) AddPath(id uint32, path string) {
	c.mu.Lock()
	c.paths[id] = disk.Clean(path)
	c.mu.Unlock()
}

// DeletePath forgets id.
func (c *PathCache) DeletePath(id uint32) {
	c.mu.Lock()
	delete(c.paths, id)
	c.mu.Unlock()
}

// FindPath returns the cached path of id.
func (c *PathCache) FindPath(id uint32) (string, bool) {
	c.mu.RLock()
	p, ok := c.paths[id]
	c.mu.RUnlock()
	return p, ok
}

// DeletePrefix forgets every entry at or below dir and returns how many were
// removed. The root entry is kept.
func (c *PathCache) DeletePrefix(dir string) int {
	dir = disk.Clean(dir)
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, p := range c.paths {
		if p != disk.Root && disk.IsWithin(p, dir) {
			delete(c.paths, id)
			n++
		}
	}
	return n
}

func (c *PathCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.paths)
}
