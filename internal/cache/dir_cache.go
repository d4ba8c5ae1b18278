package cache

import (
	"sync"
)

// DirCache holds the listing of each open directory between opendir and
// releasedir. A release in progress is a barrier: Open waits for it.
type DirCache struct {
	mu        sync.Mutex
	cond      *sync.Cond
	inRelease bool

	listMu   sync.Mutex
	listings map[string][]string

	// beforeErase runs inside Release while the barrier is up. Tests only.
	beforeErase func()
}

// NewDirCache creates an empty directory cache.
func NewDirCache() *DirCache {
	dc := &DirCache{listings: make(map[string][]string)}
	dc.cond = sync.NewCond(&dc.mu)
	return dc
}

// Open waits for any release in progress, then calls list and stores its
// result unless a listing for path already exists. list's error is returned
// as is and nothing is stored.
func (dc *DirCache) Open(path string, list func() ([]string, error)) error {
	dc.mu.Lock()
	for dc.inRelease {
		dc.cond.Wait()
	}
	dc.mu.Unlock()

	names, err := list()
	if err != nil {
		return err
	}

	dc.listMu.Lock()
	defer dc.listMu.Unlock()
	if _, exists := dc.listings[path]; !exists {
		dc.listings[path] = names
	}
	return nil
}

// Get returns the stored listing for path.
func (dc *DirCache) Get(path string) ([]string, bool) {
	dc.listMu.Lock()
	defer dc.listMu.Unlock()
	names, ok := dc.listings[path]
	return names, ok
}

// Release erases the listing for path and wakes waiting openers.
func (dc *DirCache) Release(path string) {
	dc.mu.Lock()
	for dc.inRelease {
		dc.cond.Wait()
	}
	dc.inRelease = true
	dc.mu.Unlock()

	if dc.beforeErase != nil {
		dc.beforeErase()
	}
	dc.listMu.Lock()
	delete(dc.listings, path)
	dc.listMu.Unlock()

	dc.mu.Lock()
	dc.inRelease = false
	dc.cond.Broadcast()
	dc.mu.Unlock()
}

// Len returns the number of open listings.
func (dc *DirCache) Len() int {
	dc.listMu.Lock()
	defer dc.listMu.Unlock()
	return len(dc.listings)
}
