package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long remote metadata is trusted.
const DefaultTTL = 120 * time.Second

// StatCacheEntry holds the raw remote output cached for one path.
// An empty output is a valid cached value: it records that the path did not
// exist when last asked.
type StatCacheEntry struct {
	Path        string
	Stat        []string
	HasStat     bool
	ReadLink    []string
	HasReadLink bool
	UpdatedAt   time.Time
}

// StatCache caches "stat -t" and "readlink -f" output per remote path.
// Entries are checked for age only on lookup; nothing is evicted in the
// background.
type StatCache struct {
	mu      sync.RWMutex
	entries map[string]*StatCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// StatCacheOption configures a StatCache.
type StatCacheOption func(*StatCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StatCacheOption {
	return func(sc *StatCache) { sc.now = now }
}

// NewStatCache creates a new stat cache
func NewStatCache(ttl time.Duration, opts ...StatCacheOption) *StatCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sc := &StatCache{
		entries: make(map[string]*StatCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

func (sc *StatCache) valid(entry *StatCacheEntry) bool {
	return sc.now().Sub(entry.UpdatedAt) < sc.ttl
}

// GetStat returns the cached stat output for path if it is still fresh.
func (sc *StatCache) GetStat(path string) ([]string, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	entry, exists := sc.entries[path]
	if !exists || !entry.HasStat || !sc.valid(entry) {
		return nil, false
	}
	return entry.Stat, true
}

// GetReadLink returns the cached readlink output for path if it is still fresh.
func (sc *StatCache) GetReadLink(path string) ([]string, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	entry, exists := sc.entries[path]
	if !exists || !entry.HasReadLink || !sc.valid(entry) {
		return nil, false
	}
	return entry.ReadLink, true
}

// PutStat stores stat output and refreshes the entry's timestamp.
func (sc *StatCache) PutStat(path string, output []string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry := sc.entryLocked(path)
	entry.Stat = output
	entry.HasStat = true
	entry.UpdatedAt = sc.now()
}

// PutReadLink stores readlink output and refreshes the entry's timestamp.
func (sc *StatCache) PutReadLink(path string, output []string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry := sc.entryLocked(path)
	entry.ReadLink = output
	entry.HasReadLink = true
	entry.UpdatedAt = sc.now()
}

func (sc *StatCache) entryLocked(path string) *StatCacheEntry {
	entry, exists := sc.entries[path]
	if !exists {
		entry = &StatCacheEntry{Path: path}
		sc.entries[path] = entry
	}
	return entry
}

// Invalidate removes the entry for path whether or not it is still fresh.
func (sc *StatCache) Invalidate(path string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.entries, path)
}

// Clear removes all entries from cache
func (sc *StatCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries = make(map[string]*StatCacheEntry)
}

// Size returns the current number of cached entries, fresh or not.
func (sc *StatCache) Size() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.entries)
}

// TTL returns the freshness window.
func (sc *StatCache) TTL() time.Duration {
	return sc.ttl
}
