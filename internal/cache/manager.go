package cache

import (
	"time"
)

// Manager owns the per-mount caches: remote metadata, open-file state and
// open directory listings.
type Manager struct {
	statCache  *StatCache
	fileStatus *FileStatus
	dirCache   *DirCache
}

// NewManager creates a new cache manager
func NewManager(statTTL time.Duration, opts ...StatCacheOption) *Manager {
	return &Manager{
		statCache:  NewStatCache(statTTL, opts...),
		fileStatus: NewFileStatus(),
		dirCache:   NewDirCache(),
	}
}

// GetStatCache returns the stat cache
func (m *Manager) GetStatCache() *StatCache {
	return m.statCache
}

// GetFileStatus returns the open-file tracker
func (m *Manager) GetFileStatus() *FileStatus {
	return m.fileStatus
}

// GetDirCache returns the directory listing cache
func (m *Manager) GetDirCache() *DirCache {
	return m.dirCache
}

// Invalidate drops cached metadata for every given path.
func (m *Manager) Invalidate(paths ...string) {
	for _, p := range paths {
		m.statCache.Invalidate(p)
	}
}

// DefaultManager creates a manager with default settings
func DefaultManager() *Manager {
	return NewManager(DefaultTTL)
}
