package cache

import (
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
)

// PushFunc uploads the local staging file to the remote path.
type PushFunc func(localPath, remotePath string) error

// FileStatusEntry tracks one remote path that has a local staging copy.
type FileStatusEntry struct {
	PendingOpen bool
	ForWrite    bool
	// Truncated means the staging copy is authoritative; the next open must
	// not fetch the remote file over it.
	Truncated bool
	// RenamedFrom is the staging path to push instead of the default one
	// after the file was renamed while open.
	RenamedFrom string
}

// FileStatus tracks files between their first read/write and flush.
type FileStatus struct {
	mu      sync.Mutex
	entries map[string]*FileStatusEntry
}

// NewFileStatus creates an empty tracker.
func NewFileStatus() *FileStatus {
	return &FileStatus{entries: make(map[string]*FileStatusEntry)}
}

func (s *FileStatus) entryLocked(path string) *FileStatusEntry {
	entry, ok := s.entries[path]
	if !ok {
		entry = &FileStatusEntry{}
		s.entries[path] = entry
	}
	return entry
}

// Read marks path as pending after a read.
func (s *FileStatus) Read(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entryLocked(path)
	entry.PendingOpen = true
}

// Write marks path as pending with unsaved local changes.
func (s *FileStatus) Write(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entryLocked(path)
	entry.PendingOpen = true
	entry.ForWrite = true
}

// IsPendingOpen reports whether path was read or written since its last flush.
func (s *FileStatus) IsPendingOpen(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[path]
	return ok && entry.PendingOpen
}

// IsTruncated reports whether path was truncated locally and not reopened yet.
func (s *FileStatus) IsTruncated(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[path]
	return ok && entry.Truncated
}

// SetTruncated sets or clears the truncated mark.
func (s *FileStatus) SetTruncated(path string, truncated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryLocked(path).Truncated = truncated
}

// Get returns a copy of the entry for path.
func (s *FileStatus) Get(path string) (FileStatusEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[path]
	if !ok {
		return FileStatusEntry{}, false
	}
	return *entry, true
}

// Flush pushes localPath (or the renamed-from override) to path when the file
// has pending writes. The pending state is cleared whether or not the push
// succeeds; the push error is returned.
func (s *FileStatus) Flush(path, localPath string, push PushFunc) error {
	s.mu.Lock()
	entry, ok := s.entries[path]
	if !ok || !entry.PendingOpen {
		s.mu.Unlock()
		return nil
	}
	forWrite := entry.ForWrite
	source := localPath
	if entry.RenamedFrom != "" {
		source = entry.RenamedFrom
	}
	entry.PendingOpen = false
	entry.ForWrite = false
	entry.RenamedFrom = ""
	s.mu.Unlock()

	if !forWrite {
		return nil
	}
	return push(source, path)
}

// ClearPending drops the pending state after the caller pushed the file itself.
func (s *FileStatus) ClearPending(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[path]; ok {
		entry.PendingOpen = false
		entry.ForWrite = false
		entry.RenamedFrom = ""
	}
}

// Release closes the local handle and resets the pending state. Closing a
// handle that is already closed is not reported.
func (s *FileStatus) Release(path string, f *os.File) error {
	s.mu.Lock()
	if entry, ok := s.entries[path]; ok {
		entry.PendingOpen = false
		entry.ForWrite = false
	}
	s.mu.Unlock()

	if f == nil {
		return nil
	}
	err := f.Close()
	if err == nil || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EBADF) {
		return nil
	}
	return err
}

// TransferRename moves the pending state of from to to after a rename. The
// file at to inherits the write flag and will be pushed from oldLocalPath,
// the staging copy that still holds the data.
func (s *FileStatus) TransferRename(from, to, oldLocalPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entries[from]
	if !ok || !old.PendingOpen {
		return
	}
	entry := s.entryLocked(to)
	entry.PendingOpen = true
	entry.ForWrite = old.ForWrite
	entry.RenamedFrom = oldLocalPath
	if old.RenamedFrom != "" {
		entry.RenamedFrom = old.RenamedFrom
	}
	delete(s.entries, from)
}

// PendingUnder lists the pending paths below dir.
func (s *FileStatus) PendingUnder(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"

	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for path, entry := range s.entries {
		if entry.PendingOpen && strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	return paths
}

// Forget drops the entry for path.
func (s *FileStatus) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}
