package fuse

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/adbfs-fuse/adbfs-go/internal/metrics"
	"github.com/adbfs-fuse/adbfs-go/internal/shell"
)

// Flags the kernel already handled or that the local staging file must not
// see: writes arrive with absolute offsets, so O_APPEND would break WriteAt.
const ignoredOpenFlags = os.O_CREATE | os.O_EXCL | unix.O_NOCTTY | os.O_APPEND

// Open stages path locally and opens the staging file. The remote file is
// pulled unless the staging copy is authoritative: after a truncate, or
// while another handle has unflushed state on it.
func (fs *Filesystem) Open(ctx context.Context, path string, flags int) (*os.File, error) {
	fs.openMu.Lock()
	defer fs.openMu.Unlock()

	fs.log.Debugf("open(%s)", path)

	status := fs.cache.GetFileStatus()
	local := fs.staging.LocalPath(path)

	if status.IsTruncated(path) {
		status.SetTruncated(path, false)
	} else {
		if err := fs.exists(ctx, path); err != nil {
			return nil, err
		}
		if !status.IsPendingOpen(path) || !fs.staging.Exists(path) {
			if err := fs.pull(ctx, path, local); err != nil {
				return nil, err
			}
		}
	}

	f, err := os.OpenFile(local, flags&^ignoredOpenFlags, 0)
	if err != nil {
		return nil, unwrapPathError(err)
	}
	if flags&os.O_TRUNC != 0 {
		status.Write(path)
		fs.cache.Invalidate(path)
	}
	return f, nil
}

// Read reads from the staging file at off. A short read at the end of the
// file is not an error.
func (fs *Filesystem) Read(path string, f *os.File, size int, off int64) ([]byte, error) {
	fs.cache.GetFileStatus().Read(path)

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, unwrapPathError(err)
	}
	return buf[:n], nil
}

// Write writes to the staging file at off and marks path for write-back.
func (fs *Filesystem) Write(path string, f *os.File, data []byte, off int64) (int, error) {
	fs.cache.GetFileStatus().Write(path)

	n, err := f.WriteAt(data, off)
	if err != nil {
		return n, unwrapPathError(err)
	}
	return n, nil
}

func isClosedFile(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EBADF)
}

// pushOrRecord pushes and journals the staging content when the push fails.
func (fs *Filesystem) pushOrRecord(ctx context.Context, local, remote string) error {
	err := fs.push(ctx, local, remote)
	if err != nil {
		fs.log.WithError(err).Warnf("push %s to %s failed", local, remote)
		metrics.RecordWriteBackFailure()
		fs.recorder.Failed(ctx, remote, local, err)
	}
	return err
}

// Flush syncs the staging file and pushes it when it was written. The
// pending state is cleared even if the push fails. A flush on an already
// closed handle still pushes.
func (fs *Filesystem) Flush(ctx context.Context, path string, f *os.File) error {
	fs.log.Debugf("flush(%s)", path)

	if f != nil {
		if err := f.Sync(); err != nil && !isClosedFile(err) {
			return unwrapPathError(err)
		}
	}

	status := fs.cache.GetFileStatus()
	if !status.IsPendingOpen(path) {
		return nil
	}
	fs.cache.Invalidate(path)
	err := status.Flush(path, fs.staging.LocalPath(path), func(local, remote string) error {
		return fs.pushOrRecord(ctx, local, remote)
	})
	fs.cache.Invalidate(path)
	return err
}

// syncLocal syncs f, or the staging file of path when no handle is given.
func (fs *Filesystem) syncLocal(path string, f *os.File) error {
	if f == nil {
		local, err := os.Open(fs.staging.LocalPath(path))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return unwrapPathError(err)
		}
		defer local.Close()
		f = local
	}
	if err := f.Sync(); err != nil {
		return unwrapPathError(err)
	}
	return nil
}

// Fsync syncs the staging file and pushes pending writes right away. f may
// be nil, the kernel does not always say which handle to sync.
func (fs *Filesystem) Fsync(ctx context.Context, path string, f *os.File) error {
	fs.log.Debugf("fsync(%s)", path)

	if err := fs.syncLocal(path, f); err != nil {
		return err
	}

	status := fs.cache.GetFileStatus()
	entry, ok := status.Get(path)
	if !ok || !entry.PendingOpen {
		return nil
	}

	var err error
	if entry.ForWrite {
		local := fs.staging.LocalPath(path)
		if entry.RenamedFrom != "" {
			local = entry.RenamedFrom
		}
		err = fs.pushOrRecord(ctx, local, path)
	}
	status.ClearPending(path)
	fs.cache.Invalidate(path)
	return err
}

// Release closes the staging file handle.
func (fs *Filesystem) Release(path string, f *os.File) error {
	fs.log.Debugf("release(%s)", path)
	return fs.cache.GetFileStatus().Release(path, f)
}

// Mknod creates the node in the staging directory and pushes it to the
// device. mode carries the file type bits.
func (fs *Filesystem) Mknod(ctx context.Context, path string, mode uint32, rdev uint32) error {
	fs.log.Debugf("mknod(%s)", path)

	local := fs.staging.LocalPath(path)
	if err := fs.staging.Remove(path); err != nil {
		return unwrapPathError(err)
	}
	fs.log.Debugf("mknod for %s", local)
	if err := unix.Mknod(local, mode, int(rdev)); err != nil {
		return err
	}

	err := fs.push(ctx, local, path)
	if err == nil {
		if _, serr := fs.busybox(ctx, shell.SyncCmd); serr != nil {
			fs.log.WithError(serr).Warn("sync failed")
		}
	}
	fs.cache.Invalidate(path)
	return err
}

// Create makes an empty regular file and opens it. The fresh staging copy
// is authoritative, so the open does not pull it back. As with creat(2) the
// returned handle is writable even when perm is not: the staging file gets
// owner read-write until it is open.
func (fs *Filesystem) Create(ctx context.Context, path string, perm os.FileMode, flags int) (*os.File, error) {
	fs.log.Debugf("create(%s)", path)

	perm = perm.Perm()
	if err := fs.Mknod(ctx, path, unix.S_IFREG|uint32(perm|0o600), 0); err != nil {
		return nil, err
	}
	fs.cache.GetFileStatus().SetTruncated(path, true)
	f, err := fs.Open(ctx, path, flags)
	if err != nil {
		return nil, err
	}
	if perm&0o600 != 0o600 {
		if err := f.Chmod(perm); err != nil {
			fs.log.WithError(err).Warnf("chmod staging copy of %s", path)
		}
	}
	return f, nil
}
