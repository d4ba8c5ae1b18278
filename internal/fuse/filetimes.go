package fuse

import (
	"context"
	"errors"
	"os"

	"github.com/adbfs-fuse/adbfs-go/internal/shell"
)

// Utimens touches path on the device. busybox touch cannot set arbitrary
// times, so the file always gets the device's current time.
func (fs *Filesystem) Utimens(ctx context.Context, path string) error {
	fs.log.Debugf("utimens(%s)", path)

	fs.cache.Invalidate(path)
	return fs.mutate(ctx, shell.TouchCmd(path))
}

// Truncate resizes the staging copy of path. The copy becomes authoritative:
// the next open does not pull the remote file over it, and the next flush
// pushes it.
func (fs *Filesystem) Truncate(ctx context.Context, path string, size int64) error {
	fs.log.Debugf("truncate(%s, %d)", path, size)

	if err := fs.exists(ctx, path); err != nil {
		return err
	}

	local := fs.staging.LocalPath(path)
	if !fs.staging.Exists(path) {
		if err := fs.stageForTruncate(ctx, path, local, size); err != nil {
			return err
		}
	}
	if err := os.Truncate(local, size); err != nil {
		return unwrapPathError(err)
	}
	fs.log.Debugf("truncate[path=%s][size=%d]", local, size)

	status := fs.cache.GetFileStatus()
	status.SetTruncated(path, true)
	status.Write(path)
	fs.cache.Invalidate(path)
	return nil
}

// stageForTruncate creates the staging copy a truncate works on. Truncating
// to zero needs no remote content.
func (fs *Filesystem) stageForTruncate(ctx context.Context, path, local string, size int64) error {
	if size > 0 {
		return fs.pull(ctx, path, local)
	}
	f, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return unwrapPathError(err)
	}
	return f.Close()
}

func unwrapPathError(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}
