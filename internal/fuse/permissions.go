package fuse

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/adbfs-fuse/adbfs-go/internal/metrics"
	"github.com/adbfs-fuse/adbfs-go/internal/pathutil"
)

// Access checks mask against the device permissions of path for the device
// shell user. F_OK only tests for existence.
func (fs *Filesystem) Access(ctx context.Context, path string, mask uint32) error {
	fs.log.Debugf("access(%s)", path)

	rec, err := fs.stat(ctx, path)
	if err != nil {
		return err
	}
	if mask == unix.F_OK || fs.policy == nil {
		return nil
	}
	return fs.policy.Check(path, rec.Uid, rec.Gid, rec.Mode, mask)
}

// push uploads local to remote once the device allows writing remote's
// directory.
func (fs *Filesystem) push(ctx context.Context, local, remote string) error {
	if err := fs.Access(ctx, pathutil.Parent(remote), unix.W_OK); err != nil {
		return err
	}
	start := time.Now()
	err := fs.transfer.Push(ctx, local, remote)
	metrics.RecordTransfer("push", time.Since(start), err == nil)
	return err
}

// pull downloads remote to local once the device allows reading it.
func (fs *Filesystem) pull(ctx context.Context, remote, local string) error {
	if err := fs.Access(ctx, remote, unix.R_OK); err != nil {
		return err
	}
	start := time.Now()
	err := fs.transfer.Pull(ctx, remote, local)
	metrics.RecordTransfer("pull", time.Since(start), err == nil)
	return err
}
