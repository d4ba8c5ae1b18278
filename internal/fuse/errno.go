package fuse

import (
	"errors"
	"os"
	"syscall"

	"bazil.org/fuse"

	"github.com/adbfs-fuse/adbfs-go/internal/pathutil"
)

// toErrno maps an error from the filesystem core to the errno reported to
// the kernel.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, pathutil.ErrShortStat), errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, os.ErrExist):
		return syscall.EEXIST
	}
	return syscall.EIO
}

// fuseErr converts err for bazil, which only keeps the errno of errors
// implementing fuse.ErrorNumber.
func fuseErr(err error) error {
	if err == nil {
		return nil
	}
	return fuse.Errno(toErrno(err))
}
