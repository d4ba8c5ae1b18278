package fuse

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/adbfs-fuse/adbfs-go/internal/cache"
	"github.com/adbfs-fuse/adbfs-go/internal/journal"
	"github.com/adbfs-fuse/adbfs-go/internal/metrics"
	"github.com/adbfs-fuse/adbfs-go/internal/pathutil"
	"github.com/adbfs-fuse/adbfs-go/internal/policy"
	"github.com/adbfs-fuse/adbfs-go/internal/shell"
)

// Attr represents file attributes
type Attr struct {
	Inode   uint64
	Mode    os.FileMode
	RawMode uint32 // st_mode as reported by the device, with owner rwx added
	Size    uint64
	Blocks  uint64
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint32
	Blksize uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// DirEntry represents a directory entry
type DirEntry struct {
	Name string
	Attr *Attr
}

// Shell runs busybox applets over the persistent channel. *shell.Persistent
// implements it.
type Shell interface {
	Busybox(ctx context.Context, command string) ([]string, error)
}

// Transfer copies whole files between the host and the device.
// *device.Device implements it.
type Transfer interface {
	Push(ctx context.Context, local, remote string) error
	Pull(ctx context.Context, remote, local string) error
}

// Stager maps remote paths to local staging files. *staging.Dir implements it.
type Stager interface {
	LocalPath(remote string) string
	Exists(remote string) bool
	Remove(remote string) error
}

// Options wires a Filesystem to its collaborators.
type Options struct {
	Shell    Shell
	Transfer Transfer
	Staging  Stager
	Cache    *cache.Manager
	// Policy may be nil, then every access check that finds the path passes.
	Policy   *policy.Policy
	Recorder *journal.Recorder
	// StatfsPath is the device path statfs reports on. "/" reports zeros.
	StatfsPath string
}

// Filesystem translates path based filesystem calls into device commands.
type Filesystem struct {
	shell      Shell
	transfer   Transfer
	staging    Stager
	cache      *cache.Manager
	policy     *policy.Policy
	recorder   *journal.Recorder
	statfsPath string

	// openMu serializes the stat, pull and local open sequence.
	openMu sync.Mutex
	log    *logrus.Entry
}

// NewFilesystem creates a new filesystem instance
func NewFilesystem(opts Options) *Filesystem {
	if opts.Cache == nil {
		opts.Cache = cache.DefaultManager()
	}
	if opts.Recorder == nil {
		opts.Recorder = journal.NewRecorder(nil)
	}
	if opts.StatfsPath == "" {
		opts.StatfsPath = "/"
	}
	return &Filesystem{
		shell:      opts.Shell,
		transfer:   opts.Transfer,
		staging:    opts.Staging,
		cache:      opts.Cache,
		policy:     opts.Policy,
		recorder:   opts.Recorder,
		statfsPath: opts.StatfsPath,
		log:        logrus.WithField("component", "fuse"),
	}
}

// Cache returns the cache manager
func (fs *Filesystem) Cache() *cache.Manager {
	return fs.cache
}

func (fs *Filesystem) busybox(ctx context.Context, command string) ([]string, error) {
	start := time.Now()
	out, err := fs.shell.Busybox(ctx, command)
	metrics.RecordShellCommand(command, time.Since(start), err == nil)
	return out, err
}

// mutate runs a command whose output is only inspected for error messages.
func (fs *Filesystem) mutate(ctx context.Context, command string) error {
	out, err := fs.busybox(ctx, command)
	if err != nil {
		return err
	}
	if errno := shell.ClassifyOutput(out); errno != 0 {
		fs.log.Debugf("%s: %s", command, out[0])
		return errno
	}
	return nil
}

// statLines returns the stat output for path, from the cache if still valid.
// An empty result is cached as well: the path does not exist.
func (fs *Filesystem) statLines(ctx context.Context, path string) ([]string, error) {
	sc := fs.cache.GetStatCache()
	out, ok := sc.GetStat(path)
	metrics.RecordCacheLookup("stat", ok)
	if ok {
		if len(out) > 0 {
			fs.log.Debugf("from cache %s", out[0])
		} else {
			fs.log.Debug("from cache EMPTY")
		}
		return out, nil
	}

	out, err := fs.busybox(ctx, shell.StatCmd(path))
	if err != nil {
		return nil, err
	}
	sc.PutStat(path, out)
	return out, nil
}

// stat fetches and parses the stat record of path.
func (fs *Filesystem) stat(ctx context.Context, path string) (*pathutil.StatRecord, error) {
	out, err := fs.statLines(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, syscall.ENOENT
	}
	rec, err := pathutil.ParseStat(out)
	if err != nil {
		if errors.Is(err, pathutil.ErrMalformedStat) {
			fs.log.WithError(err).Errorf("getattr(%s) failed", path)
		}
		return nil, err
	}
	return rec, nil
}

// exists reports whether stat produced any output for path.
func (fs *Filesystem) exists(ctx context.Context, path string) error {
	out, err := fs.statLines(ctx, path)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return syscall.ENOENT
	}
	return nil
}

// GetAttr returns file attributes. Owner rwx is always added to the mode so
// the mounting user can work with files the device shell owns, and the link
// count is fixed at 1.
func (fs *Filesystem) GetAttr(ctx context.Context, path string) (*Attr, error) {
	fs.log.Debugf("getattr(%s)", path)

	rec, err := fs.stat(ctx, path)
	if err != nil {
		return nil, err
	}
	raw := rec.Mode | 0o700
	return &Attr{
		Inode:   rec.Inode,
		Mode:    fileMode(raw),
		RawMode: raw,
		Size:    uint64(rec.Size),
		Blocks:  uint64(rec.Blocks),
		Nlink:   1,
		Uid:     rec.Uid,
		Gid:     rec.Gid,
		Rdev:    uint32(unix.Mkdev(rec.Major, rec.Minor)),
		Blksize: rec.Blksize,
		Atime:   rec.Atime,
		Mtime:   rec.Mtime,
		Ctime:   rec.Ctime,
	}, nil
}

// fileMode converts a raw st_mode into an os.FileMode.
func fileMode(raw uint32) os.FileMode {
	mode := os.FileMode(raw & 0o777)
	switch raw & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	}
	if raw&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if raw&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if raw&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// Readlink resolves a link on the device. Absolute targets are rewritten
// relative to the link so they stay inside the mount.
func (fs *Filesystem) Readlink(ctx context.Context, path string) (string, error) {
	fs.log.Debugf("readlink(%s)", path)

	sc := fs.cache.GetStatCache()
	out, ok := sc.GetReadLink(path)
	metrics.RecordCacheLookup("readlink", ok)
	if ok {
		if len(out) > 0 {
			fs.log.Debugf("from cache %s", out[0])
		} else {
			fs.log.Debug("from cache EMPTY")
		}
	} else {
		var err error
		out, err = fs.busybox(ctx, shell.ReadLinkCmd(path))
		if err != nil {
			return "", err
		}
		sc.PutReadLink(path, out)
	}
	if len(out) == 0 || out[0] == "" {
		return "", syscall.ENOENT
	}

	target := out[0]
	if target[0] == '/' {
		target = target[1:]
		for i := pathutil.Depth(path); i > 0; i-- {
			target = "../" + target
		}
	}
	return target, nil
}

// Statfs represents filesystem statistics
type Statfs struct {
	Bsize   uint32
	Frsize  uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Namelen uint32
}

const (
	statfsBlockSize = 4096
	statfsNameMax   = 1024
)

// Statfs returns filesystem statistics for the configured device path. The
// device root reports zeros.
func (fs *Filesystem) Statfs(ctx context.Context) (*Statfs, error) {
	path := fs.statfsPath
	fs.log.Debugf("statfs(%s)", path)

	st := &Statfs{}
	if path == "/" {
		return st, nil
	}

	out, err := fs.busybox(ctx, shell.DfBlocksCmd(path))
	if err != nil {
		return nil, err
	}
	blocks, free, err := pathutil.ParseDf(out)
	if err != nil {
		fs.log.WithError(err).Errorf("statfs(%s): %v", path, out)
		return nil, syscall.EIO
	}
	st.Bsize = statfsBlockSize
	st.Frsize = statfsBlockSize
	st.Blocks = blocks
	st.Bfree = free
	st.Bavail = free

	out, err = fs.busybox(ctx, shell.DfInodesCmd(path))
	if err != nil {
		return nil, err
	}
	files, ffree, err := pathutil.ParseDf(out)
	if err != nil {
		fs.log.WithError(err).Errorf("statfs(%s): %v", path, out)
		return nil, syscall.EIO
	}
	st.Files = files
	st.Ffree = ffree
	st.Favail = ffree
	st.Namelen = statfsNameMax
	return st, nil
}

// Opendir lists path on the device and keeps the listing until Releasedir.
// It waits while another directory is being released.
func (fs *Filesystem) Opendir(ctx context.Context, path string) error {
	fs.log.Debugf("opendir(%s)", path)

	return fs.cache.GetDirCache().Open(path, func() ([]string, error) {
		out, err := fs.busybox(ctx, shell.ListCmd(path))
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, syscall.EIO
		}
		return out, nil
	})
}

// ReadDir returns the entries of an opened directory. The leading "." and
// ".." lines are skipped, as is every entry that no longer stats.
func (fs *Filesystem) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	fs.log.Debugf("readdir(%s)", path)

	names, ok := fs.cache.GetDirCache().Get(path)
	if !ok {
		return nil, syscall.EBADF
	}

	entries := make([]DirEntry, 0, len(names))
	for i, name := range names {
		if i < 2 {
			continue
		}
		attr, err := fs.GetAttr(ctx, pathutil.Join(path, name))
		if err != nil {
			continue
		}
		entries = append(entries, DirEntry{Name: name, Attr: attr})
	}
	return entries, nil
}

// Releasedir drops the listing of path.
func (fs *Filesystem) Releasedir(path string) {
	fs.log.Debugf("releasedir(%s)", path)
	fs.cache.GetDirCache().Release(path)
}

// Mkdir creates a directory on the device. The mode is decided by the device.
func (fs *Filesystem) Mkdir(ctx context.Context, path string) error {
	fs.log.Debugf("mkdir(%s)", path)

	fs.cache.Invalidate(path)
	return fs.mutate(ctx, shell.MkdirCmd(path))
}

// Rmdir removes an empty directory
func (fs *Filesystem) Rmdir(ctx context.Context, path string) error {
	fs.log.Debugf("rmdir(%s)", path)

	fs.cache.Invalidate(path)
	return fs.mutate(ctx, shell.RmdirCmd(path))
}

// Unlink removes a file on the device together with its staging copy. Pending
// writes of the removed file are dropped.
func (fs *Filesystem) Unlink(ctx context.Context, path string) error {
	fs.log.Debugf("unlink(%s)", path)

	fs.cache.Invalidate(path)
	fs.cache.GetFileStatus().Forget(path)
	if err := fs.staging.Remove(path); err != nil {
		fs.log.WithError(err).Warnf("failed to remove staging copy of %s", path)
	}
	return fs.mutate(ctx, shell.RmCmd(path))
}

// Rename moves from to to on the device. A pending write on from follows the
// file: the next flush of to pushes from's staging copy. When from is a
// directory the same holds for every pending file below it.
func (fs *Filesystem) Rename(ctx context.Context, from, to string) error {
	fs.log.Debugf("rename(%s, %s)", from, to)

	err := fs.mutate(ctx, shell.MoveCmd(from, to))

	fs.cache.Invalidate(to, from)
	if err != nil {
		return err
	}
	status := fs.cache.GetFileStatus()
	status.TransferRename(from, to, fs.staging.LocalPath(from))
	for _, child := range status.PendingUnder(from) {
		moved := to + strings.TrimPrefix(child, from)
		status.TransferRename(child, moved, fs.staging.LocalPath(child))
		fs.cache.Invalidate(moved, child)
	}
	return nil
}
