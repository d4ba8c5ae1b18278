package fuse

import (
	"context"
	"errors"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"

	"github.com/adbfs-fuse/adbfs-go/internal/pathutil"
)

// attrValid is how long the kernel may cache attributes on its own.
const attrValid = time.Second

// FuseFS implements the fuse.FS interface. It hands out one node per device
// path so a rename can re-point the nodes the kernel still holds.
type FuseFS struct {
	filesystem *Filesystem
	onDestroy  func()
	// server is set by Mount; without it entries are not invalidated.
	server *fs.Server

	mu    sync.Mutex
	nodes map[string]fs.Node
}

var _ fs.FS = (*FuseFS)(nil)
var _ fs.FSStatfser = (*FuseFS)(nil)
var _ fs.FSDestroyer = (*FuseFS)(nil)

// NewFuseFS wraps filesystem for bazil. onDestroy, if set, runs once the
// kernel tears the mount down.
func NewFuseFS(filesystem *Filesystem, onDestroy func()) *FuseFS {
	f := &FuseFS{
		filesystem: filesystem,
		onDestroy:  onDestroy,
		nodes:      make(map[string]fs.Node),
	}
	f.nodes["/"] = &Dir{fsys: f, nodePath: nodePath{path: "/"}}
	return f
}

// Root returns the root directory
func (f *FuseFS) Root() (fs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes["/"], nil
}

// Statfs returns filesystem statistics
func (f *FuseFS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) (err error) {
	defer recovered(f.filesystem, "statfs", "/", &err)

	statfs, err := f.filesystem.Statfs(ctx)
	if err != nil {
		return fuseErr(err)
	}
	resp.Blocks = statfs.Blocks
	resp.Bfree = statfs.Bfree
	resp.Bavail = statfs.Bavail
	resp.Files = statfs.Files
	resp.Ffree = statfs.Ffree
	resp.Bsize = statfs.Bsize
	resp.Namelen = statfs.Namelen
	resp.Frsize = statfs.Frsize
	return nil
}

// Destroy is called when the filesystem is unmounted
func (f *FuseFS) Destroy() {
	f.filesystem.log.Debug("destroy()")
	if f.onDestroy != nil {
		f.onDestroy()
	}
}

// node returns the node for path, reusing the one already handed to the
// kernel unless the path changed between file and directory.
func (f *FuseFS) node(path string, attr *Attr) fs.Node {
	isDir := attr != nil && attr.Mode.IsDir()

	f.mu.Lock()
	defer f.mu.Unlock()
	switch n := f.nodes[path].(type) {
	case *Dir:
		if isDir {
			return n
		}
	case *File:
		if !isDir {
			return n
		}
	}
	var n fs.Node
	if isDir {
		n = &Dir{fsys: f, nodePath: nodePath{path: path}}
	} else {
		n = &File{fsys: f, nodePath: nodePath{path: path}}
	}
	f.nodes[path] = n
	return n
}

// forget drops n from the table once the kernel no longer references it.
func (f *FuseFS) forget(path string, n fs.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodes[path] == n {
		delete(f.nodes, path)
	}
}

// renamed re-points the node at from, and every node below it, to to.
func (f *FuseFS) renamed(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := from + "/"
	moved := make(map[string]fs.Node)
	for path, n := range f.nodes {
		if path != from && !strings.HasPrefix(path, prefix) {
			continue
		}
		newPath := to + strings.TrimPrefix(path, from)
		n.(pathNode).setPath(newPath)
		moved[newPath] = n
		delete(f.nodes, path)
	}
	for path, n := range moved {
		f.nodes[path] = n
	}
}

// invalidate drops the kernel's dentries for both names. The kernel holds
// the directory locks until the rename request returns, so this must not
// run on the request goroutine.
func (f *FuseFS) invalidate(oldParent fs.Node, oldName string, newParent fs.Node, newName string) {
	if f.server == nil {
		return
	}
	for _, e := range []struct {
		parent fs.Node
		name   string
	}{{oldParent, oldName}, {newParent, newName}} {
		if err := f.server.InvalidateEntry(e.parent, e.name); err != nil && !errors.Is(err, fuse.ErrNotCached) {
			f.filesystem.log.WithError(err).Debugf("invalidate entry %s", e.name)
		}
	}
}

// recovered turns a panic in a request handler into EIO. bazil serves each
// request on its own goroutine, out of reach of the mount's recover.
func recovered(filesystem *Filesystem, op, path string, err *error) {
	if r := recover(); r != nil {
		filesystem.log.WithField("panic", r).Errorf("%s(%s) panicked\n%s", op, path, debug.Stack())
		*err = fuse.Errno(syscall.EIO)
	}
}

// pathNode is implemented by the nodes of the table.
type pathNode interface {
	Path() string
	setPath(path string)
}

// nodePath is the current device path of a node.
type nodePath struct {
	mu   sync.RWMutex
	path string
}

// Path returns the current device path.
func (p *nodePath) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.path
}

func (p *nodePath) setPath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.path = path
}

func fillAttr(a *fuse.Attr, attr *Attr) {
	a.Valid = attrValid
	a.Inode = attr.Inode
	a.Mode = attr.Mode
	a.Size = attr.Size
	a.Blocks = attr.Blocks
	a.Nlink = attr.Nlink
	a.Uid = attr.Uid
	a.Gid = attr.Gid
	a.Rdev = attr.Rdev
	a.BlockSize = attr.Blksize
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Ctime
}

func direntType(mode os.FileMode) fuse.DirentType {
	switch {
	case mode.IsDir():
		return fuse.DT_Dir
	case mode&os.ModeSymlink != 0:
		return fuse.DT_Link
	case mode&os.ModeCharDevice != 0:
		return fuse.DT_Char
	case mode&os.ModeDevice != 0:
		return fuse.DT_Block
	case mode&os.ModeNamedPipe != 0:
		return fuse.DT_FIFO
	case mode&os.ModeSocket != 0:
		return fuse.DT_Socket
	}
	return fuse.DT_File
}

// rawMode converts an os.FileMode from the kernel back to st_mode bits.
func rawMode(mode os.FileMode) uint32 {
	raw := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		raw |= syscall.S_IFDIR
	case mode&os.ModeSymlink != 0:
		raw |= syscall.S_IFLNK
	case mode&os.ModeCharDevice != 0:
		raw |= syscall.S_IFCHR
	case mode&os.ModeDevice != 0:
		raw |= syscall.S_IFBLK
	case mode&os.ModeNamedPipe != 0:
		raw |= syscall.S_IFIFO
	case mode&os.ModeSocket != 0:
		raw |= syscall.S_IFSOCK
	default:
		raw |= syscall.S_IFREG
	}
	if mode&os.ModeSetuid != 0 {
		raw |= syscall.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		raw |= syscall.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		raw |= syscall.S_ISVTX
	}
	return raw
}

// setattr applies the size and time changes the device supports.
func setattr(ctx context.Context, filesystem *Filesystem, path string, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Mode() || req.Valid.Uid() || req.Valid.Gid() {
		return fuse.Errno(syscall.ENOSYS)
	}
	if req.Valid.Size() {
		if err := filesystem.Truncate(ctx, path, int64(req.Size)); err != nil {
			return fuseErr(err)
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() || req.Valid.AtimeNow() || req.Valid.MtimeNow() {
		if err := filesystem.Utimens(ctx, path); err != nil {
			return fuseErr(err)
		}
	}
	attr, err := filesystem.GetAttr(ctx, path)
	if err != nil {
		return fuseErr(err)
	}
	fillAttr(&resp.Attr, attr)
	return nil
}

// Dir represents a directory node
type Dir struct {
	fsys *FuseFS
	nodePath
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.NodeOpener = (*Dir)(nil)
var _ fs.NodeSetattrer = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeMknoder = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)
var _ fs.NodeAccesser = (*Dir)(nil)
var _ fs.NodeForgetter = (*Dir)(nil)

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) (err error) {
	path := d.Path()
	defer recovered(d.fsys.filesystem, "getattr", path, &err)

	attr, err := d.fsys.filesystem.GetAttr(ctx, path)
	if err != nil {
		return fuseErr(err)
	}
	fillAttr(a, attr)
	return nil
}

// Lookup looks up a child node
func (d *Dir) Lookup(ctx context.Context, name string) (n fs.Node, err error) {
	childPath := pathutil.Join(d.Path(), name)
	defer recovered(d.fsys.filesystem, "lookup", childPath, &err)

	attr, err := d.fsys.filesystem.GetAttr(ctx, childPath)
	if err != nil {
		return nil, fuseErr(err)
	}
	return d.fsys.node(childPath, attr), nil
}

// Open lists the directory; the listing lives until the handle is released
func (d *Dir) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (h fs.Handle, err error) {
	path := d.Path()
	defer recovered(d.fsys.filesystem, "opendir", path, &err)

	if err := d.fsys.filesystem.Opendir(ctx, path); err != nil {
		return nil, fuseErr(err)
	}
	return &DirHandle{filesystem: d.fsys.filesystem, path: path}, nil
}

// Setattr sets directory times
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) (err error) {
	path := d.Path()
	defer recovered(d.fsys.filesystem, "setattr", path, &err)
	return setattr(ctx, d.fsys.filesystem, path, req, resp)
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (n fs.Node, err error) {
	childPath := pathutil.Join(d.Path(), req.Name)
	defer recovered(d.fsys.filesystem, "mkdir", childPath, &err)

	if err := d.fsys.filesystem.Mkdir(ctx, childPath); err != nil {
		return nil, fuseErr(err)
	}
	return d.fsys.node(childPath, &Attr{Mode: os.ModeDir}), nil
}

// Create creates a new file in the directory
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (n fs.Node, h fs.Handle, err error) {
	childPath := pathutil.Join(d.Path(), req.Name)
	defer recovered(d.fsys.filesystem, "create", childPath, &err)

	f, err := d.fsys.filesystem.Create(ctx, childPath, req.Mode&^req.Umask, int(req.Flags))
	if err != nil {
		return nil, nil, fuseErr(err)
	}
	file := d.fsys.node(childPath, nil).(*File)
	return file, &FileHandle{node: file, file: f}, nil
}

// Mknod creates a special file locally and pushes it
func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (n fs.Node, err error) {
	childPath := pathutil.Join(d.Path(), req.Name)
	defer recovered(d.fsys.filesystem, "mknod", childPath, &err)

	if err := d.fsys.filesystem.Mknod(ctx, childPath, rawMode(req.Mode&^req.Umask), req.Rdev); err != nil {
		return nil, fuseErr(err)
	}
	return d.fsys.node(childPath, nil), nil
}

// Remove removes a file or empty directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) (err error) {
	childPath := pathutil.Join(d.Path(), req.Name)
	defer recovered(d.fsys.filesystem, "remove", childPath, &err)

	if req.Dir {
		return fuseErr(d.fsys.filesystem.Rmdir(ctx, childPath))
	}
	return fuseErr(d.fsys.filesystem.Unlink(ctx, childPath))
}

// Rename moves a child of d into newDir. The nodes the kernel holds for the
// moved file or tree follow it to the new path.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) (err error) {
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EXDEV)
	}
	from := pathutil.Join(d.Path(), req.OldName)
	to := pathutil.Join(target.Path(), req.NewName)
	defer recovered(d.fsys.filesystem, "rename", from, &err)

	if err := d.fsys.filesystem.Rename(ctx, from, to); err != nil {
		return fuseErr(err)
	}
	d.fsys.renamed(from, to)
	go d.fsys.invalidate(d, req.OldName, target, req.NewName)
	return nil
}

// Access checks directory access permissions
func (d *Dir) Access(ctx context.Context, req *fuse.AccessRequest) (err error) {
	path := d.Path()
	defer recovered(d.fsys.filesystem, "access", path, &err)
	return fuseErr(d.fsys.filesystem.Access(ctx, path, req.Mask))
}

// Forget drops the node from the table
func (d *Dir) Forget() {
	d.fsys.forget(d.Path(), d)
}

// DirHandle is an open directory listing. The listing stays keyed by the
// path it was opened under.
type DirHandle struct {
	filesystem *Filesystem
	path       string
}

var _ fs.HandleReadDirAller = (*DirHandle)(nil)
var _ fs.HandleReleaser = (*DirHandle)(nil)

// ReadDirAll reads all directory entries
func (h *DirHandle) ReadDirAll(ctx context.Context) (dirents []fuse.Dirent, err error) {
	defer recovered(h.filesystem, "readdir", h.path, &err)

	entries, err := h.filesystem.ReadDir(ctx, h.path)
	if err != nil {
		return nil, fuseErr(err)
	}

	dirents = make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		dirents = append(dirents, fuse.Dirent{
			Inode: entry.Attr.Inode,
			Name:  entry.Name,
			Type:  direntType(entry.Attr.Mode),
		})
	}
	return dirents, nil
}

// Release drops the listing
func (h *DirHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) (err error) {
	defer recovered(h.filesystem, "releasedir", h.path, &err)
	h.filesystem.Releasedir(h.path)
	return nil
}

// File represents a file node
type File struct {
	fsys *FuseFS
	nodePath
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)
var _ fs.NodeReadlinker = (*File)(nil)
var _ fs.NodeAccesser = (*File)(nil)
var _ fs.NodeFsyncer = (*File)(nil)
var _ fs.NodeForgetter = (*File)(nil)

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) (err error) {
	path := f.Path()
	defer recovered(f.fsys.filesystem, "getattr", path, &err)

	attr, err := f.fsys.filesystem.GetAttr(ctx, path)
	if err != nil {
		return fuseErr(err)
	}
	fillAttr(a, attr)
	return nil
}

// Open stages the file and opens the local copy
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (h fs.Handle, err error) {
	path := f.Path()
	defer recovered(f.fsys.filesystem, "open", path, &err)

	file, err := f.fsys.filesystem.Open(ctx, path, int(req.Flags))
	if err != nil {
		return nil, fuseErr(err)
	}
	return &FileHandle{node: f, file: file}, nil
}

// Setattr truncates the file or touches it
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) (err error) {
	path := f.Path()
	defer recovered(f.fsys.filesystem, "setattr", path, &err)
	return setattr(ctx, f.fsys.filesystem, path, req, resp)
}

// Readlink reads the target of a symbolic link
func (f *File) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (target string, err error) {
	path := f.Path()
	defer recovered(f.fsys.filesystem, "readlink", path, &err)

	target, err = f.fsys.filesystem.Readlink(ctx, path)
	if err != nil {
		return "", fuseErr(err)
	}
	return target, nil
}

// Access checks file access permissions
func (f *File) Access(ctx context.Context, req *fuse.AccessRequest) (err error) {
	path := f.Path()
	defer recovered(f.fsys.filesystem, "access", path, &err)
	return fuseErr(f.fsys.filesystem.Access(ctx, path, req.Mask))
}

// Fsync pushes pending writes to the device
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) (err error) {
	path := f.Path()
	defer recovered(f.fsys.filesystem, "fsync", path, &err)
	return fuseErr(f.fsys.filesystem.Fsync(ctx, path, nil))
}

// Forget drops the node from the table
func (f *File) Forget() {
	f.fsys.forget(f.Path(), f)
}

// FileHandle is an open staging file. It reads the path from its node, so
// the write-back after a rename goes to the new name.
type FileHandle struct {
	node *File
	file *os.File
}

var _ fs.HandleReader = (*FileHandle)(nil)
var _ fs.HandleWriter = (*FileHandle)(nil)
var _ fs.HandleFlusher = (*FileHandle)(nil)
var _ fs.HandleReleaser = (*FileHandle)(nil)

func (h *FileHandle) filesystem() *Filesystem {
	return h.node.fsys.filesystem
}

// Read reads file data
func (h *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) (err error) {
	path := h.node.Path()
	defer recovered(h.filesystem(), "read", path, &err)

	data, err := h.filesystem().Read(path, h.file, req.Size, req.Offset)
	if err != nil {
		return fuseErr(err)
	}
	resp.Data = data
	return nil
}

// Write writes file data
func (h *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) (err error) {
	path := h.node.Path()
	defer recovered(h.filesystem(), "write", path, &err)

	n, err := h.filesystem().Write(path, h.file, req.Data, req.Offset)
	resp.Size = n
	return fuseErr(err)
}

// Flush pushes written data back to the device
func (h *FileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) (err error) {
	path := h.node.Path()
	defer recovered(h.filesystem(), "flush", path, &err)
	return fuseErr(h.filesystem().Flush(ctx, path, h.file))
}

// Release closes the staging file
func (h *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) (err error) {
	path := h.node.Path()
	defer recovered(h.filesystem(), "release", path, &err)
	return fuseErr(h.filesystem().Release(path, h.file))
}

// MountOptions contains options for mounting the filesystem
type MountOptions struct {
	FSName     string
	AllowOther bool
	// OnDestroy runs when the kernel unmounts the filesystem.
	OnDestroy func()
}

// Mount mounts the filesystem at the given mountpoint and serves requests
// until it is unmounted.
func Mount(mountpoint string, filesystem *Filesystem, options MountOptions) error {
	if options.FSName == "" {
		options.FSName = "adbfs"
	}
	mountOptions := []fuse.MountOption{
		fuse.FSName(options.FSName),
		fuse.Subtype("adbfs-go"),
	}
	if options.AllowOther {
		mountOptions = append(mountOptions, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountpoint, mountOptions...)
	if err != nil {
		return err
	}
	defer c.Close()

	logrus.WithField("component", "fuse").Infof("Mounted filesystem at %s", mountpoint)

	fsys := NewFuseFS(filesystem, options.OnDestroy)
	fsys.server = fs.New(c, nil)
	return fsys.server.Serve(fsys)
}

// Unmount asks the kernel to unmount mountpoint
func Unmount(mountpoint string) error {
	return fuse.Unmount(mountpoint)
}
