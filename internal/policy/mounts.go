package policy

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/adbfs-fuse/adbfs-go/internal/pathutil"
)

// MountEntry is one line of the device mount table.
type MountEntry struct {
	FileSystem string
	MountPoint string
	Type       string
	Options    map[string]struct{}
}

// HasOption reports whether opt was among the mount options.
func (e *MountEntry) HasOption(opt string) bool {
	_, ok := e.Options[opt]
	return ok
}

// ParseMountLine parses "<fs> on <mountpoint> type <type> (<opts>)".
func ParseMountLine(line string) (*MountEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[1] != "on" || fields[3] != "type" {
		return nil, false
	}

	entry := &MountEntry{
		FileSystem: fields[0],
		MountPoint: fields[2],
		Type:       fields[4],
		Options:    make(map[string]struct{}),
	}
	if len(fields) > 5 {
		opts := strings.TrimSuffix(strings.TrimPrefix(fields[5], "("), ")")
		for _, opt := range strings.Split(opts, ",") {
			if opt != "" {
				entry.Options[opt] = struct{}{}
			}
		}
	}
	return entry, true
}

// MountTable maps mount points to their entries. It is not modified after
// construction.
type MountTable struct {
	entries map[string]*MountEntry
}

// ParseMounts builds a table from mount output. Unparseable lines are
// skipped. A later line for the same mount point replaces an earlier one.
func ParseMounts(lines []string) *MountTable {
	mt := &MountTable{entries: make(map[string]*MountEntry)}
	for _, line := range lines {
		if entry, ok := ParseMountLine(line); ok {
			mt.entries[entry.MountPoint] = entry
		}
	}
	return mt
}

// Len returns the number of mount points.
func (mt *MountTable) Len() int {
	return len(mt.entries)
}

// MountPoint finds the entry whose mount point is path or its nearest
// ancestor.
func (mt *MountTable) MountPoint(path string) (*MountEntry, bool) {
	p := path
	for {
		if entry, ok := mt.entries[p]; ok {
			return entry, true
		}
		if pathutil.IsFixedPoint(p) {
			return nil, false
		}
		p = pathutil.Parent(p)
	}
}

// IsReadOnly reports whether path lives on a read-only mount.
func (mt *MountTable) IsReadOnly(path string) bool {
	entry, ok := mt.MountPoint(path)
	return ok && entry.HasOption("ro")
}

// IsNoExec reports whether path lives on a noexec mount.
func (mt *MountTable) IsNoExec(path string) bool {
	entry, ok := mt.MountPoint(path)
	return ok && entry.HasOption("noexec")
}

// Policy combines the identity check with mount restrictions.
type Policy struct {
	Identity *Identity
	Mounts   *MountTable
}

// Check returns nil if mask is granted on path for a file owned by uid:gid
// with mode. Mount options can only deny what the identity check allows.
func (p *Policy) Check(path string, uid, gid, mode, mask uint32) error {
	if p.Identity != nil {
		if err := p.Identity.Access(uid, gid, mode, mask); err != nil {
			return err
		}
	}
	if p.Mounts == nil {
		return nil
	}
	if mask&unix.W_OK != 0 && p.Mounts.IsReadOnly(path) {
		return syscall.EACCES
	}
	if mask&unix.X_OK != 0 && p.Mounts.IsNoExec(path) {
		return syscall.EACCES
	}
	return nil
}
