// Package policy decides access to remote files from the device user's
// identity and the device's mount table.
package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// ErrBadIdentity is returned for id output that does not start with uid=.
var ErrBadIdentity = errors.New("unrecognised id output")

// Identity is the user the device shell runs as.
type Identity struct {
	Uid    uint32
	Gid    uint32
	Groups map[uint32]struct{}
}

// ParseIdentity parses busybox id output such as
// "uid=2000 gid=2000 groups=1003,1004,1007". Name suffixes like
// "uid=0(root)" are accepted and ignored.
func ParseIdentity(line string) (*Identity, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "uid=") {
		return nil, fmt.Errorf("%w: %q", ErrBadIdentity, line)
	}

	id := &Identity{Groups: make(map[uint32]struct{})}
	for _, field := range strings.Fields(line) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "uid":
			n, err := parseID(value)
			if err != nil {
				return nil, fmt.Errorf("uid: %w", err)
			}
			id.Uid = n
		case "gid":
			n, err := parseID(value)
			if err != nil {
				return nil, fmt.Errorf("gid: %w", err)
			}
			id.Gid = n
		case "groups":
			for _, g := range strings.Split(value, ",") {
				n, err := parseID(g)
				if err != nil {
					return nil, fmt.Errorf("groups: %w", err)
				}
				id.Groups[n] = struct{}{}
			}
		}
	}
	return id, nil
}

func parseID(s string) (uint32, error) {
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

// IsRoot reports whether the identity is uid 0 and gid 0.
func (id *Identity) IsRoot() bool {
	return id.Uid == 0 && id.Gid == 0
}

// InGroup reports whether gid is the primary group or one of the supplementary ones.
func (id *Identity) InGroup(gid uint32) bool {
	if id.Gid == gid {
		return true
	}
	_, ok := id.Groups[gid]
	return ok
}

// Access checks mask against the permission bits of a file owned by
// uid:gid with the given mode. It returns nil or syscall.EACCES.
func (id *Identity) Access(uid, gid, mode uint32, mask uint32) error {
	if id.IsRoot() {
		return nil
	}

	var triad uint32
	switch {
	case id.Uid == uid:
		triad = (mode >> 6) & 07
	case id.InGroup(gid):
		triad = (mode >> 3) & 07
	default:
		triad = mode & 07
	}

	if triad&mask != mask {
		return syscall.EACCES
	}
	return nil
}
