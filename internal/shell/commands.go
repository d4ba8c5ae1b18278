package shell

import "fmt"

// Remote command lines. Paths are single-quoted except for touch, which the
// device shell expects double-quoted.

// StatCmd prints the terse stat record of p.
func StatCmd(p string) string { return fmt.Sprintf("stat -t '%s'", p) }

// ReadLinkCmd resolves p to its absolute target.
func ReadLinkCmd(p string) string { return fmt.Sprintf("readlink -f '%s'", p) }

// ListCmd lists the names in directory p, one per line, dot entries included.
func ListCmd(p string) string { return fmt.Sprintf("ls -1a '%s'", p) }

// MkdirCmd creates directory p.
func MkdirCmd(p string) string { return fmt.Sprintf("mkdir '%s'", p) }

// RmdirCmd removes the empty directory p.
func RmdirCmd(p string) string { return fmt.Sprintf("rmdir '%s'", p) }

// RmCmd removes the file p.
func RmCmd(p string) string { return fmt.Sprintf("rm '%s'", p) }

// TouchCmd sets the times of p to now.
func TouchCmd(p string) string { return fmt.Sprintf("touch \"%s\"", p) }

// DfBlocksCmd reports usage of the filesystem holding p in 4096 byte blocks.
func DfBlocksCmd(p string) string { return fmt.Sprintf("df -P -B 4096 '%s'", p) }

// DfInodesCmd reports inode usage of the filesystem holding p.
func DfInodesCmd(p string) string { return fmt.Sprintf("df -P -i '%s'", p) }

// MoveCmd renames from to to.
func MoveCmd(from, to string) string { return fmt.Sprintf("mv '%s' '%s'", from, to) }

// SyncCmd flushes the device's filesystem buffers.
const SyncCmd = "sync"
