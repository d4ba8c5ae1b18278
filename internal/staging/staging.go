// Package staging manages the local directory that holds copies of remote
// files while they are open.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Dir is a private temporary directory. Each remote path maps to one flat
// file inside it.
type Dir struct {
	path string
	log  *logrus.Entry
}

// New creates a fresh directory from template, whose trailing "XXXXXX" is
// replaced by random characters.
func New(template string) (*Dir, error) {
	if !strings.HasSuffix(template, "XXXXXX") {
		return nil, fmt.Errorf("template %q must end in XXXXXX", template)
	}
	parent, base := filepath.Split(strings.TrimSuffix(template, "XXXXXX"))
	if parent == "" {
		parent = os.TempDir()
	}

	path, err := os.MkdirTemp(parent, base+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	d := &Dir{
		path: path,
		log:  logrus.WithFields(logrus.Fields{"component": "staging", "dir": path}),
	}
	d.log.Debug("staging directory created")
	return d, nil
}

// Path returns the directory itself.
func (d *Dir) Path() string {
	return d.path
}

// LocalPath maps a remote path to its staging file. Every "/" becomes "-",
// so "/sdcard/a.txt" is staged as "<dir>/-sdcard-a.txt".
func (d *Dir) LocalPath(remote string) string {
	return d.path + "/" + strings.ReplaceAll(remote, "/", "-")
}

// Exists reports whether a staging copy of remote is present.
func (d *Dir) Exists(remote string) bool {
	_, err := os.Lstat(d.LocalPath(remote))
	return err == nil
}

// Remove deletes the staging copy of remote, if any.
func (d *Dir) Remove(remote string) error {
	err := os.Remove(d.LocalPath(remote))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Cleanup removes the whole directory.
func (d *Dir) Cleanup() error {
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	d.log.Debug("staging directory removed")
	return nil
}
