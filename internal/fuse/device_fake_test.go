package fuse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/adbfs-fuse/adbfs-go/internal/cache"
	"github.com/adbfs-fuse/adbfs-go/internal/journal"
	"github.com/adbfs-fuse/adbfs-go/internal/policy"
	"github.com/adbfs-fuse/adbfs-go/internal/staging"
)

type pushed struct {
	local  string
	remote string
	data   string
}

// fakeDevice answers busybox commands and adb transfers from memory.
type fakeDevice struct {
	mu       sync.Mutex
	stats    map[string]string
	outputs  map[string][]string
	files    map[string][]byte
	commands []string
	pushes   []pushed
	pulls    []string
	pushErr  error
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{
		stats:   make(map[string]string),
		outputs: make(map[string][]string),
		files:   make(map[string][]byte),
	}
	d.dir("/")
	return d
}

func statLine(path string, size int, mode uint32, uid, gid int) string {
	return fmt.Sprintf("%s %d 8 %x %d %d fd00 1234 1 0 0 1700000000 1700000001 1700000002 4096", path, size, mode, uid, gid)
}

func (d *fakeDevice) dir(path string) {
	d.stats[path] = statLine(path, 4096, syscall.S_IFDIR|0o775, 0, 1015)
}

func (d *fakeDevice) file(path, content string) {
	d.stats[path] = statLine(path, len(content), syscall.S_IFREG|0o664, 0, 1015)
	d.files[path] = []byte(content)
}

func (d *fakeDevice) Busybox(ctx context.Context, command string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, command)

	if out, ok := d.outputs[command]; ok {
		return out, nil
	}
	if rest, ok := strings.CutPrefix(command, "stat -t '"); ok {
		if line, ok := d.stats[strings.TrimSuffix(rest, "'")]; ok {
			return []string{line}, nil
		}
	}
	return nil, nil
}

func (d *fakeDevice) Push(ctx context.Context, local, remote string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushErr != nil {
		return d.pushErr
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	d.files[remote] = data
	d.pushes = append(d.pushes, pushed{local: local, remote: remote, data: string(data)})
	return nil
}

func (d *fakeDevice) Pull(ctx context.Context, remote, local string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pulls = append(d.pulls, remote)
	data, ok := d.files[remote]
	if !ok {
		return syscall.ENOENT
	}
	return os.WriteFile(local, data, 0o644)
}

func (d *fakeDevice) ran(command string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c == command {
			n++
		}
	}
	return n
}

type testFS struct {
	*Filesystem
	dev     *fakeDevice
	staging *staging.Dir
}

func newTestFS(t *testing.T, dev *fakeDevice, pol *policy.Policy, recorder *journal.Recorder) *testFS {
	t.Helper()
	dir, err := staging.New(filepath.Join(t.TempDir(), "adbfs-XXXXXX"))
	if err != nil {
		t.Fatalf("Failed to create staging directory: %v", err)
	}
	t.Cleanup(func() { dir.Cleanup() })

	fs := NewFilesystem(Options{
		Shell:    dev,
		Transfer: dev,
		Staging:  dir,
		Cache:    cache.NewManager(cache.DefaultTTL),
		Policy:   pol,
		Recorder: recorder,
	})
	return &testFS{Filesystem: fs, dev: dev, staging: dir}
}
