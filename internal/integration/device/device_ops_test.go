//go:build integration

package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"syscall"
	"testing"
	"time"

	"github.com/adbfs-fuse/adbfs-go/internal/integration"
)

func TestRootAttributes(t *testing.T) {
	fs := integration.SetupFilesystem(t)

	attr, err := fs.GetAttr(context.Background(), "/")
	if err != nil {
		t.Fatalf("Failed to stat root: %v", err)
	}
	if !attr.Mode.IsDir() {
		t.Errorf("Expected root to be a directory, got %v", attr.Mode)
	}
}

func TestListRoot(t *testing.T) {
	fs := integration.SetupFilesystem(t)
	ctx := context.Background()

	if err := fs.Opendir(ctx, "/"); err != nil {
		t.Fatalf("Opendir failed: %v", err)
	}
	defer fs.Releasedir("/")

	entries, err := fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "system" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected /system in root listing, got %d entries", len(entries))
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := integration.SetupFilesystem(t)
	ctx := context.Background()

	dir := path.Join(integration.ScratchDir, fmt.Sprintf("adbfs-it-%d", time.Now().UnixNano()))
	if err := fs.Mkdir(ctx, dir); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	defer fs.Rmdir(ctx, dir)

	file := path.Join(dir, "hello.txt")
	f, err := fs.Create(ctx, file, 0o644, os.O_RDWR)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := fs.Write(file, f, []byte("hello device"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := fs.Flush(ctx, file, f); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	fs.Release(file, f)
	defer fs.Unlink(ctx, file)

	attr, err := fs.GetAttr(ctx, file)
	if err != nil {
		t.Fatalf("GetAttr after flush failed: %v", err)
	}
	if attr.Size != uint64(len("hello device")) {
		t.Errorf("Expected size %d, got %d", len("hello device"), attr.Size)
	}

	f, err = fs.Open(ctx, file, os.O_RDONLY)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, err := fs.Read(file, f, 64, 0)
	fs.Release(file, f)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "hello device" {
		t.Errorf("Expected %q, got %q", "hello device", data)
	}
}

func TestMissingPath(t *testing.T) {
	fs := integration.SetupFilesystem(t)

	_, err := fs.GetAttr(context.Background(), "/adbfs-does-not-exist")
	if err == nil {
		t.Fatal("Expected an error for a missing path")
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("Expected ENOENT, got %v", err)
	}
}

func TestStatfsData(t *testing.T) {
	fs := integration.SetupFilesystem(t)

	st, err := fs.Statfs(context.Background())
	if err != nil {
		t.Fatalf("Statfs failed: %v", err)
	}
	if st.Namelen != 1024 {
		t.Errorf("Expected namelen 1024, got %d", st.Namelen)
	}
}
