package cache

import (
	"errors"
	"testing"
	"time"
)

func TestDirCache_OpenGetRelease(t *testing.T) {
	dc := NewDirCache()

	err := dc.Open("/sdcard", func() ([]string, error) {
		return []string{".", "..", "DCIM"}, nil
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	names, ok := dc.Get("/sdcard")
	if !ok || len(names) != 3 {
		t.Fatalf("Expected stored listing, got %v (%v)", names, ok)
	}

	// A second open keeps the first listing
	dc.Open("/sdcard", func() ([]string, error) { return []string{"other"}, nil })
	names, _ = dc.Get("/sdcard")
	if names[2] != "DCIM" {
		t.Errorf("Expected first listing to be kept, got %v", names)
	}

	dc.Release("/sdcard")
	if _, ok := dc.Get("/sdcard"); ok {
		t.Error("Listing should be gone after release")
	}
}

func TestDirCache_OpenError(t *testing.T) {
	dc := NewDirCache()
	want := errors.New("ls failed")

	if err := dc.Open("/x", func() ([]string, error) { return nil, want }); !errors.Is(err, want) {
		t.Errorf("Expected %v, got %v", want, err)
	}
	if dc.Len() != 0 {
		t.Error("Nothing should be stored on error")
	}
}

func TestDirCache_OpenWaitsForRelease(t *testing.T) {
	dc := NewDirCache()
	dc.Open("/d", func() ([]string, error) { return []string{".", ".."}, nil })

	entered := make(chan struct{})
	unblock := make(chan struct{})
	dc.beforeErase = func() {
		close(entered)
		<-unblock
	}

	releaseDone := make(chan struct{})
	go func() {
		dc.Release("/d")
		close(releaseDone)
	}()
	<-entered

	listed := make(chan struct{})
	go func() {
		dc.Open("/d", func() ([]string, error) {
			close(listed)
			return []string{".", "..", "new"}, nil
		})
	}()

	select {
	case <-listed:
		t.Fatal("Open ran while a release was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	<-releaseDone

	select {
	case <-listed:
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not proceed after release finished")
	}
}
