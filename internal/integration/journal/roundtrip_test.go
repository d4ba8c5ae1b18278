//go:build integration

package journal

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
)

// checkRoundTrip records two failed write-backs in j and reads them back.
func checkRoundTrip(t *testing.T, j types.Journal) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	late := &types.Record{
		RemotePath:  "/sdcard/Música/late.mp3",
		StagingPath: "/tmp/adbfs-abc/-sdcard-Música-late.mp3",
		Error:       "adb: error: failed to copy",
		Content:     []byte("late bytes"),
		Size:        10,
		FailedAt:    base.Add(time.Minute),
	}
	early := &types.Record{
		RemotePath:  "/sdcard/early.txt",
		StagingPath: "/tmp/adbfs-abc/-sdcard-early.txt",
		Error:       "permission denied",
		Content:     []byte("early"),
		Size:        5,
		FailedAt:    base,
	}
	for _, rec := range []*types.Record{late, early} {
		if err := j.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("Expected Record to assign an id")
		}
	}

	records, err := j.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ID != early.ID || records[1].ID != late.ID {
		t.Errorf("Expected oldest first, got %s then %s", records[0].RemotePath, records[1].RemotePath)
	}
	if len(records[0].Content) != 0 {
		t.Error("Expected List without content")
	}

	got, err := j.Get(ctx, late.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RemotePath != late.RemotePath || got.StagingPath != late.StagingPath || got.Error != late.Error {
		t.Errorf("Expected %+v, got %+v", late, got)
	}
	if string(got.Content) != "late bytes" || got.Size != 10 {
		t.Errorf("Expected content %q of size 10, got %q of size %d", "late bytes", got.Content, got.Size)
	}
	if !got.FailedAt.Equal(late.FailedAt) {
		t.Errorf("Expected failed at %v, got %v", late.FailedAt, got.FailedAt)
	}

	if _, err := j.Get(ctx, "no-such-record"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist for a missing record, got %v", err)
	}
}
