package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
)

type memJournal struct {
	records []*types.Record
}

func (m *memJournal) Record(_ context.Context, rec *types.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memJournal) List(context.Context) ([]*types.Record, error) {
	return m.records, nil
}

func (m *memJournal) Get(_ context.Context, id string) (*types.Record, error) {
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("record %s: %w", id, os.ErrNotExist)
}

func (m *memJournal) Close() error { return nil }

func TestListRecords(t *testing.T) {
	j := &memJournal{}
	j.Record(context.Background(), &types.Record{
		ID:         "a1",
		RemotePath: "/sdcard/notes.txt",
		Error:      "adb: error: failed to copy",
		Size:       12,
		FailedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	var out bytes.Buffer
	require.NoError(t, listRecords(context.Background(), j, &out))
	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "a1")
	assert.Contains(t, out.String(), "/sdcard/notes.txt")
	assert.Contains(t, out.String(), "failed to copy")
}

func TestListRecordsEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, listRecords(context.Background(), &memJournal{}, &out))
	assert.Equal(t, "No failed write-backs recorded.\n", out.String())
}

func TestShowRecord(t *testing.T) {
	j := &memJournal{}
	j.Record(context.Background(), &types.Record{ID: "a1", Content: []byte("hello")})

	var out bytes.Buffer
	require.NoError(t, showRecord(context.Background(), j, "a1", &out))
	assert.Equal(t, "hello", out.String())

	err := showRecord(context.Background(), j, "missing", &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adbfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 5000\nadb: /opt/adb\nlog_level: warn\n"), 0o644))

	t.Cleanup(func() {
		configPath, debug, port, adbPath, serial, journalKind = "", false, 0, "", "", ""
	})

	require.NoError(t, rootCmd.ParseFlags([]string{"--config", path, "--port", "5555", "-d", "--serial", "emulator-5554"}))
	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)

	assert.Equal(t, 5555, cfg.Port)
	assert.Equal(t, "/opt/adb", cfg.Adb)
	assert.Equal(t, "emulator-5554", cfg.Serial)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "none", cfg.Journal.Backend)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adbfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal:\n  backend: sqlite\n"), 0o644))

	configPath = path
	t.Cleanup(func() { configPath = "" })

	_, err := loadConfig(journalListCmd)
	assert.Error(t, err)
}

func TestVersionString(t *testing.T) {
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	SetVersion("1.2.0", "abc123", "2026-10-01")
	assert.Equal(t, "1.2.0 (2026-10-01)", rootCmd.Version)

	SetVersion("1.3.0-dev", "abc123", "2026-10-01")
	assert.Equal(t, "1.3.0-dev (2026-10-01, commit: abc123)", rootCmd.Version)
}
