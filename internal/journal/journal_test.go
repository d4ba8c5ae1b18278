package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbfs-fuse/adbfs-go/internal/config"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
)

type memJournal struct {
	mu      sync.Mutex
	records []*types.Record
	err     error
}

func (m *memJournal) Record(_ context.Context, rec *types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rec.ID = "id"
	m.records = append(m.records, rec)
	return nil
}

func (m *memJournal) List(context.Context) ([]*types.Record, error) { return m.records, nil }

func (m *memJournal) Get(context.Context, string) (*types.Record, error) { return nil, os.ErrNotExist }

func (m *memJournal) Close() error { return nil }

func TestNewNone(t *testing.T) {
	j, err := New(context.Background(), config.JournalConfig{Backend: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, j)

	records, err := j.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = j.Get(context.Background(), "x")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, config.JournalConfig{Backend: "redis"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(ctx, config.JournalConfig{Backend: "postgres"})
	assert.Error(t, err)

	_, err = New(ctx, config.JournalConfig{Backend: "mongodb"})
	assert.Error(t, err)

	_, err = New(ctx, config.JournalConfig{Backend: "s3"})
	assert.Error(t, err)
}

func TestRecorderFailed(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "-sdcard-a.txt")
	require.NoError(t, os.WriteFile(staging, []byte("unsaved"), 0o600))

	mem := &memJournal{}
	r := NewRecorder(mem)
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Failed(context.Background(), "/sdcard/a.txt", staging, errors.New("permission denied"))

	require.Len(t, mem.records, 1)
	rec := mem.records[0]
	assert.Equal(t, "/sdcard/a.txt", rec.RemotePath)
	assert.Equal(t, staging, rec.StagingPath)
	assert.Equal(t, "permission denied", rec.Error)
	assert.Equal(t, []byte("unsaved"), rec.Content)
	assert.Equal(t, int64(7), rec.Size)
	assert.Equal(t, fixed, rec.FailedAt)
}

func TestRecorderMissingStagingFile(t *testing.T) {
	mem := &memJournal{}
	NewRecorder(mem).Failed(context.Background(), "/a", filepath.Join(t.TempDir(), "gone"), nil)

	require.Len(t, mem.records, 1)
	assert.Nil(t, mem.records[0].Content)
	assert.Empty(t, mem.records[0].Error)
}

func TestRecorderSwallowsJournalErrors(t *testing.T) {
	mem := &memJournal{err: errors.New("db down")}
	assert.NotPanics(t, func() {
		NewRecorder(mem).Failed(context.Background(), "/a", "/nonexistent", errors.New("x"))
	})
	assert.IsType(t, Nop{}, NewRecorder(nil).Journal())
}
