package s3

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
	"github.com/adbfs-fuse/adbfs-go/internal/s3client"
)

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	mock := s3client.NewMockClient()
	j := NewS3Journal(mock, "adbfs")

	failedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &types.Record{
		RemotePath:  "/sdcard/notes.txt",
		StagingPath: "/tmp/adbfs-abc/-sdcard-notes.txt",
		Error:       "permission denied",
		Content:     []byte("hello"),
		Size:        5,
		FailedAt:    failedAt,
	}
	require.NoError(t, j.Record(ctx, rec))
	require.NotEmpty(t, rec.ID)

	keys, err := mock.ListObjects(ctx, "adbfs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"adbfs/" + rec.ID}, keys)

	got, err := j.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "/sdcard/notes.txt", got.RemotePath)
	assert.Equal(t, "permission denied", got.Error)
	assert.Equal(t, []byte("hello"), got.Content)
	assert.Equal(t, int64(5), got.Size)
	assert.True(t, failedAt.Equal(got.FailedAt))
}

func TestRecordNonASCIIMetadata(t *testing.T) {
	ctx := context.Background()
	mock := s3client.NewMockClient()
	j := NewS3Journal(mock, "adbfs")

	rec := &types.Record{
		ID:          "utf8",
		RemotePath:  "/sdcard/Música/café 100%.mp3",
		StagingPath: "/tmp/adbfs-abc/-sdcard-Música-café 100%.mp3",
		Error:       "écriture refusée",
	}
	require.NoError(t, j.Record(ctx, rec))

	metadata, err := mock.HeadObject(ctx, "adbfs/utf8")
	require.NoError(t, err)
	for k, v := range metadata {
		for _, r := range v {
			assert.Less(t, r, rune(0x80), "metadata %s must be ASCII: %q", k, v)
		}
	}

	got, err := j.Get(ctx, "utf8")
	require.NoError(t, err)
	assert.Equal(t, rec.RemotePath, got.RemotePath)
	assert.Equal(t, rec.StagingPath, got.StagingPath)
	assert.Equal(t, rec.Error, got.Error)
}

func TestUndecodableMetadataKept(t *testing.T) {
	ctx := context.Background()
	mock := s3client.NewMockClient()
	require.NoError(t, mock.PutObjectWithMetadata(ctx, "adbfs/old", nil, map[string]string{
		metaRemotePath: "/sdcard/50%",
	}))

	got, err := NewS3Journal(mock, "adbfs").Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "/sdcard/50%", got.RemotePath)
}

func TestListOrderAndContent(t *testing.T) {
	ctx := context.Background()
	j := NewS3Journal(s3client.NewMockClient(), "journal/")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, &types.Record{ID: "b", RemotePath: "/late", FailedAt: base.Add(time.Hour)}))
	require.NoError(t, j.Record(ctx, &types.Record{ID: "a", RemotePath: "/early", FailedAt: base, Content: []byte("x")}))

	records, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "/early", records[0].RemotePath)
	assert.Equal(t, "/late", records[1].RemotePath)
	assert.Nil(t, records[0].Content)
}

func TestGetMissing(t *testing.T) {
	j := NewS3Journal(s3client.NewMockClient(), "")

	_, err := j.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
