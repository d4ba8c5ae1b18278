package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
)

// ObjectStore is the part of s3client.Client the journal needs.
type ObjectStore interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObjectWithMetadata(ctx context.Context, key string, data []byte, metadata map[string]string) error
	HeadObject(ctx context.Context, key string) (map[string]string, error)
}

const (
	metaRemotePath  = "remote-path"
	metaStagingPath = "staging-path"
	metaError       = "error"
	metaFailedAt    = "failed-at"
	metaSize        = "size"
)

// S3 only carries ASCII in user metadata and hands anything else back
// RFC 2047 encoded, so free text fields are percent-encoded.
func encodeMeta(v string) string {
	return url.PathEscape(v)
}

// decodeMeta reverses encodeMeta. Values that do not decode are returned
// as stored.
func decodeMeta(v string) string {
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}

// S3Journal stores each record as one object holding the staged content;
// the record fields travel as user metadata.
type S3Journal struct {
	store  ObjectStore
	prefix string
}

// NewS3Journal wraps store. Keys are prefix followed by the record id.
func NewS3Journal(store ObjectStore, prefix string) *S3Journal {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Journal{store: store, prefix: prefix}
}

func (j *S3Journal) key(id string) string {
	return j.prefix + id
}

// Record uploads the content and metadata of rec
func (j *S3Journal) Record(ctx context.Context, rec *types.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metadata := map[string]string{
		metaRemotePath:  encodeMeta(rec.RemotePath),
		metaStagingPath: encodeMeta(rec.StagingPath),
		metaError:       encodeMeta(rec.Error),
		metaFailedAt:    rec.FailedAt.UTC().Format(time.RFC3339Nano),
		metaSize:        strconv.FormatInt(rec.Size, 10),
	}
	if err := j.store.PutObjectWithMetadata(ctx, j.key(rec.ID), rec.Content, metadata); err != nil {
		return fmt.Errorf("failed to record write-back: %w", err)
	}
	return nil
}

func (j *S3Journal) head(ctx context.Context, id string) (*types.Record, error) {
	metadata, err := j.store.HeadObject(ctx, j.key(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("record %s not found: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	rec := &types.Record{
		ID:          id,
		RemotePath:  decodeMeta(metadata[metaRemotePath]),
		StagingPath: decodeMeta(metadata[metaStagingPath]),
		Error:       decodeMeta(metadata[metaError]),
	}
	if v, ok := metadata[metaFailedAt]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.FailedAt = t
		}
	}
	if v, ok := metadata[metaSize]; ok {
		rec.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	return rec, nil
}

// List returns all records under the prefix, oldest first, without content
func (j *S3Journal) List(ctx context.Context) ([]*types.Record, error) {
	keys, err := j.store.ListObjects(ctx, j.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*types.Record, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, j.prefix)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		rec, err := j.head(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].FailedAt.Before(records[b].FailedAt)
	})
	return records, nil
}

// Get returns one record with its content
func (j *S3Journal) Get(ctx context.Context, id string) (*types.Record, error) {
	rec, err := j.head(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := j.store.GetObject(ctx, j.key(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	rec.Content = data
	return rec, nil
}

// Close is a no-op; the SDK client holds no connection of its own.
func (j *S3Journal) Close() error {
	return nil
}
