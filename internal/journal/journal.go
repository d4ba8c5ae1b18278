// Package journal keeps the content of write-backs the device refused, so a
// failed push after close does not silently lose data.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adbfs-fuse/adbfs-go/internal/config"
	"github.com/adbfs-fuse/adbfs-go/internal/credentials"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/mongodb"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/postgres"
	s3journal "github.com/adbfs-fuse/adbfs-go/internal/journal/s3"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
	"github.com/adbfs-fuse/adbfs-go/internal/s3client"
)

// ErrUnknownBackend is returned for a backend name New does not know.
var ErrUnknownBackend = errors.New("unknown journal backend")

// New opens the backend named in cfg. "none" yields a journal that drops
// everything.
func New(ctx context.Context, cfg config.JournalConfig) (types.Journal, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil

	case "postgres":
		if cfg.PostgresConnStr == "" {
			return nil, fmt.Errorf("PostgreSQL connection string is required")
		}
		table := cfg.PostgresTable
		if table == "" {
			table = "adbfs_journal"
		}
		return postgres.NewPostgresJournal(ctx, cfg.PostgresConnStr, table)

	case "mongodb":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MongoDB URI is required")
		}
		database := cfg.MongoDatabase
		if database == "" {
			database = "adbfs"
		}
		collection := cfg.MongoCollection
		if collection == "" {
			collection = "journal"
		}
		return mongodb.NewMongoJournal(ctx, cfg.MongoURI, database, collection)

	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required")
		}
		creds, err := credentials.Resolve(cfg.S3PasswdFile, cfg.S3Bucket)
		if err != nil && !errors.Is(err, credentials.ErrNoCredentials) {
			return nil, err
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		client, err := s3client.NewClient(ctx, cfg.S3Bucket, region, cfg.S3Endpoint, creds)
		if err != nil {
			return nil, err
		}
		return s3journal.NewS3Journal(client, cfg.S3Prefix), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, *types.Record) error { return nil }

func (Nop) List(context.Context) ([]*types.Record, error) { return nil, nil }

func (Nop) Get(_ context.Context, id string) (*types.Record, error) {
	return nil, fmt.Errorf("record %s not found: %w", id, os.ErrNotExist)
}

func (Nop) Close() error { return nil }

// Recorder captures the staging file of a failed push into a journal.
type Recorder struct {
	journal types.Journal
	now     func() time.Time
	log     *logrus.Entry
}

// NewRecorder wraps j. A nil j behaves like Nop.
func NewRecorder(j types.Journal) *Recorder {
	if j == nil {
		j = Nop{}
	}
	return &Recorder{
		journal: j,
		now:     time.Now,
		log:     logrus.WithField("component", "journal"),
	}
}

// Failed records that pushing stagingPath to remotePath failed with cause.
// The staging content is read now because the staging directory is removed
// on unmount. Journal errors are logged, never returned.
func (r *Recorder) Failed(ctx context.Context, remotePath, stagingPath string, cause error) {
	rec := &types.Record{
		RemotePath:  remotePath,
		StagingPath: stagingPath,
		FailedAt:    r.now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	data, err := os.ReadFile(stagingPath)
	if err != nil {
		r.log.WithError(err).WithField("path", stagingPath).Warn("staging copy unreadable, recording without content")
	} else {
		rec.Content = data
		rec.Size = int64(len(data))
	}

	if err := r.journal.Record(ctx, rec); err != nil {
		r.log.WithError(err).WithField("path", remotePath).Error("failed to journal write-back")
		return
	}
	r.log.WithFields(logrus.Fields{"path": remotePath, "id": rec.ID}).Warn("write-back failed, content journaled")
}

// Journal returns the wrapped journal.
func (r *Recorder) Journal() types.Journal {
	return r.journal
}
