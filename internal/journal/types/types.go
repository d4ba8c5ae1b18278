package types

import (
	"context"
	"time"
)

// Record describes one write-back that could not be pushed to the device.
type Record struct {
	ID          string
	RemotePath  string
	StagingPath string
	Error       string
	Content     []byte
	Size        int64
	FailedAt    time.Time
}

// Journal stores failed write-backs so their content outlives the staging
// directory.
type Journal interface {
	// Record stores rec. Content may be empty if the staging file was gone.
	Record(ctx context.Context, rec *Record) error

	// List returns every stored record, oldest first, without content.
	List(ctx context.Context) ([]*Record, error)

	// Get returns the record with the given id including its content.
	Get(ctx context.Context, id string) (*Record, error)

	// Close releases the backend connection.
	Close() error
}
