package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresJournal implements types.Journal using PostgreSQL
type PostgresJournal struct {
	db    *sql.DB
	table string
}

// NewPostgresJournal connects and creates the journal table if needed
func NewPostgresJournal(ctx context.Context, connStr, table string) (*PostgresJournal, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	j := &PostgresJournal{
		db:    db,
		table: table,
	}

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return j, nil
}

// initSchema creates the necessary tables
func (p *PostgresJournal) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			remote_path VARCHAR(4096) NOT NULL,
			staging_path VARCHAR(4096) NOT NULL,
			error TEXT NOT NULL,
			content BYTEA,
			size BIGINT NOT NULL DEFAULT 0,
			failed_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_%s_remote_path ON %s(remote_path);
	`, p.table, p.table, p.table)

	_, err := p.db.ExecContext(ctx, query)
	return err
}

// Record stores a failed write-back
func (p *PostgresJournal) Record(ctx context.Context, rec *types.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, remote_path, staging_path, error, content, size, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			error = EXCLUDED.error,
			content = EXCLUDED.content,
			size = EXCLUDED.size,
			failed_at = EXCLUDED.failed_at
	`, p.table)

	_, err := p.db.ExecContext(ctx, query, rec.ID, rec.RemotePath, rec.StagingPath, rec.Error, rec.Content, rec.Size, rec.FailedAt)
	if err != nil {
		return fmt.Errorf("failed to record write-back: %w", err)
	}
	return nil
}

// List returns all records without content
func (p *PostgresJournal) List(ctx context.Context) ([]*types.Record, error) {
	query := fmt.Sprintf("SELECT id, remote_path, staging_path, error, size, failed_at FROM %s ORDER BY failed_at", p.table)
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*types.Record
	for rows.Next() {
		rec := &types.Record{}
		if err := rows.Scan(&rec.ID, &rec.RemotePath, &rec.StagingPath, &rec.Error, &rec.Size, &rec.FailedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one record with its content
func (p *PostgresJournal) Get(ctx context.Context, id string) (*types.Record, error) {
	query := fmt.Sprintf("SELECT id, remote_path, staging_path, error, content, size, failed_at FROM %s WHERE id = $1", p.table)
	rec := &types.Record{}
	err := p.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.RemotePath, &rec.StagingPath, &rec.Error, &rec.Content, &rec.Size, &rec.FailedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found: %w", os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return rec, nil
}

// Close closes the database connection
func (p *PostgresJournal) Close() error {
	return p.db.Close()
}
