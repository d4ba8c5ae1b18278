//go:build integration

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/adbfs-fuse/adbfs-go/internal/integration"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/postgres"
)

func TestPostgresJournalRoundTrip(t *testing.T) {
	connStr := integration.RequirePostgres(t)
	ctx := context.Background()

	table := fmt.Sprintf("adbfs_it_%d", time.Now().UnixNano())
	j, err := postgres.NewPostgresJournal(ctx, connStr, table)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() {
		j.Close()
		db, err := sql.Open("postgres", connStr)
		if err != nil {
			return
		}
		defer db.Close()
		db.Exec("DROP TABLE IF EXISTS " + table)
	})

	checkRoundTrip(t, j)
}

func TestPostgresJournalRejectsBadTable(t *testing.T) {
	connStr := integration.RequirePostgres(t)

	if _, err := postgres.NewPostgresJournal(context.Background(), connStr, "records; DROP TABLE x"); err == nil {
		t.Error("Expected an invalid table name to be rejected")
	}
}
