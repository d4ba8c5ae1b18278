//go:build integration

package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adbfs-fuse/adbfs-go/internal/integration"
	"github.com/adbfs-fuse/adbfs-go/internal/journal/mongodb"
)

func TestMongoJournalRoundTrip(t *testing.T) {
	uri := integration.RequireMongo(t)
	ctx := context.Background()

	collection := fmt.Sprintf("records_it_%d", time.Now().UnixNano())
	j, err := mongodb.NewMongoJournal(ctx, uri, "adbfs_test", collection)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() {
		j.Close()
		client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
		if err != nil {
			return
		}
		defer client.Disconnect(context.Background())
		if err := client.Database("adbfs_test").Collection(collection).Drop(context.Background()); err != nil {
			t.Logf("drop %s: %v", collection, err)
		}
	})

	checkRoundTrip(t, j)
}
