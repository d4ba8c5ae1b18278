package mongodb

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adbfs-fuse/adbfs-go/internal/journal/types"
)

// RecordDocument represents a failed write-back in MongoDB
type RecordDocument struct {
	ID          string    `bson:"_id"`
	RemotePath  string    `bson:"remote_path"`
	StagingPath string    `bson:"staging_path"`
	Error       string    `bson:"error"`
	Content     []byte    `bson:"content,omitempty"`
	Size        int64     `bson:"size"`
	FailedAt    time.Time `bson:"failed_at"`
}

func (d *RecordDocument) record() *types.Record {
	return &types.Record{
		ID:          d.ID,
		RemotePath:  d.RemotePath,
		StagingPath: d.StagingPath,
		Error:       d.Error,
		Content:     d.Content,
		Size:        d.Size,
		FailedAt:    d.FailedAt,
	}
}

// MongoJournal implements types.Journal using MongoDB
type MongoJournal struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoJournal connects, verifies the connection and creates indexes
func NewMongoJournal(ctx context.Context, uri, database, collection string) (*MongoJournal, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "remote_path", Value: 1},
			{Key: "failed_at", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &MongoJournal{
		client:     client,
		collection: coll,
	}, nil
}

// Record stores a failed write-back
func (m *MongoJournal) Record(ctx context.Context, rec *types.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	doc := RecordDocument{
		ID:          rec.ID,
		RemotePath:  rec.RemotePath,
		StagingPath: rec.StagingPath,
		Error:       rec.Error,
		Content:     rec.Content,
		Size:        rec.Size,
		FailedAt:    rec.FailedAt,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to record write-back: %w", err)
	}
	return nil
}

// List returns all records without content
func (m *MongoJournal) List(ctx context.Context) ([]*types.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: 1}}).
		SetProjection(bson.M{"content": 0})
	cursor, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*types.Record
	for cursor.Next(ctx) {
		var doc RecordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, doc.record())
	}
	return records, cursor.Err()
}

// Get returns one record with its content
func (m *MongoJournal) Get(ctx context.Context, id string) (*types.Record, error) {
	var doc RecordDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("record not found: %w", os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return doc.record(), nil
}

// Close disconnects from MongoDB
func (m *MongoJournal) Close() error {
	return m.client.Disconnect(context.Background())
}
