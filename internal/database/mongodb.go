package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"chronos/internal/models"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionActivitySessions        = "activity_sessions"
	CollectionUsersGenerationStatuses = "users_generation_statuses"
	CollectionGenerations             = "generations"
)

// NewMongoDB creates a new MongoDB connection with connection pooling
func NewMongoDB(uri string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)

	return db, nil
}

// extractDBName extracts the database name from MongoDB URI
// mongodb://localhost:27017/chronos?authSource=admin -> chronos
func extractDBName(uri string) string {
	lastSlash := -1
	questionMark := -1

	for i, c := range uri {
		if c == '?' && questionMark == -1 {
			questionMark = i
		}
		if c == '/' && questionMark == -1 {
			lastSlash = i
		}
	}

	// "mongodb://host" has its last slash inside the scheme separator
	if lastSlash != -1 && lastSlash > 0 && uri[lastSlash-1] != '/' {
		start := lastSlash + 1
		end := len(uri)
		if questionMark != -1 && questionMark > lastSlash {
			end = questionMark
		}
		if start < end {
			return uri[start:end]
		}
	}

	return "chronos"
}

// Initialize creates indexes for all collections
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")

	// unique timeline boundary per user; second index serves the carry-over lookup
	if err := m.createIndexes(ctx, CollectionActivitySessions, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "start_time", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_active", Value: 1}, {Key: "end_time", Value: -1}}},
		{Keys: bson.D{{Key: "end_time", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create activity_sessions indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionUsersGenerationStatuses, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "last_status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create users_generation_statuses indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionGenerations, []mongo.IndexModel{
		{Keys: bson.D{{Key: "time_range.end", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create generations indexes: %w", err)
	}

	// materialized views are keyed by _id {user_id, start_time}; readers filter on end_time
	for _, view := range models.MaterializedViews {
		if err := m.createIndexes(ctx, view.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "_id.user_id", Value: 1}, {Key: "end_time", Value: 1}}},
		}); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", view.Collection, err)
		}
	}

	log.Println("✅ MongoDB indexes initialized successfully")
	return nil
}

// createIndexes creates indexes for a collection
func (m *MongoDB) createIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := m.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection returns a collection handle
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Client returns the underlying MongoDB client
func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

// Database returns the underlying MongoDB database
func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 Closing MongoDB connection...")
	return m.client.Disconnect(ctx)
}

// Ping checks if the database connection is alive
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// RunTransaction executes fn within a majority-acknowledged transaction.
// Only the commit is retried, and only while its outcome is unknown; any other
// error aborts the transaction and is returned.
func (m *MongoDB) RunTransaction(ctx context.Context, maxCommitRetries int, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().SetWriteConcern(writeconcern.Majority())

	return mongo.WithSession(ctx, session, func(sessCtx mongo.SessionContext) error {
		if err := sessCtx.StartTransaction(txnOpts); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if err := fn(sessCtx); err != nil {
			abortTransaction(sessCtx)
			return err
		}

		if err := CommitWithRetry(sessCtx, sessCtx.CommitTransaction, maxCommitRetries); err != nil {
			abortTransaction(sessCtx)
			return err
		}
		return nil
	})
}

func abortTransaction(sessCtx mongo.SessionContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// fails harmlessly when the commit already went through or the server aborted
	_ = sessCtx.AbortTransaction(ctx)
}
