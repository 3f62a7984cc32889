package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chronos/internal/database"
	"chronos/internal/models"
	"chronos/internal/storage"
)

// ActivitySessionService stores session timelines and per-user generation statuses
type ActivitySessionService struct {
	mongodb          *database.MongoDB
	sessions         *mongo.Collection
	statuses         *mongo.Collection
	maxCommitRetries int
	schemaVersion    string
}

var _ storage.SessionStore = (*ActivitySessionService)(nil)

// NewActivitySessionService creates a new activity session service
func NewActivitySessionService(mongodb *database.MongoDB, maxCommitRetries int, schemaVersion string) *ActivitySessionService {
	return &ActivitySessionService{
		mongodb:          mongodb,
		sessions:         mongodb.Collection(database.CollectionActivitySessions),
		statuses:         mongodb.Collection(database.CollectionUsersGenerationStatuses),
		maxCommitRetries: maxCommitRetries,
		schemaVersion:    schemaVersion,
	}
}

// InTransaction runs fn inside a MongoDB transaction
func (s *ActivitySessionService) InTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.SessionTx) error) error {
	return s.mongodb.RunTransaction(ctx, s.maxCommitRetries, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx, &sessionTx{collection: s.sessions})
	})
}

type sessionTx struct {
	collection *mongo.Collection
}

// PopLastActiveSession deletes the user's latest active session and returns its bounds
func (t *sessionTx) PopLastActiveSession(ctx context.Context, userID int64) (*models.Interval, error) {
	opts := options.FindOneAndDelete().
		SetSort(bson.D{{Key: "end_time", Value: -1}}).
		SetProjection(bson.M{"_id": 0, "start_time": 1, "end_time": 1})

	var interval models.Interval
	err := t.collection.FindOneAndDelete(ctx, bson.M{"user_id": userID, "is_active": true}, opts).Decode(&interval)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop last active session: %w", err)
	}

	interval.StartTime = interval.StartTime.UTC()
	interval.EndTime = interval.EndTime.UTC()
	return &interval, nil
}

// InsertSessions bulk-inserts the sessions in timeline order
func (t *sessionTx) InsertSessions(ctx context.Context, sessions []models.ActivitySession) error {
	if len(sessions) == 0 {
		return nil
	}

	docs := make([]interface{}, len(sessions))
	for i, s := range sessions {
		docs[i] = s
	}

	if _, err := t.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert sessions: %w", err)
	}
	return nil
}

// RecordUserSucceeded upserts a succeed status carrying the processed range end
func (s *ActivitySessionService) RecordUserSucceeded(ctx context.Context, userID int64, endTime time.Time) error {
	return s.upsertStatus(ctx, userID, bson.M{
		"last_status":                         models.StatusSucceed,
		"last_successful_generation_end_time": endTime.UTC(),
		"schema_version":                      s.schemaVersion,
	})
}

// RecordUserFailed upserts a failed status; the last success time is left as is
func (s *ActivitySessionService) RecordUserFailed(ctx context.Context, userID int64) error {
	return s.upsertStatus(ctx, userID, bson.M{
		"last_status":    models.StatusFailed,
		"schema_version": s.schemaVersion,
	})
}

func (s *ActivitySessionService) upsertStatus(ctx context.Context, userID int64, set bson.M) error {
	_, err := s.statuses.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert generation status for user %d: %w", userID, err)
	}
	return nil
}
