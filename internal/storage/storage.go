// Package storage declares the persistence contracts of the generation pipeline.
// internal/services implements them over MongoDB, internal/memstore in memory.
package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"chronos/internal/models"
)

// SessionTx is the mutating side of one user's transaction
type SessionTx interface {
	// PopLastActiveSession deletes and returns the user's most recent active
	// session, or nil when the user has none.
	PopLastActiveSession(ctx context.Context, userID int64) (*models.Interval, error)
	InsertSessions(ctx context.Context, sessions []models.ActivitySession) error
}

// SessionStore runs per-user transactions and keeps their outcome
type SessionStore interface {
	// InTransaction runs fn atomically; nothing fn wrote survives a returned error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx SessionTx) error) error
	// RecordUserSucceeded marks the user succeeded with events processed up to endTime.
	RecordUserSucceeded(ctx context.Context, userID int64, endTime time.Time) error
	// RecordUserFailed marks the user failed, keeping the last success time.
	RecordUserFailed(ctx context.Context, userID int64) error
}

// CheckpointStore keeps generation records and failed-user snapshots
type CheckpointStore interface {
	// LastCompletedGeneration returns the completed record with the latest
	// time_range.end, or nil before the first completed chunk.
	LastCompletedGeneration(ctx context.Context) (*models.GenerationRecord, error)
	OpenGeneration(ctx context.Context, record models.GenerationRecord) (primitive.ObjectID, error)
	CloseGeneration(ctx context.Context, id primitive.ObjectID, endTime time.Time) error
	FailedUsers(ctx context.Context) ([]models.UserGenerationStatus, error)
}

// ViewStore maintains the materialized views
type ViewStore interface {
	// MergeView upserts, keyed by (user_id, start_time), the duration of every
	// session counted by the view that ends at or after referenceTime.
	MergeView(ctx context.Context, view models.MaterializedView, referenceTime time.Time) error
}

// ReportStore reads the materialized views
type ReportStore interface {
	// DailyTime sums the view's durations per UTC day for sessions overlapping tr.
	DailyTime(ctx context.Context, view models.MaterializedView, userID int64, tr models.TimeRange) ([]models.DailyTime, error)
}
