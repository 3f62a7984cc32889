package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TimeRange is a half-open [Start, End) range
type TimeRange struct {
	Start time.Time `bson:"start" json:"start"`
	End   time.Time `bson:"end" json:"end"`
}

// GenerationRecord is the checkpoint written around every processed chunk.
// EndTime stays nil until the chunk completes.
type GenerationRecord struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RunID         string             `bson:"run_id" json:"run_id"`
	TimeRange     TimeRange          `bson:"time_range" json:"time_range"`
	StartTime     time.Time          `bson:"start_time" json:"start_time"`
	EndTime       *time.Time         `bson:"end_time,omitempty" json:"end_time,omitempty"`
	SchemaVersion string             `bson:"schema_version" json:"schema_version"`
}

// NewGenerationRecord opens a checkpoint for the given range
func NewGenerationRecord(runID string, tr TimeRange, startedAt time.Time, schemaVersion string) (GenerationRecord, error) {
	if !tr.End.After(tr.Start) {
		return GenerationRecord{}, errors.New("generation record: time_range end must be after start")
	}
	if schemaVersion == "" {
		return GenerationRecord{}, errors.New("generation record: schema_version is required")
	}
	return GenerationRecord{
		RunID:         runID,
		TimeRange:     TimeRange{Start: tr.Start.UTC(), End: tr.End.UTC()},
		StartTime:     startedAt.UTC(),
		SchemaVersion: schemaVersion,
	}, nil
}

// Completed reports whether the chunk finished
func (g GenerationRecord) Completed() bool {
	return g.EndTime != nil
}

// GenerationStatus is the outcome of one user's processing
type GenerationStatus string

const (
	StatusSucceed GenerationStatus = "succeed"
	StatusFailed  GenerationStatus = "failed"
	// StatusSkipped is never persisted; it marks users with no events.
	StatusSkipped GenerationStatus = "skipped"
)

// UserGenerationStatus is the per-user audit record driving catch-up runs
type UserGenerationStatus struct {
	UserID                          int64            `bson:"user_id" json:"user_id"`
	LastStatus                      GenerationStatus `bson:"last_status" json:"last_status"`
	LastSuccessfulGenerationEndTime *time.Time       `bson:"last_successful_generation_end_time,omitempty" json:"last_successful_generation_end_time,omitempty"`
	SchemaVersion                   string           `bson:"schema_version" json:"schema_version"`
}
