package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chronos/internal/database"
	"chronos/internal/models"
	"chronos/internal/storage"
)

// GenerationService keeps generation checkpoints and reads the failed-user audit trail
type GenerationService struct {
	generations *mongo.Collection
	statuses    *mongo.Collection
}

var _ storage.CheckpointStore = (*GenerationService)(nil)

// NewGenerationService creates a new generation service
func NewGenerationService(mongodb *database.MongoDB) *GenerationService {
	return &GenerationService{
		generations: mongodb.Collection(database.CollectionGenerations),
		statuses:    mongodb.Collection(database.CollectionUsersGenerationStatuses),
	}
}

// LastCompletedGeneration returns the completed record with the latest range end
func (s *GenerationService) LastCompletedGeneration(ctx context.Context) (*models.GenerationRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "time_range.end", Value: -1}})

	var record models.GenerationRecord
	err := s.generations.FindOne(ctx, bson.M{"end_time": bson.M{"$exists": true}}, opts).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last generation: %w", err)
	}
	return &record, nil
}

// OpenGeneration inserts a record without end_time
func (s *GenerationService) OpenGeneration(ctx context.Context, record models.GenerationRecord) (primitive.ObjectID, error) {
	record.ID = primitive.NewObjectID()
	record.EndTime = nil

	if _, err := s.generations.InsertOne(ctx, record); err != nil {
		return primitive.NilObjectID, fmt.Errorf("failed to open generation: %w", err)
	}
	return record.ID, nil
}

// CloseGeneration stamps the record's end_time
func (s *GenerationService) CloseGeneration(ctx context.Context, id primitive.ObjectID, endTime time.Time) error {
	res, err := s.generations.UpdateByID(ctx, id, bson.M{"$set": bson.M{"end_time": endTime.UTC()}})
	if err != nil {
		return fmt.Errorf("failed to close generation: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("generation %s not found", id.Hex())
	}
	return nil
}

// FailedUsers lists users whose last generation failed
func (s *GenerationService) FailedUsers(ctx context.Context) ([]models.UserGenerationStatus, error) {
	opts := options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}})

	cursor, err := s.statuses.Find(ctx, bson.M{"last_status": models.StatusFailed}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find failed users: %w", err)
	}
	defer cursor.Close(ctx)

	var statuses []models.UserGenerationStatus
	if err := cursor.All(ctx, &statuses); err != nil {
		return nil, fmt.Errorf("failed to decode failed users: %w", err)
	}
	return statuses, nil
}
