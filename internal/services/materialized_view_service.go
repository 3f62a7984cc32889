package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"chronos/internal/database"
	"chronos/internal/models"
	"chronos/internal/storage"
)

// MaterializedViewService maintains and reads the per-metric duration views
type MaterializedViewService struct {
	mongodb  *database.MongoDB
	sessions *mongo.Collection
}

var (
	_ storage.ViewStore   = (*MaterializedViewService)(nil)
	_ storage.ReportStore = (*MaterializedViewService)(nil)
)

// NewMaterializedViewService creates a new materialized view service
func NewMaterializedViewService(mongodb *database.MongoDB) *MaterializedViewService {
	return &MaterializedViewService{
		mongodb:  mongodb,
		sessions: mongodb.Collection(database.CollectionActivitySessions),
	}
}

// MergeView aggregates recent sessions into the view with $merge
func (s *MaterializedViewService) MergeView(ctx context.Context, view models.MaterializedView, referenceTime time.Time) error {
	pipeline, err := mergePipeline(view, referenceTime)
	if err != nil {
		return err
	}

	cursor, err := s.sessions.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("failed to merge %s: %w", view.Collection, err)
	}
	return cursor.Close(ctx)
}

// DailyTime sums the view's durations per UTC day
func (s *MaterializedViewService) DailyTime(ctx context.Context, view models.MaterializedView, userID int64, tr models.TimeRange) ([]models.DailyTime, error) {
	cursor, err := s.mongodb.Collection(view.Collection).Aggregate(ctx, dailyTimePipeline(userID, tr))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", view.Collection, err)
	}
	defer cursor.Close(ctx)

	daily := []models.DailyTime{}
	if err := cursor.All(ctx, &daily); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", view.Collection, err)
	}
	return daily, nil
}

func metricFilter(metric models.Metric) (bson.M, error) {
	switch metric {
	case models.MetricLearning:
		return bson.M{"$or": bson.A{bson.M{"is_active": true}, bson.M{"is_break": true}}}, nil
	case models.MetricBreak:
		return bson.M{"is_break": true}, nil
	case models.MetricFocus:
		return bson.M{"is_focus": true}, nil
	}
	return nil, fmt.Errorf("unknown metric %q", metric)
}

func mergePipeline(view models.MaterializedView, referenceTime time.Time) (mongo.Pipeline, error) {
	match, err := metricFilter(view.Metric)
	if err != nil {
		return nil, err
	}
	match["end_time"] = bson.M{"$gte": referenceTime.UTC()}

	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		// _id field order is part of the key; $merge matches embedded documents in order
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "user_id", Value: "$user_id"}, {Key: "start_time", Value: "$start_time"}}},
			{Key: "end_time", Value: bson.M{"$max": "$end_time"}},
			{Key: "duration_ms", Value: bson.M{"$sum": bson.M{"$subtract": bson.A{"$end_time", "$start_time"}}}},
		}}},
		{{Key: "$merge", Value: bson.M{
			"into":           view.Collection,
			"on":             "_id",
			"whenMatched":    "replace",
			"whenNotMatched": "insert",
		}}},
	}, nil
}

func dailyTimePipeline(userID int64, tr models.TimeRange) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"_id.user_id":    userID,
			"end_time":       bson.M{"$gt": tr.Start.UTC()},
			"_id.start_time": bson.M{"$lt": tr.End.UTC()},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":         bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$_id.start_time"}},
			"duration_ms": bson.M{"$sum": "$duration_ms"},
		}}},
		{{Key: "$project", Value: bson.M{"_id": 0, "date": "$_id", "duration_ms": 1}}},
		{{Key: "$sort", Value: bson.D{{Key: "date", Value: 1}}}},
	}
}
