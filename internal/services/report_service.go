package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"chronos/internal/models"
	"chronos/internal/storage"
)

// ErrUnknownMetric is returned for metrics without a materialized view
var ErrUnknownMetric = errors.New("unknown metric")

// ReportService answers read queries over the materialized views with a short-lived cache
type ReportService struct {
	store storage.ReportStore
	cache *cache.Cache
}

// NewReportService creates a report service caching results for ttl
func NewReportService(store storage.ReportStore, ttl time.Duration) *ReportService {
	return &ReportService{
		store: store,
		cache: cache.New(ttl, 2*ttl),
	}
}

// DailyTime returns the user's per-day duration of the metric within tr
func (s *ReportService) DailyTime(ctx context.Context, metric models.Metric, userID int64, tr models.TimeRange) ([]models.DailyTime, error) {
	view, ok := models.ViewFor(metric)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}

	key := fmt.Sprintf("%s:%d:%d:%d", metric, userID, tr.Start.UnixMilli(), tr.End.UnixMilli())
	if cached, found := s.cache.Get(key); found {
		return cached.([]models.DailyTime), nil
	}

	daily, err := s.store.DailyTime(ctx, view, userID, tr)
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, daily, cache.DefaultExpiration)
	return daily, nil
}

// CumulativeLearningTime returns the user's total learning time within tr
func (s *ReportService) CumulativeLearningTime(ctx context.Context, userID int64, tr models.TimeRange) (time.Duration, error) {
	daily, err := s.DailyTime(ctx, models.MetricLearning, userID, tr)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, d := range daily {
		total += d.DurationMs
	}
	return time.Duration(total) * time.Millisecond, nil
}

// Flush drops every cached result
func (s *ReportService) Flush() {
	s.cache.Flush()
}
