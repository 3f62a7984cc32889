package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/bson"

	"chronos/internal/models"
)

func TestMergePipeline(t *testing.T) {
	ref := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		metric models.Metric
		check  func(t *testing.T, match bson.M)
	}{
		{models.MetricLearning, func(t *testing.T, match bson.M) {
			if _, ok := match["$or"]; !ok {
				t.Error("Expected learning filter to accept active or break sessions")
			}
		}},
		{models.MetricBreak, func(t *testing.T, match bson.M) {
			if match["is_break"] != true {
				t.Errorf("Expected is_break filter, got %v", match)
			}
		}},
		{models.MetricFocus, func(t *testing.T, match bson.M) {
			if match["is_focus"] != true {
				t.Errorf("Expected is_focus filter, got %v", match)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			view, _ := models.ViewFor(tt.metric)
			pipeline, err := mergePipeline(view, ref)
			if err != nil {
				t.Fatalf("Failed to build pipeline: %v", err)
			}
			if len(pipeline) != 3 {
				t.Fatalf("Expected 3 stages, got %d", len(pipeline))
			}

			match := pipeline[0][0].Value.(bson.M)
			tt.check(t, match)
			if gte := match["end_time"].(bson.M)["$gte"].(time.Time); !gte.Equal(ref) {
				t.Errorf("Expected end_time >= %v, got %v", ref, gte)
			}

			merge := pipeline[2][0]
			if merge.Key != "$merge" {
				t.Fatalf("Expected last stage $merge, got %s", merge.Key)
			}
			spec := merge.Value.(bson.M)
			if spec["into"] != view.Collection || spec["whenMatched"] != "replace" {
				t.Errorf("Expected replace-merge into %s, got %v", view.Collection, spec)
			}
		})
	}

	if _, err := mergePipeline(models.MaterializedView{Metric: "idle_time", Collection: "x"}, ref); err == nil {
		t.Error("Expected error for unknown metric")
	}
}

func TestMergePipelineKeyOrder(t *testing.T) {
	ref := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		pipeline, err := mergePipeline(models.MaterializedViews[0], ref)
		if err != nil {
			t.Fatalf("Failed to build pipeline: %v", err)
		}
		raw, err := bson.Marshal(bson.D{pipeline[1][0]})
		if err != nil {
			t.Fatalf("Failed to marshal $group stage: %v", err)
		}
		elems, err := bson.Raw(raw).Lookup("$group", "_id").Document().Elements()
		if err != nil {
			t.Fatalf("Failed to read $group _id: %v", err)
		}
		if len(elems) != 2 || elems[0].Key() != "user_id" || elems[1].Key() != "start_time" {
			t.Fatalf("Expected _id key order user_id,start_time on build %d, got %v", i, elems)
		}
	}
}

func TestDailyTimePipeline(t *testing.T) {
	tr := models.TimeRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	}
	pipeline := dailyTimePipeline(42, tr)

	match := pipeline[0][0].Value.(bson.M)
	if match["_id.user_id"] != int64(42) {
		t.Errorf("Expected user filter 42, got %v", match["_id.user_id"])
	}
	if got := match["end_time"].(bson.M)["$gt"].(time.Time); !got.Equal(tr.Start) {
		t.Errorf("Expected end_time > %v, got %v", tr.Start, got)
	}
	if got := match["_id.start_time"].(bson.M)["$lt"].(time.Time); !got.Equal(tr.End) {
		t.Errorf("Expected start_time < %v, got %v", tr.End, got)
	}
	if pipeline[len(pipeline)-1][0].Key != "$sort" {
		t.Error("Expected results sorted by date")
	}
}

type fakeReportStore struct {
	calls int
	daily []models.DailyTime
	err   error
}

func (f *fakeReportStore) DailyTime(ctx context.Context, view models.MaterializedView, userID int64, tr models.TimeRange) ([]models.DailyTime, error) {
	f.calls++
	return f.daily, f.err
}

func TestReportServiceCachesResults(t *testing.T) {
	store := &fakeReportStore{daily: []models.DailyTime{
		{Date: "2024-03-01", DurationMs: 60000},
		{Date: "2024-03-02", DurationMs: 30000},
	}}
	svc := NewReportService(store, time.Minute)
	tr := models.TimeRange{Start: time.Unix(0, 0), End: time.Unix(86400, 0)}

	for i := 0; i < 3; i++ {
		daily, err := svc.DailyTime(context.Background(), models.MetricFocus, 1, tr)
		if err != nil {
			t.Fatalf("Failed to read daily time: %v", err)
		}
		if len(daily) != 2 {
			t.Fatalf("Expected 2 days, got %d", len(daily))
		}
	}
	if store.calls != 1 {
		t.Errorf("Expected 1 store call, got %d", store.calls)
	}

	svc.Flush()
	total, err := svc.CumulativeLearningTime(context.Background(), 1, tr)
	if err != nil {
		t.Fatalf("Failed to read cumulative time: %v", err)
	}
	if total != 90*time.Second {
		t.Errorf("Expected 90s, got %v", total)
	}
}

func TestReportServiceErrors(t *testing.T) {
	store := &fakeReportStore{err: errors.New("mongo down")}
	svc := NewReportService(store, time.Minute)
	tr := models.TimeRange{Start: time.Unix(0, 0), End: time.Unix(86400, 0)}

	if _, err := svc.DailyTime(context.Background(), "idle_time", 1, tr); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("Expected ErrUnknownMetric, got %v", err)
	}
	if _, err := svc.DailyTime(context.Background(), models.MetricBreak, 1, tr); err == nil {
		t.Error("Expected store error")
	}
	if _, err := svc.DailyTime(context.Background(), models.MetricBreak, 1, tr); err == nil {
		t.Error("Expected errors not to be cached")
	}
}

func TestMetricsRecorder(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.UserProcessed(models.StatusSucceed)
	m.UserProcessed(models.StatusFailed)
	m.UserProcessed(models.StatusFailed)
	m.RunFinished("succeed", 2*time.Second)
	m.ChunkProcessed(time.Second)

	if got := testutil.ToFloat64(m.Users.WithLabelValues("failed")); got != 2 {
		t.Errorf("Expected 2 failed users, got %v", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("succeed")); got != 1 {
		t.Errorf("Expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(m.LastSuccess); got == 0 {
		t.Error("Expected last success timestamp to be set")
	}
}

func TestRunLock(t *testing.T) {
	redisURL := os.Getenv("REDIS_TEST_URL")
	if redisURL == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	rs, err := NewRedisService(redisURL)
	if err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rs.Close()

	ctx := context.Background()
	key := "chronos:test:run-lock:" + time.Now().Format(time.RFC3339Nano)
	first := NewRunLock(rs, key, time.Minute)
	second := NewRunLock(rs, key, time.Minute)

	if ok, err := first.TryLock(ctx); err != nil || !ok {
		t.Fatalf("Expected first lock to succeed, got %v, %v", ok, err)
	}
	if ok, err := second.TryLock(ctx); err != nil || ok {
		t.Fatalf("Expected second lock to fail, got %v, %v", ok, err)
	}
	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("Failed to unlock: %v", err)
	}
	if ok, err := second.TryLock(ctx); err != nil || !ok {
		t.Fatalf("Expected lock to be free after unlock, got %v, %v", ok, err)
	}
	_ = second.Unlock(ctx)
}
