package models

import "time"

// Metric identifies one derived duration aggregate
type Metric string

const (
	MetricLearning Metric = "learning_time"
	MetricBreak    Metric = "break_time"
	MetricFocus    Metric = "focus_time"
)

// MaterializedView couples a metric with the collection holding it
type MaterializedView struct {
	Metric     Metric
	Collection string
}

// MaterializedViews lists every maintained aggregate
var MaterializedViews = []MaterializedView{
	{Metric: MetricLearning, Collection: "learning_time_sessions_duration_mv"},
	{Metric: MetricBreak, Collection: "break_sessions_duration_mv"},
	{Metric: MetricFocus, Collection: "focus_sessions_duration_mv"},
}

// ViewFor returns the view maintaining the metric
func ViewFor(metric Metric) (MaterializedView, bool) {
	for _, v := range MaterializedViews {
		if v.Metric == metric {
			return v, true
		}
	}
	return MaterializedView{}, false
}

// Includes reports whether a session counts toward the metric.
// Learning time is active-or-break time.
func (m Metric) Includes(s ActivitySession) bool {
	switch m {
	case MetricLearning:
		return s.IsActive || s.IsBreak
	case MetricBreak:
		return s.IsBreak
	case MetricFocus:
		return s.IsFocus
	}
	return false
}

// MaterializedViewKey is the identity of an aggregate record
type MaterializedViewKey struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	StartTime time.Time `bson:"start_time" json:"start_time"`
}

// MaterializedViewRecord is one aggregated session duration
type MaterializedViewRecord struct {
	Key        MaterializedViewKey `bson:"_id" json:"key"`
	EndTime    time.Time           `bson:"end_time" json:"end_time"`
	DurationMs int64               `bson:"duration_ms" json:"duration_ms"`
}

// DailyTime is the per-day sum served to readers
type DailyTime struct {
	Date       string `bson:"date" json:"date"`
	DurationMs int64  `bson:"duration_ms" json:"duration_ms"`
}
