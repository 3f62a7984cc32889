// Package sessions turns a user's raw activity event timestamps into a gapless,
// classified timeline of activity sessions.
//
// Segmentation is a fixed sequence of pure stages over an ordered slice of spans:
// atomize, merge into active sessions, fill the gaps with inactive sessions,
// classify focus, classify breaks, validate, serialize. Neighbor lookups used by
// the break classifier are plain index arithmetic on that slice.
package sessions

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"chronos/internal/models"
)

// ErrNoEvents is returned when there is nothing to segment
var ErrNoEvents = errors.New("no activity events to segment")

// Thresholds drive the windowing algorithm
type Thresholds struct {
	// Gap is the longest pause that still keeps two events in the same active session.
	Gap time.Duration `yaml:"gap"`
	// Focus is the minimal duration of a focus session.
	Focus time.Duration `yaml:"focus"`
	// Break is the maximal duration of a break session.
	Break time.Duration `yaml:"break"`
	// EventLookback is how far back from its timestamp a single event counts as activity.
	EventLookback time.Duration `yaml:"event_lookback"`
}

// DefaultThresholds returns the production thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Gap:           5 * time.Minute,
		Focus:         15 * time.Minute,
		Break:         30 * time.Minute,
		EventLookback: time.Minute,
	}
}

// Validate rejects thresholds the algorithm cannot work with
func (t Thresholds) Validate() error {
	if t.Gap <= 0 || t.Focus <= 0 || t.Break <= 0 || t.EventLookback <= 0 {
		return errors.New("session thresholds must be positive")
	}
	return nil
}

// span is one entry of the in-memory timeline
type span struct {
	start  time.Time
	end    time.Time
	active bool
	focus  bool
	brk    bool
}

func (s span) duration() time.Duration {
	return s.end.Sub(s.start)
}

// Segmenter builds activity sessions for one user at a time
type Segmenter struct {
	thresholds    Thresholds
	schemaVersion string
}

// NewSegmenter creates a segmenter stamping every session with schemaVersion
func NewSegmenter(thresholds Thresholds, schemaVersion string) *Segmenter {
	return &Segmenter{thresholds: thresholds, schemaVersion: schemaVersion}
}

// Thresholds returns the configured thresholds
func (s *Segmenter) Thresholds() Thresholds {
	return s.thresholds
}

// Segment returns the ordered sessions for the user's events.
//
// carryOver, when present, is the user's still-open active session from a previous
// run; it is placed in front of the new events and extended when they are close
// enough. Events at or before its end are already part of the stored timeline and
// are ignored.
func (s *Segmenter) Segment(userID int64, events []time.Time, carryOver *models.Interval) ([]models.ActivitySession, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	timeline := atomize(dropCovered(events, carryOver), s.thresholds.EventLookback)
	timeline = withCarryOver(timeline, carryOver)
	timeline = mergeActive(timeline, s.thresholds.Gap)
	timeline = fillInactive(timeline)
	classifyFocus(timeline, s.thresholds.Focus)
	classifyBreaks(timeline, s.thresholds.Break)

	if err := validate(timeline, s.thresholds); err != nil {
		return nil, err
	}

	out, err := serialize(userID, timeline, s.schemaVersion)
	if err != nil {
		return nil, err
	}

	slog.Debug("activity sessions segmented",
		"user_id", userID,
		"events", len(events),
		"carry_over", carryOver != nil,
		"sessions", len(out))

	return out, nil
}

// dropCovered removes events the carry-over session already accounts for
func dropCovered(events []time.Time, carryOver *models.Interval) []time.Time {
	if carryOver == nil {
		return events
	}
	kept := make([]time.Time, 0, len(events))
	for _, t := range events {
		if t.After(carryOver.EndTime) {
			kept = append(kept, t)
		}
	}
	return kept
}

// atomize turns every event t into a tentative active span [t-lookback, t]
func atomize(events []time.Time, lookback time.Duration) []span {
	spans := make([]span, 0, len(events))
	for _, t := range events {
		t = t.UTC()
		spans = append(spans, span{start: t.Add(-lookback), end: t, active: true})
	}
	return spans
}

// withCarryOver prepends the carry-over session as an active span
func withCarryOver(spans []span, carryOver *models.Interval) []span {
	if carryOver == nil {
		return spans
	}
	carried := span{start: carryOver.StartTime.UTC(), end: carryOver.EndTime.UTC(), active: true}
	return append([]span{carried}, spans...)
}

// mergeActive sorts the tentative spans and collapses every run whose gaps do not
// exceed the threshold into one active session spanning [min(start), max(end)].
func mergeActive(spans []span, gap time.Duration) []span {
	if len(spans) == 0 {
		return nil
	}

	sorted := make([]span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].start.Before(sorted[j].start)
	})

	merged := []span{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if next.start.Sub(cur.end) > gap {
			merged = append(merged, next)
			continue
		}
		if next.end.After(cur.end) {
			cur.end = next.end
		}
	}
	return merged
}

// fillInactive inserts one inactive span between every two adjacent active spans
func fillInactive(active []span) []span {
	if len(active) < 2 {
		return active
	}
	timeline := make([]span, 0, 2*len(active)-1)
	for i, a := range active {
		if i > 0 {
			timeline = append(timeline, span{start: active[i-1].end, end: a.start})
		}
		timeline = append(timeline, a)
	}
	return timeline
}

// classifyFocus marks active spans lasting at least the focus threshold
func classifyFocus(timeline []span, focus time.Duration) {
	for i := range timeline {
		timeline[i].focus = timeline[i].active && timeline[i].duration() >= focus
	}
}

// classifyBreaks marks short inactive spans surrounded by focus sessions
func classifyBreaks(timeline []span, maxBreak time.Duration) {
	for i := range timeline {
		cur := &timeline[i]
		cur.brk = false
		if cur.active || i == 0 || i == len(timeline)-1 {
			continue
		}
		cur.brk = cur.duration() <= maxBreak && timeline[i-1].focus && timeline[i+1].focus
	}
}

// serialize attaches the user and schema version to every span, in timeline order
func serialize(userID int64, timeline []span, schemaVersion string) ([]models.ActivitySession, error) {
	out := make([]models.ActivitySession, 0, len(timeline))
	for _, sp := range timeline {
		session, err := models.NewActivitySession(userID,
			models.Interval{StartTime: sp.start, EndTime: sp.end},
			sp.active, sp.focus, sp.brk, schemaVersion)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}
