package sessions

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimeline marks a segmentation result that breaks a timeline invariant.
// It is a defect in the input data or the algorithm and is never repaired.
var ErrInvalidTimeline = errors.New("invalid activity session timeline")

// Validation rules
const (
	RuleEmpty          = "empty"
	RuleFirstInactive  = "first_not_active"
	RuleLastInactive   = "last_not_active"
	RuleNonPositive    = "non_positive_duration"
	RuleUnsorted       = "unsorted"
	RuleDuplicateStart = "duplicate_start"
	RuleNotContiguous  = "not_contiguous"
	RuleShortInactive  = "short_inactive"
	RuleInactiveFocus  = "inactive_focus"
	RuleActiveBreak    = "active_break"
	RuleLongBreak      = "long_break"
	RuleBreakNeighbors = "break_without_focus_neighbors"
)

// ValidationError reports the violated rule and the offending session index
type ValidationError struct {
	Rule   string
	Index  int
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s at session %d", ErrInvalidTimeline, e.Rule, e.Index)
	}
	return fmt.Sprintf("%s: %s at session %d: %s", ErrInvalidTimeline, e.Rule, e.Index, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidTimeline
}

func violation(rule string, index int, format string, args ...any) error {
	return &ValidationError{Rule: rule, Index: index, Detail: fmt.Sprintf(format, args...)}
}

// validate enforces the timeline invariants over one emitted batch
func validate(timeline []span, t Thresholds) error {
	if len(timeline) == 0 {
		return &ValidationError{Rule: RuleEmpty, Index: -1}
	}
	if !timeline[0].active {
		return &ValidationError{Rule: RuleFirstInactive, Index: 0}
	}
	last := len(timeline) - 1
	if !timeline[last].active {
		return &ValidationError{Rule: RuleLastInactive, Index: last}
	}

	for i, s := range timeline {
		if !s.end.After(s.start) {
			return violation(RuleNonPositive, i, "[%s, %s)", stamp(s.start), stamp(s.end))
		}
		if s.focus && !s.active {
			return &ValidationError{Rule: RuleInactiveFocus, Index: i}
		}
		if s.brk {
			if s.active {
				return &ValidationError{Rule: RuleActiveBreak, Index: i}
			}
			if s.duration() > t.Break {
				return violation(RuleLongBreak, i, "lasts %s", s.duration())
			}
			if i == 0 || i == last || !timeline[i-1].focus || !timeline[i+1].focus {
				return &ValidationError{Rule: RuleBreakNeighbors, Index: i}
			}
		} else if !s.active && s.duration() <= t.Gap {
			return violation(RuleShortInactive, i, "lasts %s", s.duration())
		}

		if i == 0 {
			continue
		}
		prev := timeline[i-1]
		if s.start.Equal(prev.start) {
			return violation(RuleDuplicateStart, i, "%s", stamp(s.start))
		}
		if s.start.Before(prev.start) {
			return violation(RuleUnsorted, i, "%s before %s", stamp(s.start), stamp(prev.start))
		}
		if !prev.end.Equal(s.start) {
			return violation(RuleNotContiguous, i, "previous ends %s, session starts %s", stamp(prev.end), stamp(s.start))
		}
	}
	return nil
}

func stamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
