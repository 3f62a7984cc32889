package models

import (
	"errors"
	"fmt"
	"time"
)

// ActivitySession is one interval of a user's timeline.
// EndTime is exclusive and always after StartTime.
type ActivitySession struct {
	UserID        int64     `bson:"user_id" json:"user_id"`
	StartTime     time.Time `bson:"start_time" json:"start_time"`
	EndTime       time.Time `bson:"end_time" json:"end_time"`
	IsActive      bool      `bson:"is_active" json:"is_active"`
	IsFocus       bool      `bson:"is_focus" json:"is_focus"`
	IsBreak       bool      `bson:"is_break" json:"is_break"`
	SchemaVersion string    `bson:"schema_version" json:"schema_version"`
}

// Interval is a bare [StartTime, EndTime) range.
// The carry-over session is read back from storage in this shape.
type Interval struct {
	StartTime time.Time `bson:"start_time" json:"start_time"`
	EndTime   time.Time `bson:"end_time" json:"end_time"`
}

// Duration returns the interval length
func (i Interval) Duration() time.Duration {
	return i.EndTime.Sub(i.StartTime)
}

// Duration returns the session length
func (s ActivitySession) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Interval returns the session bounds
func (s ActivitySession) Interval() Interval {
	return Interval{StartTime: s.StartTime, EndTime: s.EndTime}
}

// NewActivitySession builds a session document and checks the fields every stored
// session must carry.
func NewActivitySession(userID int64, span Interval, active, focus, brk bool, schemaVersion string) (ActivitySession, error) {
	s := ActivitySession{
		UserID:        userID,
		StartTime:     span.StartTime.UTC(),
		EndTime:       span.EndTime.UTC(),
		IsActive:      active,
		IsFocus:       focus,
		IsBreak:       brk,
		SchemaVersion: schemaVersion,
	}
	if err := s.Validate(); err != nil {
		return ActivitySession{}, err
	}
	return s, nil
}

// Validate checks the per-document contract
func (s ActivitySession) Validate() error {
	if s.SchemaVersion == "" {
		return errors.New("activity session: schema_version is required")
	}
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return errors.New("activity session: start_time and end_time are required")
	}
	if !s.EndTime.After(s.StartTime) {
		return fmt.Errorf("activity session: end_time %s must be after start_time %s",
			s.EndTime.Format(time.RFC3339Nano), s.StartTime.Format(time.RFC3339Nano))
	}
	if s.IsFocus && !s.IsActive {
		return errors.New("activity session: focus session must be active")
	}
	if s.IsBreak && s.IsActive {
		return errors.New("activity session: break session must be inactive")
	}
	return nil
}
