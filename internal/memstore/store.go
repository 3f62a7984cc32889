// Package memstore is an in-memory implementation of the storage contracts.
// Transactions are serialized and applied all-or-nothing, and session inserts
// enforce the (user_id, start_time) uniqueness of the real collection.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"chronos/internal/models"
	"chronos/internal/storage"
)

// Store holds every pipeline collection in memory
type Store struct {
	mu            sync.Mutex
	schemaVersion string
	sessions      []models.ActivitySession
	statuses      map[int64]models.UserGenerationStatus
	generations   []models.GenerationRecord
	views         map[string]map[models.MaterializedViewKey]models.MaterializedViewRecord
	insertHook    func(sessions []models.ActivitySession) error
}

var (
	_ storage.SessionStore    = (*Store)(nil)
	_ storage.CheckpointStore = (*Store)(nil)
	_ storage.ViewStore       = (*Store)(nil)
	_ storage.ReportStore     = (*Store)(nil)
)

// New creates an empty store
func New(schemaVersion string) *Store {
	return &Store{
		schemaVersion: schemaVersion,
		statuses:      make(map[int64]models.UserGenerationStatus),
		views:         make(map[string]map[models.MaterializedViewKey]models.MaterializedViewRecord),
	}
}

// SetInsertHook installs a function called before every session insert; a returned
// error fails the insert and with it the transaction.
func (s *Store) SetInsertHook(hook func(sessions []models.ActivitySession) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertHook = hook
}

// SeedSessions stores sessions outside of any transaction
func (s *Store) SeedSessions(sessions ...models.ActivitySession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sessions...)
}

// SeedStatus stores a user status outside of any transaction
func (s *Store) SeedStatus(status models.UserGenerationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.UserID] = status
}

type tx struct {
	sessions []models.ActivitySession
	hook     func(sessions []models.ActivitySession) error
}

// InTransaction implements storage.SessionStore
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.SessionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		sessions: append([]models.ActivitySession(nil), s.sessions...),
		hook:     s.insertHook,
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.sessions = t.sessions
	return nil
}

func (t *tx) PopLastActiveSession(_ context.Context, userID int64) (*models.Interval, error) {
	idx := -1
	for i, sess := range t.sessions {
		if sess.UserID != userID || !sess.IsActive {
			continue
		}
		if idx == -1 || sess.EndTime.After(t.sessions[idx].EndTime) {
			idx = i
		}
	}
	if idx == -1 {
		return nil, nil
	}

	popped := t.sessions[idx].Interval()
	t.sessions = append(t.sessions[:idx], t.sessions[idx+1:]...)
	return &popped, nil
}

func (t *tx) InsertSessions(_ context.Context, sessions []models.ActivitySession) error {
	if t.hook != nil {
		if err := t.hook(sessions); err != nil {
			return err
		}
	}

	type key struct {
		user  int64
		start int64
	}
	seen := make(map[key]bool, len(t.sessions))
	for _, sess := range t.sessions {
		seen[key{sess.UserID, sess.StartTime.UnixNano()}] = true
	}
	for _, sess := range sessions {
		k := key{sess.UserID, sess.StartTime.UnixNano()}
		if seen[k] {
			return fmt.Errorf("duplicate key: user_id %d start_time %s", sess.UserID, sess.StartTime.Format(time.RFC3339Nano))
		}
		seen[k] = true
	}

	t.sessions = append(t.sessions, sessions...)
	return nil
}

// RecordUserSucceeded implements storage.SessionStore
func (s *Store) RecordUserSucceeded(_ context.Context, userID int64, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := endTime.UTC()
	s.statuses[userID] = models.UserGenerationStatus{
		UserID:                          userID,
		LastStatus:                      models.StatusSucceed,
		LastSuccessfulGenerationEndTime: &end,
		SchemaVersion:                   s.schemaVersion,
	}
	return nil
}

// RecordUserFailed implements storage.SessionStore
func (s *Store) RecordUserFailed(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.statuses[userID]
	status.UserID = userID
	status.LastStatus = models.StatusFailed
	status.SchemaVersion = s.schemaVersion
	s.statuses[userID] = status
	return nil
}

// LastCompletedGeneration implements storage.CheckpointStore
func (s *Store) LastCompletedGeneration(_ context.Context) (*models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *models.GenerationRecord
	for i := range s.generations {
		g := s.generations[i]
		if !g.Completed() {
			continue
		}
		if last == nil || g.TimeRange.End.After(last.TimeRange.End) {
			last = &g
		}
	}
	return last, nil
}

// OpenGeneration implements storage.CheckpointStore
func (s *Store) OpenGeneration(_ context.Context, record models.GenerationRecord) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.ID = primitive.NewObjectID()
	record.EndTime = nil
	s.generations = append(s.generations, record)
	return record.ID, nil
}

// CloseGeneration implements storage.CheckpointStore
func (s *Store) CloseGeneration(_ context.Context, id primitive.ObjectID, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.generations {
		if s.generations[i].ID == id {
			end := endTime.UTC()
			s.generations[i].EndTime = &end
			return nil
		}
	}
	return fmt.Errorf("generation %s not found", id.Hex())
}

// FailedUsers implements storage.CheckpointStore
func (s *Store) FailedUsers(_ context.Context) ([]models.UserGenerationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []models.UserGenerationStatus
	for _, st := range s.statuses {
		if st.LastStatus == models.StatusFailed {
			failed = append(failed, st)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].UserID < failed[j].UserID })
	return failed, nil
}

// MergeView implements storage.ViewStore
func (s *Store) MergeView(ctx context.Context, view models.MaterializedView, referenceTime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.views[view.Collection]
	if !ok {
		records = make(map[models.MaterializedViewKey]models.MaterializedViewRecord)
		s.views[view.Collection] = records
	}
	for _, sess := range s.sessions {
		if !view.Metric.Includes(sess) || sess.EndTime.Before(referenceTime) {
			continue
		}
		key := models.MaterializedViewKey{UserID: sess.UserID, StartTime: sess.StartTime}
		records[key] = models.MaterializedViewRecord{
			Key:        key,
			EndTime:    sess.EndTime,
			DurationMs: sess.Duration().Milliseconds(),
		}
	}
	return nil
}

// DailyTime implements storage.ReportStore
func (s *Store) DailyTime(_ context.Context, view models.MaterializedView, userID int64, tr models.TimeRange) ([]models.DailyTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perDay := make(map[string]int64)
	for key, rec := range s.views[view.Collection] {
		if key.UserID != userID || !rec.EndTime.After(tr.Start) || !key.StartTime.Before(tr.End) {
			continue
		}
		perDay[key.StartTime.UTC().Format(time.DateOnly)] += rec.DurationMs
	}

	out := make([]models.DailyTime, 0, len(perDay))
	for date, ms := range perDay {
		out = append(out, models.DailyTime{Date: date, DurationMs: ms})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Sessions returns the user's stored timeline ordered by start_time
func (s *Store) Sessions(userID int64) []models.ActivitySession {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ActivitySession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Status returns the user's generation status
func (s *Store) Status(userID int64) (models.UserGenerationStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[userID]
	return st, ok
}

// Generations returns every generation record in insertion order
func (s *Store) Generations() []models.GenerationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.GenerationRecord(nil), s.generations...)
}

// ViewRecords returns the view's records ordered by user and start time
func (s *Store) ViewRecords(collection string) []models.MaterializedViewRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.MaterializedViewRecord, 0, len(s.views[collection]))
	for _, rec := range s.views[collection] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.UserID != out[j].Key.UserID {
			return out[i].Key.UserID < out[j].Key.UserID
		}
		return out[i].Key.StartTime.Before(out[j].Key.StartTime)
	})
	return out
}
