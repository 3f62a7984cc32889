// Package generation turns activity events into stored session timelines.
//
// A Coordinator owns one user's transactional write; an Orchestrator drives a
// whole run over checkpointed, chunked time ranges.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chronos/internal/models"
	"chronos/internal/sessions"
	"chronos/internal/storage"
)

// Result is the outcome of one user's processing
type Result struct {
	UserID   int64
	Status   models.GenerationStatus
	Sessions int
	Err      error
}

// Coordinator extends one user's stored timeline with a batch of events
type Coordinator struct {
	store     storage.SessionStore
	segmenter *sessions.Segmenter
}

// NewCoordinator creates a coordinator writing through store
func NewCoordinator(store storage.SessionStore, segmenter *sessions.Segmenter) *Coordinator {
	return &Coordinator{store: store, segmenter: segmenter}
}

// Process pops the user's open active session, segments it together with the
// events and inserts the result in one transaction. The user's status is
// upserted afterwards, outside the transaction, so it survives a rollback.
// Errors never escape; they are reported in the Result.
func (c *Coordinator) Process(ctx context.Context, logger *slog.Logger, userID int64, events []time.Time, asOf time.Time) Result {
	res := Result{UserID: userID, Status: models.StatusSkipped}
	if len(events) == 0 {
		return res
	}
	if logger == nil {
		logger = slog.Default()
	}

	res.Sessions, res.Err = c.write(ctx, userID, events)

	// The run context may be cancelled by now; the status must still land.
	statusCtx := context.WithoutCancel(ctx)
	var statusErr error
	if res.Err == nil {
		res.Status = models.StatusSucceed
		statusErr = c.store.RecordUserSucceeded(statusCtx, userID, asOf)
	} else {
		res.Status = models.StatusFailed
		logger.Error("activity session generation failed", "user_id", userID, "events", len(events), "error", res.Err)
		statusErr = c.store.RecordUserFailed(statusCtx, userID)
	}

	if statusErr != nil {
		logger.Error("failed to record generation status", "user_id", userID, "status", res.Status, "error", statusErr)
		if res.Err == nil {
			res.Err = fmt.Errorf("record status: %w", statusErr)
		}
	}
	return res
}

func (c *Coordinator) write(ctx context.Context, userID int64, events []time.Time) (inserted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			inserted = 0
			err = fmt.Errorf("panic while generating sessions for user %d: %v", userID, r)
		}
	}()

	err = c.store.InTransaction(ctx, func(ctx context.Context, tx storage.SessionTx) error {
		carryOver, err := tx.PopLastActiveSession(ctx, userID)
		if err != nil {
			return fmt.Errorf("pop carry-over session: %w", err)
		}

		timeline, err := c.segmenter.Segment(userID, events, carryOver)
		if err != nil {
			return fmt.Errorf("segment events: %w", err)
		}

		if err := tx.InsertSessions(ctx, timeline); err != nil {
			return fmt.Errorf("insert sessions: %w", err)
		}
		inserted = len(timeline)
		return nil
	})
	if err != nil {
		inserted = 0
	}
	return inserted, err
}
