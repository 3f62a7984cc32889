package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chronos/internal/events"
	"chronos/internal/logging"
	"chronos/internal/models"
	"chronos/internal/sessions"
	"chronos/internal/storage"
)

// Config controls range resolution and per-chunk fan-out
type Config struct {
	Genesis       time.Time
	InitialChunk  time.Duration
	Interval      time.Duration
	Workers       int
	SchemaVersion string
}

// Validate rejects configurations that cannot make progress
func (c Config) Validate() error {
	if c.Genesis.IsZero() {
		return errors.New("generation: genesis is required")
	}
	if c.InitialChunk <= 0 || c.Interval <= 0 {
		return errors.New("generation: chunk sizes must be positive")
	}
	if c.SchemaVersion == "" {
		return errors.New("generation: schema version is required")
	}
	return nil
}

// Refresher rebuilds the aggregates touched by a run
type Refresher interface {
	Refresh(ctx context.Context, referenceTime time.Time) error
}

// Recorder observes run progress. services.Metrics implements it.
type Recorder interface {
	RunFinished(outcome string, elapsed time.Duration)
	ChunkProcessed(elapsed time.Duration)
	UserProcessed(status models.GenerationStatus)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, time.Duration) {}
func (nopRecorder) ChunkProcessed(time.Duration) {}
func (nopRecorder) UserProcessed(models.GenerationStatus) {}

// Deps are the collaborators of an Orchestrator.
// CatchUp, Locker, Recorder and Clock are optional.
type Deps struct {
	Events      events.Source
	CatchUp     events.Source
	Sessions    storage.SessionStore
	Checkpoints storage.CheckpointStore
	Segmenter   *sessions.Segmenter
	Refresher   Refresher
	Locker      Locker
	Recorder    Recorder
	Clock       func() time.Time
}

// RunSummary describes a finished run
type RunSummary struct {
	RunID         string           `json:"run_id"`
	Range         models.TimeRange `json:"range"`
	Chunks        int              `json:"chunks"`
	Succeeded     int              `json:"succeeded"`
	Failed        int              `json:"failed"`
	Skipped       int              `json:"skipped"`
	FailedUsers   []int64          `json:"failed_users,omitempty"`
	ReferenceTime time.Time        `json:"reference_time"`
}

// Orchestrator drives generation runs
type Orchestrator struct {
	cfg         Config
	source      events.Source
	catchUp     events.Source
	checkpoints storage.CheckpointStore
	coordinator *Coordinator
	refresher   Refresher
	locker      Locker
	recorder    Recorder
	now         func() time.Time
}

// NewOrchestrator wires an orchestrator
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Events == nil || deps.Sessions == nil || deps.Checkpoints == nil || deps.Segmenter == nil || deps.Refresher == nil {
		return nil, errors.New("generation: events, sessions, checkpoints, segmenter and refresher are required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	o := &Orchestrator{
		cfg:         cfg,
		source:      deps.Events,
		catchUp:     deps.CatchUp,
		checkpoints: deps.Checkpoints,
		coordinator: NewCoordinator(deps.Sessions, deps.Segmenter),
		refresher:   deps.Refresher,
		locker:      deps.Locker,
		recorder:    deps.Recorder,
		now:         deps.Clock,
	}
	if o.catchUp == nil {
		o.catchUp = o.source
	}
	if o.locker == nil {
		o.locker = NewLocalLocker()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Run resolves the pending range, processes it chunk by chunk and refreshes the
// aggregates once. An event source error aborts the run and leaves the current
// chunk's generation record open, to be reprocessed by the next run.
func (o *Orchestrator) Run(ctx context.Context) (summary RunSummary, err error) {
	locked, err := o.locker.TryLock(ctx)
	if err != nil {
		return summary, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return summary, ErrRunInProgress
	}
	defer func() {
		if unlockErr := o.locker.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			slog.Warn("failed to release run lock", "error", unlockErr)
		}
	}()

	started := o.now()
	summary.RunID = uuid.New().String()
	logger := logging.WithRun(summary.RunID)
	defer func() {
		outcome := "succeed"
		if err != nil {
			outcome = "failed"
		}
		o.recorder.RunFinished(outcome, time.Since(started))
	}()

	start, chunkSize, err := o.resolveStart(ctx)
	if err != nil {
		return summary, err
	}
	end := started.UTC()
	summary.Range = models.TimeRange{Start: start, End: end}

	// Captured before any chunk runs since processing rewrites the statuses.
	failedBefore, err := o.checkpoints.FailedUsers(ctx)
	if err != nil {
		return summary, fmt.Errorf("load failed users: %w", err)
	}
	summary.ReferenceTime = o.referenceTime(start, failedBefore)

	chunks := splitRange(start, end, chunkSize)
	logger.Info("generation run started",
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
		"chunks", len(chunks),
		"failed_users", len(failedBefore))

	failedUsers := make(map[int64]bool)
	for _, chunk := range chunks {
		results, err := o.runChunk(ctx, logger, summary.RunID, chunk)
		if err != nil {
			return summary, fmt.Errorf("chunk [%s, %s): %w",
				chunk.Start.Format(time.RFC3339), chunk.End.Format(time.RFC3339), err)
		}
		summary.Chunks++

		for _, r := range results {
			switch r.Status {
			case models.StatusSucceed:
				summary.Succeeded++
				delete(failedUsers, r.UserID)
			case models.StatusFailed:
				summary.Failed++
				failedUsers[r.UserID] = true
			default:
				summary.Skipped++
			}
		}
	}
	for id := range failedUsers {
		summary.FailedUsers = append(summary.FailedUsers, id)
	}
	sort.Slice(summary.FailedUsers, func(i, j int) bool { return summary.FailedUsers[i] < summary.FailedUsers[j] })

	if summary.Chunks == 0 {
		logger.Info("generation run found nothing to process")
		return summary, nil
	}

	if err := o.refresher.Refresh(ctx, summary.ReferenceTime); err != nil {
		return summary, fmt.Errorf("refresh aggregates: %w", err)
	}

	if len(summary.FailedUsers) > 0 {
		logger.Error("generation run finished with failed users",
			"failed_users", summary.FailedUsers,
			"succeeded", summary.Succeeded)
	}
	logger.Info("generation run finished",
		"chunks", summary.Chunks,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"reference_time", summary.ReferenceTime.Format(time.RFC3339),
		"elapsed", time.Since(started).String())
	return summary, nil
}

// resolveStart returns where the run begins and how large its chunks are
func (o *Orchestrator) resolveStart(ctx context.Context) (time.Time, time.Duration, error) {
	last, err := o.checkpoints.LastCompletedGeneration(ctx)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("load last generation: %w", err)
	}
	if last == nil {
		return o.cfg.Genesis.UTC(), o.cfg.InitialChunk, nil
	}
	return last.TimeRange.End.UTC(), o.cfg.Interval, nil
}

// referenceTime is the earliest point whose aggregates the run may change
func (o *Orchestrator) referenceTime(start time.Time, failed []models.UserGenerationStatus) time.Time {
	ref := start
	for _, st := range failed {
		from := o.catchUpStart(st)
		if from.Before(ref) {
			ref = from
		}
	}
	return ref
}

func (o *Orchestrator) catchUpStart(st models.UserGenerationStatus) time.Time {
	if st.LastSuccessfulGenerationEndTime == nil {
		return o.cfg.Genesis.UTC()
	}
	return st.LastSuccessfulGenerationEndTime.UTC()
}

// runChunk processes one bracketed chunk: bulk users first, then each
// previously failed user over its own catch-up window.
func (o *Orchestrator) runChunk(ctx context.Context, runLogger *slog.Logger, runID string, chunk models.TimeRange) ([]Result, error) {
	started := o.now()
	logger := logging.WithChunk(runLogger, chunk.Start.Format(time.RFC3339), chunk.End.Format(time.RFC3339))

	failed, err := o.checkpoints.FailedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed users: %w", err)
	}

	record, err := models.NewGenerationRecord(runID, chunk, started, o.cfg.SchemaVersion)
	if err != nil {
		return nil, err
	}
	recordID, err := o.checkpoints.OpenGeneration(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("open generation record: %w", err)
	}

	excluded := make([]int64, 0, len(failed))
	for _, st := range failed {
		excluded = append(excluded, st.UserID)
	}

	bulk, err := o.source.Read(ctx, events.Query{Start: chunk.Start, End: chunk.End, UserIDs: excluded, Exclude: true})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	collect := func(r Result) {
		o.recorder.UserProcessed(r.Status)
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, ue := range events.GroupByUser(bulk) {
		g.Go(func() error {
			// users not yet started when the run is cancelled keep their status
			if gctx.Err() != nil {
				collect(Result{UserID: ue.UserID, Status: models.StatusSkipped})
				return nil
			}
			collect(o.coordinator.Process(gctx, logging.WithUser(logger, ue.UserID), ue.UserID, ue.Timestamps, chunk.End))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// the record stays open so the next run reprocesses the skipped users
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, st := range failed {
		from := o.catchUpStart(st)
		if !from.Before(chunk.End) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			evs, err := o.catchUp.Read(gctx, events.Query{Start: from, End: chunk.End, UserIDs: []int64{st.UserID}})
			if err != nil {
				return fmt.Errorf("read catch-up events for user %d: %w", st.UserID, err)
			}
			var timestamps []time.Time
			for _, e := range evs {
				timestamps = append(timestamps, e.Timestamp)
			}
			collect(o.coordinator.Process(gctx, logging.WithUser(logger, st.UserID), st.UserID, timestamps, chunk.End))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := o.checkpoints.CloseGeneration(ctx, recordID, o.now()); err != nil {
		return nil, fmt.Errorf("close generation record: %w", err)
	}

	elapsed := o.now().Sub(started)
	o.recorder.ChunkProcessed(elapsed)
	logger.Info("generation chunk completed",
		"users", len(results),
		"catch_up_users", len(failed),
		"elapsed", elapsed.String())
	return results, nil
}

// splitRange cuts [start, end) into consecutive chunks of at most size
func splitRange(start, end time.Time, size time.Duration) []models.TimeRange {
	var chunks []models.TimeRange
	for cur := start; cur.Before(end); {
		next := cur.Add(size)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, models.TimeRange{Start: cur, End: next})
		cur = next
	}
	return chunks
}
