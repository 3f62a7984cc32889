package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"chronos/internal/generation"
)

// Runner executes one generation run
type Runner interface {
	Run(ctx context.Context) (generation.RunSummary, error)
}

// GenerationJob runs the session generation pipeline on a cron schedule
type GenerationJob struct {
	runner   Runner
	schedule cron.Schedule
	timeout  time.Duration
	now      func() time.Time
}

// NewGenerationJob creates a generation job for a standard five-field cron expression
func NewGenerationJob(runner Runner, expr string, timeout time.Duration) (*GenerationJob, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid generation schedule %q: %w", expr, err)
	}
	return &GenerationJob{
		runner:   runner,
		schedule: schedule,
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

// Run executes one generation run bounded by the job timeout
func (j *GenerationJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	log.Println("🧮 [GENERATION] Starting activity session generation")

	summary, err := j.runner.Run(ctx)
	if errors.Is(err, generation.ErrRunInProgress) {
		log.Println("⏭️  [GENERATION] Another generation run holds the lock, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("generation run %s: %w", summary.RunID, err)
	}

	if len(summary.FailedUsers) > 0 {
		log.Printf("⚠️  [GENERATION] Run %s: %d users failed: %v", summary.RunID, len(summary.FailedUsers), summary.FailedUsers)
	}
	log.Printf("✅ [GENERATION] Run %s: %d chunks, %d succeeded, %d failed, %d skipped",
		summary.RunID, summary.Chunks, summary.Succeeded, summary.Failed, summary.Skipped)
	return nil
}

// GetNextRunTime returns the next cron activation
func (j *GenerationJob) GetNextRunTime() time.Time {
	return j.schedule.Next(j.now())
}
