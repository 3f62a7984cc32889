package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chronos/internal/generation"
)

type fakeRunner struct {
	calls   atomic.Int32
	err     error
	summary generation.RunSummary
}

func (f *fakeRunner) Run(ctx context.Context) (generation.RunSummary, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return f.summary, errors.New("expected a deadline")
	}
	return f.summary, f.err
}

func TestNewGenerationJobRejectsBadSchedule(t *testing.T) {
	if _, err := NewGenerationJob(&fakeRunner{}, "every hour", time.Minute); err == nil {
		t.Fatal("Expected error for invalid cron expression")
	}
}

func TestGenerationJobNextRunTime(t *testing.T) {
	job, err := NewGenerationJob(&fakeRunner{}, "0 * * * *", time.Minute)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	job.now = func() time.Time { return time.Date(2024, 3, 1, 10, 15, 0, 0, time.Local) }

	want := time.Date(2024, 3, 1, 11, 0, 0, 0, time.Local)
	if got := job.GetNextRunTime(); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestGenerationJobRun(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"lock held elsewhere", generation.ErrRunInProgress, false},
		{"event source down", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.err, summary: generation.RunSummary{RunID: "run-1", FailedUsers: []int64{3}}}
			job, err := NewGenerationJob(runner, "@hourly", time.Minute)
			if err != nil {
				t.Fatalf("Failed to create job: %v", err)
			}

			err = job.Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if runner.calls.Load() != 1 {
				t.Errorf("Expected 1 run, got %d", runner.calls.Load())
			}
		})
	}
}

type soonJob struct {
	runs atomic.Int32
	next atomic.Int64
}

func newSoonJob(in time.Duration) *soonJob {
	j := &soonJob{}
	j.next.Store(time.Now().Add(in).UnixNano())
	return j
}

func (j *soonJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	j.next.Store(time.Now().Add(time.Hour).UnixNano())
	return nil
}

func (j *soonJob) GetNextRunTime() time.Time {
	return time.Unix(0, j.next.Load())
}

func TestSchedulerRunsAndStops(t *testing.T) {
	s := NewJobScheduler()
	job := newSoonJob(10 * time.Millisecond)
	s.Register("soon", job)

	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for job.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if job.runs.Load() == 0 {
		t.Fatal("Expected the job to run")
	}
	if st := s.GetStatus()["soon"]; st.LastRunTime == nil {
		t.Error("Expected last run time to be recorded")
	}
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewJobScheduler()
	job := newSoonJob(time.Hour)
	s.Register("later", job)

	if err := s.RunNow("later"); err != nil {
		t.Fatalf("Failed to run job: %v", err)
	}
	if job.runs.Load() != 1 {
		t.Errorf("Expected 1 run, got %d", job.runs.Load())
	}
	if err := s.RunNow("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}
