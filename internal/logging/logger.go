package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithRun returns a logger with generation run fields attached.
// Use this for all logging within a generation run.
func WithRun(runID string) *slog.Logger {
	return slog.With("run_id", runID)
}

// WithChunk returns a logger scoped to one chunk of a run.
func WithChunk(logger *slog.Logger, start, end string) *slog.Logger {
	return logger.With(
		"chunk_start", start,
		"chunk_end", end,
	)
}

// WithUser returns a logger scoped to one user's processing.
func WithUser(logger *slog.Logger, userID int64) *slog.Logger {
	return logger.With("user_id", userID)
}
