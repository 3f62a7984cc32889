package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// UnknownTransactionCommitResult is the server error label of a commit whose
// outcome could not be determined.
const UnknownTransactionCommitResult = "UnknownTransactionCommitResult"

// ErrCommitRetriesExhausted is returned once the commit keeps ending with an
// unknown outcome after the allowed retries.
var ErrCommitRetriesExhausted = errors.New("transaction commit retries exhausted")

type labeledError interface {
	HasErrorLabel(label string) bool
}

// IsUnknownCommitResult reports whether err carries the unknown-commit label
func IsUnknownCommitResult(err error) bool {
	var le labeledError
	return errors.As(err, &le) && le.HasErrorLabel(UnknownTransactionCommitResult)
}

// CommitWithRetry calls commit until it succeeds, fails for a reason other than an
// unknown outcome, or maxRetries retries have been spent.
func CommitWithRetry(ctx context.Context, commit func(context.Context) error, maxRetries int) error {
	for attempt := 0; ; attempt++ {
		err := commit(ctx)
		if err == nil {
			return nil
		}
		if !IsUnknownCommitResult(err) {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%w (%d retries): %v", ErrCommitRetriesExhausted, maxRetries, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("commit retry interrupted: %w", ctxErr)
		}
		slog.Warn("unknown transaction commit result, retrying commit", "attempt", attempt+1, "error", err)
	}
}
