package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/retry"
)

var dbBackoff = retry.NewBackoff(retry.BackoffConfig{
	InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
})

// retryableDBOperationNoReturn runs a write with retry on transient SQLite
// errors. Failures come back as PERSISTENCE_FAILED app errors.
func retryableDBOperationNoReturn(ctx context.Context, operation func() error, operationName string) error {
	err := dbBackoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, operationName+" cancelled")
	}
	return apperrors.NewPersistenceError(operationName, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	for _, transient := range []string{"database is locked", "database table is locked", "disk I/O error", "SQLITE_BUSY"} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}

	return false
}
