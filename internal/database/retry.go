package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// RetryPolicy bounds how often a store operation is retried after a transient error.
type RetryPolicy struct {
	Attempts        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a repository is built without an explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:        3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

// NewRetryPolicy returns the default policy with the given attempt count.
func NewRetryPolicy(attempts int) RetryPolicy {
	p := DefaultRetryPolicy
	if attempts > 0 {
		p.Attempts = uint(attempts)
	}
	return p
}

// IsTransient reports whether err is a store error worth retrying:
// SQLite busy/locked, Postgres serialization failures, deadlocks,
// lock timeouts and connection exceptions.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the
// policy's attempts are used up. A transient error that survives every
// attempt is returned as a TRANSIENT_STORE_ERROR AppError.
func Retry[T any](ctx context.Context, policy RetryPolicy, operation string, fn func() (T, error)) (T, error) {
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.Attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.StoreRetriesTotal.WithLabelValues(operation).Inc()
			observability.Logger.WarnContext(ctx, "Retrying store operation",
				slog.String("operation", operation),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil && IsTransient(err) {
		return result, models.NewTransientError(err)
	}
	return result, err
}

// RetryExec is Retry for operations that only return an error.
func RetryExec(ctx context.Context, policy RetryPolicy, operation string, fn func() error) error {
	_, err := Retry(ctx, policy, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
