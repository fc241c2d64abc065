package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SlowQueryThreshold is the statement duration logged as slow.
const SlowQueryThreshold = 200 * time.Millisecond

// queryLogger sends GORM output through the board's slog logger. Statements
// are debug lines; lookups that find nothing are not logged at all because
// the repositories turn them into NotFound errors.
type queryLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newQueryLogger(level logger.LogLevel) *queryLogger {
	return &queryLogger{
		log:   observability.Logger.With(slog.String("component", "store")),
		level: level,
		slow:  SlowQueryThreshold,
	}
}

func (l *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *queryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, logger.Info, slog.LevelInfo, msg, data...)
}

func (l *queryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, logger.Warn, slog.LevelWarn, msg, data...)
}

func (l *queryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, logger.Error, slog.LevelError, msg, data...)
}

func (l *queryLogger) printf(ctx context.Context, min logger.LogLevel, lvl slog.Level, msg string, data ...interface{}) {
	if l.level >= min {
		l.log.Log(ctx, lvl, fmt.Sprintf(msg, data...))
	}
}

// Trace is called by GORM after every statement.
func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	lvl, msg, ok := l.classify(err, elapsed)
	if !ok {
		return
	}

	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.log.LogAttrs(ctx, lvl, msg, attrs...)
}

// classify decides whether and how a finished statement is logged.
func (l *queryLogger) classify(err error, elapsed time.Duration) (slog.Level, string, bool) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return 0, "", false
	case err != nil && IsTransient(err):
		// retried by the caller; only the final failure is an error
		return slog.LevelWarn, "Store contention", l.level >= logger.Warn
	case err != nil:
		return slog.LevelError, "Store statement failed", l.level >= logger.Error
	case l.slow > 0 && elapsed > l.slow:
		return slog.LevelWarn, "Slow store statement", l.level >= logger.Warn
	default:
		return slog.LevelDebug, "Store statement", l.level >= logger.Info
	}
}
