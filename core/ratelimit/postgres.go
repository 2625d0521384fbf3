package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
)

// PostgresFixedWindow is the database-backed limiter. Counters live in the
// rate_limit relation, one row per (identifier, action, window bucket).
// Bucket boundaries are aligned to floor(now/window)*window, so all
// instances sharing the database agree on the same buckets.
type PostgresFixedWindow struct {
	db     *csql.DB
	limits Limits
	done   chan struct{}
	once   sync.Once
}

// NewPostgresFixedWindow creates a fixed window limiter on the given
// database. The rate_limit relation is created if it does not exist.
func NewPostgresFixedWindow(db *csql.DB, limits Limits) (*PostgresFixedWindow, error) {
	_, err := db.Exec(fmt.Sprintf(`CREATE table IF NOT EXISTS %s.rate_limit (
identifier varchar NOT NULL,
action varchar NOT NULL,
count INTEGER NOT NULL DEFAULT 0,
window_start bigint NOT NULL,
window_end bigint NOT NULL,
UNIQUE (identifier, action, window_start)
);`, db.Schema))
	if err != nil {
		return nil, fmt.Errorf("cannot create rate_limit relation: %w", err)
	}
	l := &PostgresFixedWindow{db: db, limits: limits.normalized(), done: make(chan struct{})}
	go l.cleanupLoop()
	return l, nil
}

// CheckAndIncrement counts the call and reports whether it is allowed.
// The increment is a single conditional upsert, so a denied call leaves
// the counter untouched and concurrent callers cannot exceed the limit.
func (l *PostgresFixedWindow) CheckAndIncrement(ctx context.Context, identifier string, action core.Action) (Result, error) {
	limit := l.limits.limitFor(action)
	now := time.Now().UnixMilli()
	windowStart := (now / l.limits.WindowMS) * l.limits.WindowMS
	windowEnd := windowStart + l.limits.WindowMS

	query := fmt.Sprintf(`INSERT INTO %s.rate_limit (identifier, action, count, window_start, window_end)
VALUES ($1, $2, 1, $3, $4)
ON CONFLICT (identifier, action, window_start)
DO UPDATE SET count = rate_limit.count + 1 WHERE rate_limit.count < $5
RETURNING count;`, l.db.Schema)

	var count int
	err := l.db.QueryRowContext(ctx, query, identifier, string(action), windowStart, windowEnd, limit).Scan(&count)
	if err == csql.ErrNoRows {
		// the conditional update did not fire, the bucket is full
		return Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: windowEnd}, nil
	}
	if err != nil {
		return Result{}, core.NewError(core.KindDatabaseError, "rate limit query failed").WithCause(err)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= limit, Remaining: remaining, Limit: limit, ResetAt: windowEnd}, nil
}

func (l *PostgresFixedWindow) cleanupLoop() {
	ticker := time.NewTicker(time.Duration(l.limits.CleanupIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			_, err := l.db.Exec(fmt.Sprintf("DELETE FROM %s.rate_limit WHERE window_end < $1;", l.db.Schema),
				now-l.limits.WindowMS)
			if err != nil {
				logger.Default().WithError(err).Errorln("rate limit cleanup failed")
			}
		}
	}
}

// Shutdown stops the background cleanup.
func (l *PostgresFixedWindow) Shutdown() {
	l.once.Do(func() { close(l.done) })
}
