package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	log "github.com/freundallein/taskgate/chassis/logging"
)

// PGLimiter - fixed-window counters in t_rate_limit. The whole
// check-and-increment is one conditional upsert, so concurrent
// callers cannot both take the last slot.
type PGLimiter struct {
	pool *pgxpool.Pool
}

// InitPGLimiter - ...
func InitPGLimiter(pool *pgxpool.Pool) *PGLimiter {
	return &PGLimiter{pool: pool}
}

// CheckAndConsume - ...
func (l *PGLimiter) CheckAndConsume(ctx context.Context, resource string, maxExecutions, windowSeconds int) Decision {
	window := time.Duration(windowSeconds) * time.Second
	query := `
	insert into t_rate_limit(resource, count, window_start)
	values ($1, 1, localtimestamp)
	on conflict (resource) do update set
		count = CASE
			WHEN localtimestamp >= t_rate_limit.window_start + concat($3::int, ' seconds')::INTERVAL THEN 1
			ELSE t_rate_limit.count + 1
		END,
		window_start = CASE
			WHEN localtimestamp >= t_rate_limit.window_start + concat($3::int, ' seconds')::INTERVAL THEN localtimestamp
			ELSE t_rate_limit.window_start
		END
	where localtimestamp >= t_rate_limit.window_start + concat($3::int, ' seconds')::INTERVAL
		or t_rate_limit.count < $2
	returning count, window_start;
	`
	var count int
	var windowStart time.Time
	err := l.pool.QueryRow(ctx, query, resource, maxExecutions, windowSeconds).Scan(&count, &windowStart)
	if errors.Is(err, pgx.ErrNoRows) {
		// Window full: nothing mutated, report when it reopens.
		var resetAt time.Time
		readQuery := `select window_start from t_rate_limit where resource = $1`
		if readErr := l.pool.QueryRow(ctx, readQuery, resource).Scan(&windowStart); readErr == nil {
			resetAt = windowStart.Add(window)
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	if err != nil {
		// Fail open: throttle outages must not halt dispatching.
		log.WithFields(log.Fields{
			"event":    "rate_limit_check_failed",
			"resource": resource,
		}).Error(err)
		return Decision{Allowed: true, Remaining: maxExecutions - 1, ResetAt: time.Now().Add(window)}
	}
	return Decision{
		Allowed:   true,
		Remaining: maxExecutions - count,
		ResetAt:   windowStart.Add(window),
	}
}
