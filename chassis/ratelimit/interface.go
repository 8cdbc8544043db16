package ratelimit

import (
	"context"
	"time"
)

// Decision - outcome of a window check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter gates how often a named resource may run inside a fixed
// window. CheckAndConsume is atomic per resource: a granted slot is
// consumed in the same operation that checks capacity.
//
// Implementations fail open: when the backing store is unreachable
// the call logs and allows, so a monitoring outage never halts the
// business process.
type Limiter interface {
	CheckAndConsume(ctx context.Context, resource string, maxExecutions, windowSeconds int) Decision
}
