package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowConsumeAndDeny(t *testing.T) {
	limiter := NewMemLimiter()
	now := time.Now()
	limiter.Now = func() time.Time { return now }
	ctx := context.Background()

	first := limiter.CheckAndConsume(ctx, "dispatcher", 2, 60)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second := limiter.CheckAndConsume(ctx, "dispatcher", 2, 60)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third := limiter.CheckAndConsume(ctx, "dispatcher", 2, 60)
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.Equal(t, now.Add(60*time.Second), third.ResetAt)
}

func TestWindowRollover(t *testing.T) {
	limiter := NewMemLimiter()
	now := time.Now()
	limiter.Now = func() time.Time { return now }
	ctx := context.Background()

	limiter.CheckAndConsume(ctx, "dispatcher", 2, 60)
	limiter.CheckAndConsume(ctx, "dispatcher", 2, 60)
	denied := limiter.CheckAndConsume(ctx, "dispatcher", 2, 60)
	assert.False(t, denied.Allowed)

	now = now.Add(61 * time.Second)
	fresh := limiter.CheckAndConsume(ctx, "dispatcher", 2, 60)
	assert.True(t, fresh.Allowed)
	assert.Equal(t, 1, fresh.Remaining)
}

func TestWindowsAreIndependentPerResource(t *testing.T) {
	limiter := NewMemLimiter()
	ctx := context.Background()

	a := limiter.CheckAndConsume(ctx, "dispatcher", 1, 60)
	assert.True(t, a.Allowed)
	denied := limiter.CheckAndConsume(ctx, "dispatcher", 1, 60)
	assert.False(t, denied.Allowed)

	b := limiter.CheckAndConsume(ctx, "reporter", 1, 60)
	assert.True(t, b.Allowed, "other resources keep their own windows")
}

func TestLazyWindowCreation(t *testing.T) {
	limiter := NewMemLimiter()
	decision := limiter.CheckAndConsume(context.Background(), "never-seen", 5, 30)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 4, decision.Remaining)
}
