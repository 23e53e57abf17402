// Package ratelimit implements fixed-window request counting over a pluggable store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mpnag/discipline/internal/models"
)

// Store counts hits per key inside a fixed window. Hit must be atomic per key: the
// first hit of a window starts it with count 1, later hits increment, and once the
// window has elapsed the next hit starts a fresh one.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// Rule is a named budget of Max requests per Window
type Rule struct {
	Name   string
	Max    int
	Window time.Duration
}

type Limiter struct {
	store Store
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Check records one hit for key. It returns a *models.RateLimitError once the count
// exceeds max within the current window. Store failures are returned as plain errors
// so the caller can decide whether to fail open.
func (l *Limiter) Check(ctx context.Context, key string, window time.Duration, max int) error {
	count, resetIn, err := l.store.Hit(ctx, key, window)
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}

	if count > int64(max) {
		return &models.RateLimitError{RetryAfter: resetIn}
	}
	return nil
}

// Allow applies rule to key, namespacing the bucket by rule name
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) error {
	return l.Check(ctx, rule.Name+":"+key, rule.Window, rule.Max)
}
