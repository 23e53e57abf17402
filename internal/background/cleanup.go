package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredRowCleaner deletes rows that can no longer be used
type ExpiredRowCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// BucketSweeper drops expired in-memory rate limit buckets
type BucketSweeper interface {
	Sweep() int
}

// CleanupManager periodically removes expired refresh tokens, reset tokens and
// rate limit buckets
type CleanupManager struct {
	refreshTokens ExpiredRowCleaner
	resetTokens   ExpiredRowCleaner
	buckets       BucketSweeper
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewCleanupManager creates a new cleanup manager. buckets may be nil when the
// rate limiter does not keep state in process.
func NewCleanupManager(
	refreshTokens ExpiredRowCleaner,
	resetTokens ExpiredRowCleaner,
	buckets BucketSweeper,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		refreshTokens: refreshTokens,
		resetTokens:   resetTokens,
		buckets:       buckets,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until ctx is done or Stop is called.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass. A failing step is logged and does not
// prevent the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) CleanupResult {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var result CleanupResult
	result.RefreshTokens = cm.cleanRows(cleanupCtx, "refresh_tokens", cm.refreshTokens)
	result.ResetTokens = cm.cleanRows(cleanupCtx, "password_reset_tokens", cm.resetTokens)

	if cm.buckets != nil {
		result.Buckets = cm.buckets.Sweep()
	}

	if result.RefreshTokens > 0 || result.ResetTokens > 0 || result.Buckets > 0 {
		cm.logger.Info("expired credential cleanup completed",
			slog.Int64("refresh_tokens_deleted", result.RefreshTokens),
			slog.Int64("reset_tokens_deleted", result.ResetTokens),
			slog.Int("buckets_swept", result.Buckets),
		)
	}
	return result
}

// CleanupResult counts what a pass removed
type CleanupResult struct {
	RefreshTokens int64
	ResetTokens   int64
	Buckets       int
}

func (cm *CleanupManager) cleanRows(ctx context.Context, table string, cleaner ExpiredRowCleaner) int64 {
	if cleaner == nil {
		return 0
	}
	deleted, err := cleaner.CleanupExpired(ctx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired rows",
			slog.String("table", table), slog.Any("error", err))
		return 0
	}
	return deleted
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
