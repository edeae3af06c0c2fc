package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService handles data retention and cleanup
type CleanupService struct {
	Pool       *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes completed jobs (and their superseded candidate
// versions) past the retention window.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	// Start transaction for consistency
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Delete terminal jobs past retention.
	var deletedJobs int64
	err = tx.QueryRow(ctx, `
		WITH d AS (
			DELETE FROM processing_jobs
			WHERE created_at < $1 AND status IN ('completed', 'failed')
			RETURNING 1
		) SELECT count(*) FROM d
	`, cutoff).Scan(&deletedJobs)
	if err != nil {
		slog.Debug("no processing_jobs to delete", slog.Any("error", err))
	}

	// Delete superseded (non-latest) candidate versions past retention; the
	// current version stays until the tenant account itself is retired.
	var deletedCandidates int64
	err = tx.QueryRow(ctx, `
		WITH d AS (
			DELETE FROM candidates
			WHERE created_at < $1 AND is_latest = false
			RETURNING 1
		) SELECT count(*) FROM d
	`, cutoff).Scan(&deletedCandidates)
	if err != nil {
		slog.Debug("no superseded candidates to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", deletedJobs),
		slog.Int64("deleted_candidates", deletedCandidates),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial cleanup
	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
