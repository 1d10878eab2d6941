package postgres

import (
	"context"
	"log/slog"
	"time"
)

// CleanupService enforces data retention: old activity entries and completed or
// cleared queue items are deleted on a periodic tick. Failed items are kept.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewCleanupService creates a cleanup service with the given retention window.
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes rows older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	tag, err := s.Pool.Exec(ctx, `DELETE FROM activity_logs WHERE at < $1`, cutoff)
	if err != nil {
		return mapErr("cleanup.activity", err)
	}
	deletedLogs := tag.RowsAffected()

	tag, err = s.Pool.Exec(ctx, `DELETE FROM forwarding_queue WHERE status IN ('completed','cleared') AND created_at < $1`, cutoff)
	if err != nil {
		return mapErr("cleanup.queue", err)
	}
	deletedItems := tag.RowsAffected()

	if deletedLogs > 0 || deletedItems > 0 {
		slog.Info("cleanup pass finished",
			slog.Int64("activity_deleted", deletedLogs),
			slog.Int64("queue_deleted", deletedItems),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// RunPeriodic runs cleanup on the interval until the context ends.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("cleanup pass failed", slog.Any("error", err))
			}
		}
	}
}
