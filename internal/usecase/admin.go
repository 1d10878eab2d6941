package usecase

import (
	"log/slog"

	"github.com/sunil55999/autoforwardx/internal/domain"
	obsctx "github.com/sunil55999/autoforwardx/internal/observability"
)

// QueueControl is the dispatcher surface the admin operations drive.
type QueueControl interface {
	Pause()
	Resume()
	Paused() bool
}

// AdminService implements the operator-facing control operations.
type AdminService struct {
	StatsRepo domain.StatsRepository
	Queue     domain.QueueRepository
	Control   QueueControl
}

// Stats returns the instance-wide summary.
func (s AdminService) Stats(ctx domain.Context) (domain.AdminStats, error) {
	return s.StatsRepo.Admin(ctx)
}

// PauseQueue stops workers from claiming new items; in-flight sends finish.
func (s AdminService) PauseQueue(ctx domain.Context) {
	s.Control.Pause()
	obsctx.LoggerFromContext(ctx).Warn("delivery queue paused by admin")
}

// ResumeQueue lifts a pause.
func (s AdminService) ResumeQueue(ctx domain.Context) {
	s.Control.Resume()
	obsctx.LoggerFromContext(ctx).Info("delivery queue resumed by admin")
}

// QueuePaused reports the pause flag.
func (s AdminService) QueuePaused() bool { return s.Control.Paused() }

// ClearFailed archives all failed queue items and returns the count.
func (s AdminService) ClearFailed(ctx domain.Context) (int64, error) {
	n, err := s.Queue.ClearFailed(ctx)
	if err != nil {
		return 0, err
	}
	obsctx.LoggerFromContext(ctx).Info("failed items cleared", slog.Int64("count", n))
	return n, nil
}

// QueueStats returns queue item counts by status.
func (s AdminService) QueueStats(ctx domain.Context) (map[string]int, error) {
	return s.Queue.StatsByStatus(ctx)
}
