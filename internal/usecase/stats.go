package usecase

import (
	"github.com/sunil55999/autoforwardx/internal/domain"
)

// StatsService serves aggregate reads for the dashboard and admin views.
type StatsService struct {
	Stats    domain.StatsRepository
	Activity domain.ActivityRepository
}

// Dashboard returns the per-user summary.
func (s StatsService) Dashboard(ctx domain.Context, userID string) (domain.DashboardStats, error) {
	return s.Stats.Dashboard(ctx, userID)
}

// RecentActivity returns the user's newest activity entries.
func (s StatsService) RecentActivity(ctx domain.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Activity.ListRecent(ctx, userID, limit)
}
