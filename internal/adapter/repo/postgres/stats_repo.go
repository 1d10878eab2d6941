package postgres

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// StatsRepo serves the aggregate reads behind the dashboard and admin views.
type StatsRepo struct{ Pool PgxPool }

// NewStatsRepo constructs a StatsRepo with the given pool.
func NewStatsRepo(p PgxPool) *StatsRepo { return &StatsRepo{Pool: p} }

// Dashboard assembles the per-user summary.
func (r *StatsRepo) Dashboard(ctx domain.Context, userID string) (domain.DashboardStats, error) {
	tracer := otel.Tracer("repo.stats")
	ctx, span := tracer.Start(ctx, "stats.Dashboard")
	defer span.End()

	var out domain.DashboardStats

	q := `SELECT
		COUNT(*) FILTER (WHERE state='active'),
		COALESCE(SUM(successful),0),
		COALESCE(SUM(failed),0)
		FROM forwarding_pairs WHERE user_id=$1`
	var successful, failed int64
	if err := r.Pool.QueryRow(ctx, q, userID).Scan(&out.ActivePairs, &successful, &failed); err != nil {
		return domain.DashboardStats{}, mapErr("stats.dashboard.pairs", err)
	}
	if total := successful + failed; total > 0 {
		out.SuccessRate = float64(successful) / float64(total)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	q = `SELECT COUNT(*) FROM forwarding_queue fq
		JOIN forwarding_pairs p ON p.id = fq.pair_id
		WHERE p.user_id=$1 AND fq.status='completed' AND fq.processed_at >= $2`
	if err := r.Pool.QueryRow(ctx, q, userID, midnight).Scan(&out.MessagesToday); err != nil {
		return domain.DashboardStats{}, mapErr("stats.dashboard.today", err)
	}

	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM telegram_sessions WHERE user_id=$1 AND active`, userID).Scan(&out.ConnectedAccounts); err != nil {
		return domain.DashboardStats{}, mapErr("stats.dashboard.sessions", err)
	}

	rows, err := r.Pool.Query(ctx, `SELECT fq.status, COUNT(*) FROM forwarding_queue fq
		JOIN forwarding_pairs p ON p.id = fq.pair_id
		WHERE p.user_id=$1 GROUP BY fq.status`, userID)
	if err != nil {
		return domain.DashboardStats{}, mapErr("stats.dashboard.queue", err)
	}
	defer rows.Close()
	out.QueueCounts = map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.DashboardStats{}, mapErr("stats.dashboard.queue", err)
		}
		out.QueueCounts[status] = n
	}
	return out, rows.Err()
}

// Admin assembles the instance-wide summary.
func (r *StatsRepo) Admin(ctx domain.Context) (domain.AdminStats, error) {
	tracer := otel.Tracer("repo.stats")
	ctx, span := tracer.Start(ctx, "stats.Admin")
	defer span.End()

	var out domain.AdminStats

	rows, err := r.Pool.Query(ctx, `SELECT plan, COUNT(*) FROM users GROUP BY plan`)
	if err != nil {
		return domain.AdminStats{}, mapErr("stats.admin.users", err)
	}
	out.UsersByPlan = map[string]int{}
	for rows.Next() {
		var plan string
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			rows.Close()
			return domain.AdminStats{}, mapErr("stats.admin.users", err)
		}
		out.UsersByPlan[plan] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.AdminStats{}, mapErr("stats.admin.users", err)
	}

	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM forwarding_pairs`).Scan(&out.TotalPairs); err != nil {
		return domain.AdminStats{}, mapErr("stats.admin.pairs", err)
	}
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM telegram_sessions`).Scan(&out.TotalSessions); err != nil {
		return domain.AdminStats{}, mapErr("stats.admin.sessions", err)
	}

	qrows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM forwarding_queue GROUP BY status`)
	if err != nil {
		return domain.AdminStats{}, mapErr("stats.admin.queue", err)
	}
	defer qrows.Close()
	out.QueueCounts = map[string]int{}
	for qrows.Next() {
		var status string
		var n int
		if err := qrows.Scan(&status, &n); err != nil {
			return domain.AdminStats{}, mapErr("stats.admin.queue", err)
		}
		out.QueueCounts[status] = n
	}
	if err := qrows.Err(); err != nil {
		return domain.AdminStats{}, mapErr("stats.admin.queue", err)
	}
	out.UnresolvedErrors = out.QueueCounts[string(domain.ItemFailed)]
	return out, nil
}
