package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// UserRepo persists tenant rows.
type UserRepo struct{ Pool PgxPool }

// NewUserRepo constructs a UserRepo with the given pool.
func NewUserRepo(p PgxPool) *UserRepo { return &UserRepo{Pool: p} }

// Create inserts a new user and returns its id.
func (r *UserRepo) Create(ctx domain.Context, u domain.User) (string, error) {
	id := u.ID
	if id == "" {
		id = uuid.New().String()
	}
	plan := u.Plan
	if plan == "" {
		plan = domain.PlanFree
	}
	q := `INSERT INTO users (id, plan, plan_expiry, created_at) VALUES ($1,$2,$3,$4)`
	if _, err := r.Pool.Exec(ctx, q, id, plan, u.PlanExpiry, time.Now().UTC()); err != nil {
		return "", mapErr("user.create", err)
	}
	return id, nil
}

// Get loads a user by id.
func (r *UserRepo) Get(ctx domain.Context, id string) (domain.User, error) {
	q := `SELECT id, plan, plan_expiry, created_at FROM users WHERE id=$1`
	var u domain.User
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Plan, &u.PlanExpiry, &u.CreatedAt); err != nil {
		return domain.User{}, mapErr("user.get", err)
	}
	return u, nil
}

// Delete removes a user; sessions, pairs, filters, and queue items cascade
// through foreign keys.
func (r *UserRepo) Delete(ctx domain.Context, id string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return mapErr("user.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("user.delete", domain.ErrNotFound)
	}
	return nil
}

// CountByPlan returns user counts keyed by plan name.
func (r *UserRepo) CountByPlan(ctx domain.Context) (map[string]int, error) {
	rows, err := r.Pool.Query(ctx, `SELECT plan, COUNT(*) FROM users GROUP BY plan`)
	if err != nil {
		return nil, mapErr("user.count_by_plan", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var plan string
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, mapErr("user.count_by_plan", err)
		}
		out[plan] = n
	}
	return out, rows.Err()
}
