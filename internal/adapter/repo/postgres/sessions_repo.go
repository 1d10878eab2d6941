package postgres

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

const sessionCols = `id, user_id, phone, credential_blob, active, COALESCE(display_name,''), last_health_at, created_at`

// SessionRepo persists authorized platform sessions. The credential blob is
// stored sealed; this layer never opens or logs it.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// Create inserts a new session and returns its id.
func (r *SessionRepo) Create(ctx domain.Context, s domain.Session) (string, error) {
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO telegram_sessions (id, user_id, phone, credential_blob, active, display_name, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.Pool.Exec(ctx, q, id, s.UserID, s.Phone, s.Credentials, s.Active, s.DisplayName, time.Now().UTC()); err != nil {
		return "", mapErr("session.create", err)
	}
	return id, nil
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx domain.Context, id string) (domain.Session, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM telegram_sessions WHERE id=$1`, id)
	return scanSession(row, "session.get")
}

// ListByUser returns all sessions owned by the user.
func (r *SessionRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Session, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+sessionCols+` FROM telegram_sessions WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, mapErr("session.list_by_user", err)
	}
	defer rows.Close()
	return collectSessions(rows, "session.list_by_user")
}

// ListUsable returns sessions eligible for the client pool: active with a
// non-empty credential blob.
func (r *SessionRepo) ListUsable(ctx domain.Context) ([]domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.ListUsable")
	defer span.End()
	q := `SELECT ` + sessionCols + ` FROM telegram_sessions WHERE active AND octet_length(credential_blob) > 0 ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, mapErr("session.list_usable", err)
	}
	defer rows.Close()
	return collectSessions(rows, "session.list_usable")
}

// UpdateCredentials replaces the sealed credential blob and display name.
func (r *SessionRepo) UpdateCredentials(ctx domain.Context, id string, credentials []byte, displayName string) error {
	q := `UPDATE telegram_sessions SET credential_blob=$2, display_name=$3, active=true WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, credentials, displayName)
	if err != nil {
		return mapErr("session.update_credentials", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("session.update_credentials", domain.ErrNotFound)
	}
	return nil
}

// SetActive flips the active flag.
func (r *SessionRepo) SetActive(ctx domain.Context, id string, active bool) error {
	tag, err := r.Pool.Exec(ctx, `UPDATE telegram_sessions SET active=$2 WHERE id=$1`, id, active)
	if err != nil {
		return mapErr("session.set_active", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("session.set_active", domain.ErrNotFound)
	}
	return nil
}

// TouchHealth records a successful health probe.
func (r *SessionRepo) TouchHealth(ctx domain.Context, id string, at time.Time) error {
	if _, err := r.Pool.Exec(ctx, `UPDATE telegram_sessions SET last_health_at=$2 WHERE id=$1`, id, at.UTC()); err != nil {
		return mapErr("session.touch_health", err)
	}
	return nil
}

// Delete removes a session.
func (r *SessionRepo) Delete(ctx domain.Context, id string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM telegram_sessions WHERE id=$1`, id)
	if err != nil {
		return mapErr("session.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("session.delete", domain.ErrNotFound)
	}
	return nil
}

// CountByUser counts the user's sessions for plan-limit checks.
func (r *SessionRepo) CountByUser(ctx domain.Context, userID string) (int, error) {
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM telegram_sessions WHERE user_id=$1`, userID).Scan(&n); err != nil {
		return 0, mapErr("session.count_by_user", err)
	}
	return n, nil
}

// Count counts all sessions.
func (r *SessionRepo) Count(ctx domain.Context) (int, error) {
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM telegram_sessions`).Scan(&n); err != nil {
		return 0, mapErr("session.count", err)
	}
	return n, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner, op string) (domain.Session, error) {
	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.Phone, &s.Credentials, &s.Active, &s.DisplayName, &s.LastHealthAt, &s.CreatedAt); err != nil {
		return domain.Session{}, mapErr(op, err)
	}
	return s, nil
}

func collectSessions(rows interface {
	rowScanner
	Next() bool
	Err() error
}, op string) ([]domain.Session, error) {
	var out []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Phone, &s.Credentials, &s.Active, &s.DisplayName, &s.LastHealthAt, &s.CreatedAt); err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
