package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// ActivityRepo is the append-only audit log. Rows are never updated.
type ActivityRepo struct{ Pool PgxPool }

// NewActivityRepo constructs an ActivityRepo with the given pool.
func NewActivityRepo(p PgxPool) *ActivityRepo { return &ActivityRepo{Pool: p} }

// Append inserts one entry.
func (r *ActivityRepo) Append(ctx domain.Context, e domain.ActivityEntry) error {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return mapErr("activity.append.marshal", err)
	}
	q := `INSERT INTO activity_logs (id, user_id, pair_id, session_id, kind, message, metadata, at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := r.Pool.Exec(ctx, q, id, e.UserID, e.PairID, e.SessionID, e.Kind, e.Message, meta, at); err != nil {
		return mapErr("activity.append", err)
	}
	return nil
}

// ListRecent returns the user's newest entries, newest first.
func (r *ActivityRepo) ListRecent(ctx domain.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	q := `SELECT id, user_id, pair_id, session_id, kind, message, metadata, at FROM activity_logs WHERE user_id=$1 ORDER BY at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, mapErr("activity.list_recent", err)
	}
	defer rows.Close()
	var out []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.PairID, &e.SessionID, &e.Kind, &e.Message, &meta, &e.At); err != nil {
			return nil, mapErr("activity.list_recent", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, mapErr("activity.list_recent", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeBefore deletes entries older than cutoff and returns the count.
func (r *ActivityRepo) PurgeBefore(ctx domain.Context, cutoff time.Time) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM activity_logs WHERE at < $1`, cutoff.UTC())
	if err != nil {
		return 0, mapErr("activity.purge_before", err)
	}
	return tag.RowsAffected(), nil
}
