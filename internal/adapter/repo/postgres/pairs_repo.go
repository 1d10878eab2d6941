package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

const pairCols = `id, user_id, session_id, source_ref, destination_ref, state, delay_min_s, delay_max_s,
	copy_mode, silent, forward_edits, forward_deletions, message_type_filter, chain, serialized,
	substitutions, COALESCE(watermark,''), forwarded, successful, failed, filtered, last_at, created_at, updated_at`

// PairRepo persists forwarding pairs. Create and Delete run their
// cross-entity writes in one transaction.
type PairRepo struct{ Pool PgxPool }

// NewPairRepo constructs a PairRepo with the given pool.
func NewPairRepo(p PgxPool) *PairRepo { return &PairRepo{Pool: p} }

// Create validates session ownership, inserts the pair, and appends the
// pair_created activity entry, all in one transaction.
func (r *PairRepo) Create(ctx domain.Context, p domain.Pair) (domain.Pair, error) {
	tracer := otel.Tracer("repo.pairs")
	ctx, span := tracer.Start(ctx, "pairs.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "forwarding_pairs"))

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.State == "" {
		p.State = domain.PairActive
	}
	if p.TypeFilter == "" {
		p.TypeFilter = domain.FilterAll
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Pair{}, mapErr("pair.create.begin_tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	// The session must exist, belong to the owner, and be active when the pair
	// starts out active.
	var active bool
	err = tx.QueryRow(ctx, `SELECT active FROM telegram_sessions WHERE id=$1 AND user_id=$2`, p.SessionID, p.UserID).Scan(&active)
	if err != nil {
		return domain.Pair{}, mapErr("pair.create.session", err)
	}
	if p.State == domain.PairActive && !active {
		return domain.Pair{}, mapErr("pair.create.session_inactive", domain.ErrInvalidArgument)
	}

	subs, err := json.Marshal(p.Substitutions)
	if err != nil {
		return domain.Pair{}, mapErr("pair.create.marshal", err)
	}
	q := `INSERT INTO forwarding_pairs (id, user_id, session_id, source_ref, destination_ref, state,
		delay_min_s, delay_max_s, copy_mode, silent, forward_edits, forward_deletions,
		message_type_filter, chain, serialized, substitutions, watermark, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
	_, err = tx.Exec(ctx, q, p.ID, p.UserID, p.SessionID, p.SourceRef, p.DestinationRef, p.State,
		int(p.DelayMin.Seconds()), int(p.DelayMax.Seconds()), p.CopyMode, p.Silent, p.ForwardEdits,
		p.ForwardDeletes, p.TypeFilter, p.Chain, p.Serialized, subs, p.Watermark, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Pair{}, mapErr("pair.create.insert", err)
	}

	if err := appendActivityTx(ctx, tx, domain.ActivityEntry{
		UserID:  p.UserID,
		PairID:  &p.ID,
		Kind:    domain.ActivityPairCreated,
		Message: "forwarding pair created",
		Metadata: map[string]any{
			"source_ref":      p.SourceRef,
			"destination_ref": p.DestinationRef,
		},
	}); err != nil {
		return domain.Pair{}, mapErr("pair.create.activity", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Pair{}, mapErr("pair.create.commit", err)
	}
	committed = true
	return p, nil
}

// Get loads a pair by id.
func (r *PairRepo) Get(ctx domain.Context, id string) (domain.Pair, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+pairCols+` FROM forwarding_pairs WHERE id=$1`, id)
	return scanPair(row, "pair.get")
}

// ListByUser returns all pairs owned by the user.
func (r *PairRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Pair, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+pairCols+` FROM forwarding_pairs WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, mapErr("pair.list_by_user", err)
	}
	defer rows.Close()
	return collectPairs(rows, "pair.list_by_user")
}

// ListBySession returns all pairs bound to the session.
func (r *PairRepo) ListBySession(ctx domain.Context, sessionID string) ([]domain.Pair, error) {
	rows, err := r.Pool.Query(ctx, `SELECT `+pairCols+` FROM forwarding_pairs WHERE session_id=$1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, mapErr("pair.list_by_session", err)
	}
	defer rows.Close()
	return collectPairs(rows, "pair.list_by_session")
}

// ListActiveBySource resolves the active pairs subscribed to a source channel.
// This sits on the ingress hot path.
func (r *PairRepo) ListActiveBySource(ctx domain.Context, sessionID, sourceRef string) ([]domain.Pair, error) {
	tracer := otel.Tracer("repo.pairs")
	ctx, span := tracer.Start(ctx, "pairs.ListActiveBySource")
	defer span.End()
	q := `SELECT ` + pairCols + ` FROM forwarding_pairs WHERE session_id=$1 AND source_ref=$2 AND state='active' ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q, sessionID, sourceRef)
	if err != nil {
		return nil, mapErr("pair.list_active_by_source", err)
	}
	defer rows.Close()
	return collectPairs(rows, "pair.list_active_by_source")
}

// Update replaces the mutable pair options.
func (r *PairRepo) Update(ctx domain.Context, p domain.Pair) (domain.Pair, error) {
	subs, err := json.Marshal(p.Substitutions)
	if err != nil {
		return domain.Pair{}, mapErr("pair.update.marshal", err)
	}
	q := `UPDATE forwarding_pairs SET source_ref=$2, destination_ref=$3, state=$4, delay_min_s=$5, delay_max_s=$6,
		copy_mode=$7, silent=$8, forward_edits=$9, forward_deletions=$10, message_type_filter=$11,
		chain=$12, serialized=$13, substitutions=$14, watermark=$15, updated_at=$16 WHERE id=$1`
	now := time.Now().UTC()
	tag, err := r.Pool.Exec(ctx, q, p.ID, p.SourceRef, p.DestinationRef, p.State,
		int(p.DelayMin.Seconds()), int(p.DelayMax.Seconds()), p.CopyMode, p.Silent,
		p.ForwardEdits, p.ForwardDeletes, p.TypeFilter, p.Chain, p.Serialized, subs, p.Watermark, now)
	if err != nil {
		return domain.Pair{}, mapErr("pair.update", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Pair{}, mapErr("pair.update", domain.ErrNotFound)
	}
	p.UpdatedAt = now
	return p, nil
}

// UpdateState transitions the pair's lifecycle state.
func (r *PairRepo) UpdateState(ctx domain.Context, id string, state domain.PairState) error {
	tag, err := r.Pool.Exec(ctx, `UPDATE forwarding_pairs SET state=$2, updated_at=$3 WHERE id=$1`, id, state, time.Now().UTC())
	if err != nil {
		return mapErr("pair.update_state", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("pair.update_state", domain.ErrNotFound)
	}
	return nil
}

// BulkUpdateState transitions many pairs at once and returns how many changed.
func (r *PairRepo) BulkUpdateState(ctx domain.Context, ids []string, state domain.PairState) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.Pool.Exec(ctx, `UPDATE forwarding_pairs SET state=$2, updated_at=$3 WHERE id = ANY($1)`, ids, state, time.Now().UTC())
	if err != nil {
		return 0, mapErr("pair.bulk_update_state", err)
	}
	return tag.RowsAffected(), nil
}

// PauseAllForSession pauses every active pair bound to the session.
func (r *PairRepo) PauseAllForSession(ctx domain.Context, sessionID string) (int64, error) {
	q := `UPDATE forwarding_pairs SET state='paused', updated_at=$2 WHERE session_id=$1 AND state='active'`
	tag, err := r.Pool.Exec(ctx, q, sessionID, time.Now().UTC())
	if err != nil {
		return 0, mapErr("pair.pause_all_for_session", err)
	}
	return tag.RowsAffected(), nil
}

// IncrStats applies counter deltas without touching other columns.
func (r *PairRepo) IncrStats(ctx domain.Context, id string, d domain.StatsDelta) error {
	q := `UPDATE forwarding_pairs SET forwarded=forwarded+$2, successful=successful+$3,
		failed=failed+$4, filtered=filtered+$5, last_at=COALESCE($6,last_at) WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, d.Forwarded, d.Successful, d.Failed, d.Filtered, d.LastAt)
	if err != nil {
		return mapErr("pair.incr_stats", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("pair.incr_stats", domain.ErrNotFound)
	}
	return nil
}

// Delete removes the pair, transitioning its non-terminal queue items to
// cleared and appending the pair_deleted activity entry, all in one
// transaction.
func (r *PairRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.pairs")
	ctx, span := tracer.Start(ctx, "pairs.Delete")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapErr("pair.delete.begin_tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var userID string
	if err := tx.QueryRow(ctx, `SELECT user_id FROM forwarding_pairs WHERE id=$1`, id).Scan(&userID); err != nil {
		return mapErr("pair.delete.get", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE forwarding_queue SET status='cleared' WHERE pair_id=$1 AND status IN ('pending','processing')`, id); err != nil {
		return mapErr("pair.delete.clear_queue", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM forwarding_pairs WHERE id=$1`, id); err != nil {
		return mapErr("pair.delete.delete", err)
	}
	if err := appendActivityTx(ctx, tx, domain.ActivityEntry{
		UserID:  userID,
		PairID:  &id,
		Kind:    domain.ActivityPairDeleted,
		Message: "forwarding pair deleted",
	}); err != nil {
		return mapErr("pair.delete.activity", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr("pair.delete.commit", err)
	}
	committed = true
	return nil
}

// CountByUser counts the user's pairs for plan-limit checks.
func (r *PairRepo) CountByUser(ctx domain.Context, userID string) (int, error) {
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM forwarding_pairs WHERE user_id=$1`, userID).Scan(&n); err != nil {
		return 0, mapErr("pair.count_by_user", err)
	}
	return n, nil
}

// Count counts all pairs.
func (r *PairRepo) Count(ctx domain.Context) (int, error) {
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM forwarding_pairs`).Scan(&n); err != nil {
		return 0, mapErr("pair.count", err)
	}
	return n, nil
}

// appendActivityTx inserts an activity entry inside an open transaction so
// cross-entity writes stay atomic.
func appendActivityTx(ctx domain.Context, tx pgx.Tx, e domain.ActivityEntry) error {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	q := `INSERT INTO activity_logs (id, user_id, pair_id, session_id, kind, message, metadata, at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = tx.Exec(ctx, q, id, e.UserID, e.PairID, e.SessionID, e.Kind, e.Message, meta, time.Now().UTC())
	return err
}

func scanPair(row rowScanner, op string) (domain.Pair, error) {
	var p domain.Pair
	var delayMin, delayMax int64
	var subs []byte
	err := row.Scan(&p.ID, &p.UserID, &p.SessionID, &p.SourceRef, &p.DestinationRef, &p.State,
		&delayMin, &delayMax, &p.CopyMode, &p.Silent, &p.ForwardEdits, &p.ForwardDeletes,
		&p.TypeFilter, &p.Chain, &p.Serialized, &subs, &p.Watermark, &p.Stats.Forwarded,
		&p.Stats.Successful, &p.Stats.Failed, &p.Stats.Filtered, &p.Stats.LastAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Pair{}, mapErr(op, err)
	}
	if len(subs) > 0 {
		if err := json.Unmarshal(subs, &p.Substitutions); err != nil {
			return domain.Pair{}, mapErr(op, err)
		}
	}
	p.DelayMin = time.Duration(delayMin) * time.Second
	p.DelayMax = time.Duration(delayMax) * time.Second
	return p, nil
}

func collectPairs(rows interface {
	rowScanner
	Next() bool
	Err() error
}, op string) ([]domain.Pair, error) {
	var out []domain.Pair
	for rows.Next() {
		p, err := scanPair(rows, op)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
