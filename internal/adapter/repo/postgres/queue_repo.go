package postgres

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

const queueCols = `id, pair_id, kind, source_message_id, source_ref, destination_ref, payload,
	scheduled_at, status, attempts, COALESCE(last_error,''), created_at, processed_at`

// QueueRepo is the durable delivery queue backed by forwarding_queue.
// Claiming relies on FOR UPDATE SKIP LOCKED so concurrent workers never
// receive the same item.
type QueueRepo struct{ Pool PgxPool }

// NewQueueRepo constructs a QueueRepo with the given pool.
func NewQueueRepo(p PgxPool) *QueueRepo { return &QueueRepo{Pool: p} }

// Enqueue inserts a pending item. A partial unique index on
// (pair_id, source_message_id) over non-terminal statuses makes re-enqueueing
// a no-op: the existing item's id is returned instead.
func (r *QueueRepo) Enqueue(ctx domain.Context, it domain.QueueItem) (string, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "forwarding_queue"))

	id := it.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return "", mapErr("queue.enqueue.marshal", err)
	}
	kind := it.Kind
	if kind == "" {
		kind = domain.EventNew
	}
	q := `INSERT INTO forwarding_queue (id, pair_id, kind, source_message_id, source_ref, destination_ref, payload, scheduled_at, status, attempts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',0,$9)
		ON CONFLICT (pair_id, source_message_id) WHERE status IN ('pending','processing') DO NOTHING
		RETURNING id`
	var inserted string
	err = r.Pool.QueryRow(ctx, q, id, it.PairID, kind, it.SourceMessageID, it.SourceRef, it.DestinationRef, payload, it.ScheduledAt.UTC(), time.Now().UTC()).Scan(&inserted)
	if err == nil {
		return inserted, nil
	}
	if err != pgx.ErrNoRows {
		return "", mapErr("queue.enqueue", err)
	}
	// Conflict path: hand back the live item's id.
	var existing string
	err = r.Pool.QueryRow(ctx, `SELECT id FROM forwarding_queue WHERE pair_id=$1 AND source_message_id=$2 AND status IN ('pending','processing') LIMIT 1`, it.PairID, it.SourceMessageID).Scan(&existing)
	if err != nil {
		return "", mapErr("queue.enqueue.existing", err)
	}
	return existing, nil
}

// ClaimDue atomically moves up to limit due pending items into processing and
// returns them ordered by scheduled_at. Items whose pair is not active are
// skipped. SKIP LOCKED keeps concurrent claimers from colliding.
func (r *QueueRepo) ClaimDue(ctx domain.Context, now time.Time, limit int) ([]domain.QueueItem, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.ClaimDue")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "forwarding_queue"))

	q := `UPDATE forwarding_queue q SET status='processing'
		WHERE q.id IN (
			SELECT fq.id FROM forwarding_queue fq
			JOIN forwarding_pairs p ON p.id = fq.pair_id
			WHERE fq.status='pending' AND fq.scheduled_at <= $1 AND p.state='active'
			ORDER BY fq.scheduled_at
			LIMIT $2
			FOR UPDATE OF fq SKIP LOCKED
		)
		RETURNING q.id, q.pair_id, q.kind, q.source_message_id, q.source_ref, q.destination_ref, q.payload,
			q.scheduled_at, q.status, q.attempts, COALESCE(q.last_error,''), q.created_at, q.processed_at`
	rows, err := r.Pool.Query(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, mapErr("queue.claim_due", err)
	}
	defer rows.Close()
	items, err := collectItems(rows, "queue.claim_due")
	if err != nil {
		return nil, err
	}
	// The RETURNING order is unspecified; dispatch order is per scheduled_at.
	sortItemsBySchedule(items)
	return items, nil
}

// Complete marks a processing item delivered.
func (r *QueueRepo) Complete(ctx domain.Context, id string, at time.Time) error {
	q := `UPDATE forwarding_queue SET status='completed', processed_at=$2 WHERE id=$1 AND status='processing'`
	tag, err := r.Pool.Exec(ctx, q, id, at.UTC())
	if err != nil {
		return mapErr("queue.complete", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("queue.complete", domain.ErrNotFound)
	}
	return nil
}

// Fail terminally fails a processing item.
func (r *QueueRepo) Fail(ctx domain.Context, id, lastError string, at time.Time) error {
	q := `UPDATE forwarding_queue SET status='failed', last_error=$2, processed_at=$3 WHERE id=$1 AND status='processing'`
	tag, err := r.Pool.Exec(ctx, q, id, lastError, at.UTC())
	if err != nil {
		return mapErr("queue.fail", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("queue.fail", domain.ErrNotFound)
	}
	return nil
}

// Retry returns a processing item to pending at nextAt. Rate-limit retries
// pass countAttempt=false so they never consume an attempt.
func (r *QueueRepo) Retry(ctx domain.Context, id, lastError string, nextAt time.Time, countAttempt bool) error {
	inc := 0
	if countAttempt {
		inc = 1
	}
	q := `UPDATE forwarding_queue SET status='pending', last_error=$2, scheduled_at=$3, attempts=attempts+$4 WHERE id=$1 AND status='processing'`
	tag, err := r.Pool.Exec(ctx, q, id, lastError, nextAt.UTC(), inc)
	if err != nil {
		return mapErr("queue.retry", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("queue.retry", domain.ErrNotFound)
	}
	return nil
}

// Release rolls a processing item back to pending, keeping its original
// scheduled_at. Used when a worker observes cancellation mid-flight.
func (r *QueueRepo) Release(ctx domain.Context, id string) error {
	q := `UPDATE forwarding_queue SET status='pending' WHERE id=$1 AND status='processing'`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return mapErr("queue.release", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr("queue.release", domain.ErrNotFound)
	}
	return nil
}

// ReleaseAllProcessing releases every processing item; run at shutdown and at
// startup to recover items stranded by a crash.
func (r *QueueRepo) ReleaseAllProcessing(ctx domain.Context) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `UPDATE forwarding_queue SET status='pending' WHERE status='processing'`)
	if err != nil {
		return 0, mapErr("queue.release_all", err)
	}
	return tag.RowsAffected(), nil
}

// ClearFailed transitions all failed items to cleared, preserving the audit
// trail, and returns the count.
func (r *QueueRepo) ClearFailed(ctx domain.Context) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `UPDATE forwarding_queue SET status='cleared' WHERE status='failed'`)
	if err != nil {
		return 0, mapErr("queue.clear_failed", err)
	}
	return tag.RowsAffected(), nil
}

// StatsByStatus returns item counts keyed by status.
func (r *QueueRepo) StatsByStatus(ctx domain.Context) (map[string]int, error) {
	rows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM forwarding_queue GROUP BY status`)
	if err != nil {
		return nil, mapErr("queue.stats_by_status", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, mapErr("queue.stats_by_status", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ListFailedByPair returns recent failed items for the pair detail view.
func (r *QueueRepo) ListFailedByPair(ctx domain.Context, pairID string, limit int) ([]domain.QueueItem, error) {
	q := `SELECT ` + queueCols + ` FROM forwarding_queue WHERE pair_id=$1 AND status='failed' ORDER BY processed_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, pairID, limit)
	if err != nil {
		return nil, mapErr("queue.list_failed_by_pair", err)
	}
	defer rows.Close()
	return collectItems(rows, "queue.list_failed_by_pair")
}

func scanItem(row rowScanner, op string) (domain.QueueItem, error) {
	var it domain.QueueItem
	var payload []byte
	err := row.Scan(&it.ID, &it.PairID, &it.Kind, &it.SourceMessageID, &it.SourceRef, &it.DestinationRef,
		&payload, &it.ScheduledAt, &it.Status, &it.Attempts, &it.LastError, &it.CreatedAt, &it.ProcessedAt)
	if err != nil {
		return domain.QueueItem{}, mapErr(op, err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &it.Payload); err != nil {
			return domain.QueueItem{}, mapErr(op, err)
		}
	}
	return it, nil
}

func collectItems(rows interface {
	rowScanner
	Next() bool
	Err() error
}, op string) ([]domain.QueueItem, error) {
	var out []domain.QueueItem
	for rows.Next() {
		it, err := scanItem(rows, op)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func sortItemsBySchedule(items []domain.QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ScheduledAt.Before(items[j].ScheduledAt)
	})
}
