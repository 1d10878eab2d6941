package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunil55999/autoforwardx/internal/adapter/repo/postgres"
	"github.com/sunil55999/autoforwardx/internal/domain"
)

func TestPairRepo_Create_TxWithActivity(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewPairRepo(m)

	m.ExpectBeginTx(pgx.TxOptions{})
	m.ExpectQuery(`SELECT active FROM telegram_sessions WHERE id=\$1 AND user_id=\$2`).
		WithArgs("s1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(true))
	m.ExpectExec(`INSERT INTO forwarding_pairs`).
		WithArgs(pgxmock.AnyArg(), "u1", "s1", "src", "dst", domain.PairActive, 0, 60,
			false, false, false, false, domain.FilterAll, false, false,
			pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec(`INSERT INTO activity_logs`).
		WithArgs(pgxmock.AnyArg(), "u1", pgxmock.AnyArg(), pgxmock.AnyArg(),
			domain.ActivityPairCreated, "forwarding pair created", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectCommit()

	p, err := repo.Create(context.Background(), domain.Pair{
		UserID:         "u1",
		SessionID:      "s1",
		SourceRef:      "src",
		DestinationRef: "dst",
		DelayMax:       time.Minute,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.PairActive, p.State)
	assert.Equal(t, domain.FilterAll, p.TypeFilter)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestPairRepo_Create_SessionOwnershipEnforced(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewPairRepo(m)

	m.ExpectBeginTx(pgx.TxOptions{})
	m.ExpectQuery(`SELECT active FROM telegram_sessions`).
		WithArgs("s-other", "u1").
		WillReturnError(pgx.ErrNoRows)
	m.ExpectRollback()

	_, err = repo.Create(context.Background(), domain.Pair{UserID: "u1", SessionID: "s-other"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestPairRepo_Create_InactiveSessionRejected(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewPairRepo(m)

	m.ExpectBeginTx(pgx.TxOptions{})
	m.ExpectQuery(`SELECT active FROM telegram_sessions`).
		WithArgs("s1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(false))
	m.ExpectRollback()

	_, err = repo.Create(context.Background(), domain.Pair{UserID: "u1", SessionID: "s1", State: domain.PairActive})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestPairRepo_Delete_ClearsQueueInSameTx(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewPairRepo(m)

	m.ExpectBeginTx(pgx.TxOptions{})
	m.ExpectQuery(`SELECT user_id FROM forwarding_pairs WHERE id=\$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("u1"))
	m.ExpectExec(`UPDATE forwarding_queue SET status='cleared' WHERE pair_id=\$1 AND status IN \('pending','processing'\)`).
		WithArgs("p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	m.ExpectExec(`DELETE FROM forwarding_pairs WHERE id=\$1`).
		WithArgs("p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	m.ExpectExec(`INSERT INTO activity_logs`).
		WithArgs(pgxmock.AnyArg(), "u1", pgxmock.AnyArg(), pgxmock.AnyArg(),
			domain.ActivityPairDeleted, "forwarding pair deleted", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "p1"))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestPairRepo_IncrStats(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewPairRepo(m)

	now := time.Now()
	m.ExpectExec(`UPDATE forwarding_pairs SET forwarded=forwarded\+\$2`).
		WithArgs("p1", int64(1), int64(1), int64(0), int64(0), &now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.IncrStats(context.Background(), "p1", domain.StatsDelta{Forwarded: 1, Successful: 1, LastAt: &now}))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestPairRepo_UpdateState_NotFound(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewPairRepo(m)

	m.ExpectExec(`UPDATE forwarding_pairs SET state=\$2`).
		WithArgs("missing", domain.PairPaused, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.UpdateState(context.Background(), "missing", domain.PairPaused)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, m.ExpectationsWereMet())
}
