package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// Postgres error codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// mapErr wraps a driver error with the operation name and translates the
// well-known cases into domain sentinels.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("op=%s: %w", op, domain.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("op=%s: %w", op, domain.ErrInvalidArgument)
		}
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("op=%s: %w", op, domain.ErrUnavailable)
	}
	return fmt.Errorf("op=%s: %w", op, err)
}
