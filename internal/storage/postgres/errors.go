package postgres

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// classify maps transaction aborts that a retry could resolve onto
// apperr.ErrConflict. Other errors are returned unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
		}
	}
	return err
}
