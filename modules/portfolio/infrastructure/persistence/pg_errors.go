package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/composables"
)

// mapPgError folds driver errors into the master's error kinds. Master errors
// and anything unrecognized pass through unchanged.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var be *bitemporal.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return bitemporal.StorageTimeout("STORAGE_TIMEOUT", err)
	}
	if errors.Is(err, composables.ErrNoTx) || errors.Is(err, composables.ErrNoPool) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return bitemporal.ConcurrentModification("STORAGE_SERIALIZATION_FAILURE", "concurrent write detected; retry against the latest version", err)
	case "40P01": // deadlock_detected
		return bitemporal.ConcurrentModification("STORAGE_DEADLOCK", "concurrent write deadlocked; retry against the latest version", err)
	case "23505": // unique_violation
		return bitemporal.ConcurrentModification("STORAGE_UNIQUE_VIOLATION", "row was written concurrently: "+pgErr.ConstraintName, err)
	case "57014", "55P03": // query_canceled, lock_not_available
		return bitemporal.StorageTimeout("STORAGE_TIMEOUT", err)
	}
	return err
}
