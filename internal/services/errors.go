package services

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/store"

	"github.com/lib/pq"
)

// Error kinds surfaced at the caller boundary. Callers match with errors.Is.
var (
	// ErrNotFound: the entity does not exist or does not belong to the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the operation is blocked by current state (dependent rows,
	// name collision); the caller must resolve it, retrying will not help.
	ErrConflict = errors.New("conflict")
	// ErrValidation: malformed input, rejected before any store mutation.
	ErrValidation = errors.New("invalid input")
	// ErrStoreUnavailable: transient store failure; the whole atomic unit was
	// rolled back and the operation may be retried.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapStoreErr translates store-level failures into the boundary taxonomy.
// Serialization failures stay reachable through errors.As so the transaction
// runner can still retry them.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
