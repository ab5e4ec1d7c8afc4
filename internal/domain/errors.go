package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer. Callers match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	// ErrTransient marks store timeouts and outages; the whole operation is safe to retry.
	ErrTransient = errors.New("transient failure")
	// ErrVersionConflict is returned by MovieStore.Save when the stored version moved on.
	ErrVersionConflict = errors.New("aggregate version conflict")
)

// StoreError wraps a failed store call as Transient unless it already carries
// one of the domain kinds.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrTransient),
		errors.Is(err, ErrVersionConflict):
		return fmt.Errorf("%s: %w", op, err)
	default:
		// Includes context.DeadlineExceeded from store timeouts.
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
}
