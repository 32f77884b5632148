package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the lifecycle API wraps exactly one
// of these so transports can map it to a stable response.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrTransient  = errors.New("transient store error")
)

var (
	ErrJobNotFound    = fmt.Errorf("job %w", ErrNotFound)
	ErrWorkerNotFound = fmt.Errorf("worker %w", ErrNotFound)
	ErrResultNotFound = fmt.Errorf("result %w", ErrNotFound)

	ErrAlreadyAssigned   = fmt.Errorf("job already assigned: %w", ErrConflict)
	ErrWorkerUnavailable = fmt.Errorf("worker unavailable: %w", ErrConflict)
	ErrJobTerminal       = fmt.Errorf("job in terminal state: %w", ErrConflict)
	ErrNotAssignee       = fmt.Errorf("worker does not hold job: %w", ErrConflict)
	ErrStatusMismatch    = fmt.Errorf("status changed concurrently: %w", ErrConflict)
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Transient wraps a durable-write failure.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

const (
	KindValidation = "validation_error"
	KindNotFound   = "not_found"
	KindConflict   = "conflict"
	KindTransient  = "transient"
	KindInternal   = "internal"
)

// ErrorKind returns the stable kind name of err.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}
