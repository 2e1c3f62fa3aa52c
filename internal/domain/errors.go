package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by the batch lifecycle. Callers match them with
// errors.Is; the concrete value is usually a *BatchError.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrState      = errors.New("invalid state")

	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
)

// BatchError describes a rejected lifecycle operation.
type BatchError struct {
	Op      string  // "start", "publish", "complete", "cancel"
	BatchID BatchID // empty when the operation did not name a batch
	Kind    error   // one of ErrValidation, ErrConflict, ErrNotFound, ErrState
	Msg     string
}

func (e *BatchError) Error() string {
	if e.BatchID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s batch %s: %s", e.Op, e.BatchID, e.Msg)
}

func (e *BatchError) Unwrap() error {
	return e.Kind
}

// Is reports a missing active batch as a state error as well as a not-found
// error.
func (e *BatchError) Is(target error) bool {
	return target == ErrState && e.Kind == ErrNotFound
}

// NewBatchError builds a BatchError of the given kind.
func NewBatchError(op string, id BatchID, kind error, msg string) *BatchError {
	return &BatchError{Op: op, BatchID: id, Kind: kind, Msg: msg}
}

// IsRetriable reports whether the caller may retry the same call later.
// Only a conflict on the active-batch slot clears up on its own; every other
// kind is a programmer error or a batch that was already closed.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConflict)
}
