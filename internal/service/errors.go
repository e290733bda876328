package service

import (
	"errors"
	"fmt"
)

// ErrConflict marks a store failure caused by a concurrent transaction
// (serialization failure, deadlock, busy database, duplicate insert). The
// whole Resolve call can be retried from scratch.
var ErrConflict = errors.New("concurrent update conflict")

// InvalidInputError is returned when neither email nor phone number is given.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// DataIntegrityError reports persisted state that violates the contact
// hierarchy. It is never repaired automatically.
type DataIntegrityError struct {
	ContactID int64
	Reason    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation at contact %d: %s", e.ContactID, e.Reason)
}

// StoreError wraps a failure of the contact store. Nothing was committed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the whole call may succeed.
func (e *StoreError) Retryable() bool {
	return errors.Is(e.Err, ErrConflict)
}

// IsRetryable reports whether err is a StoreError worth retrying.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Retryable()
}

// classify keeps taxonomy errors as they are and wraps everything else as a
// StoreError.
func classify(op string, err error) error {
	var (
		invalid   *InvalidInputError
		integrity *DataIntegrityError
		store     *StoreError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &invalid), errors.As(err, &integrity), errors.As(err, &store):
		return err
	default:
		return &StoreError{Op: op, Err: err}
	}
}
