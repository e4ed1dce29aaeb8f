package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the webhook signature does not verify
	ErrUnauthorized = errors.New("signature verification failed")

	// ErrUnresolvedReference is returned when an event points at a record
	// that does not exist locally
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrNotFound is returned when a status change targets an unknown profile
	ErrNotFound = errors.New("not found")
)

// PersistenceError wraps a storage failure. The source is expected to
// redeliver the notification.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
