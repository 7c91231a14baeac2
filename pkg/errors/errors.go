package errors

import "errors"

// Sentinels shared by the store, the services and the HTTP layer.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrInvalidState = errors.New("invalid campaign state")
	ErrLockHeld     = errors.New("sweep lock held by another process")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap prefixes err with message while keeping it matchable with Is.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
