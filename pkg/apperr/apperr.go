// Package apperr holds the error kinds shared by services and handlers.
//
// Services wrap a kind with the text shown to the user:
//
//	return fmt.Errorf("%w: group is full", apperr.ErrConflict)
//
// Handlers match the kind with errors.Is and display Message(err).
package apperr

import (
	"errors"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("backend unavailable")
)

var kinds = []error{ErrNotFound, ErrForbidden, ErrConflict, ErrValidation, ErrUnavailable}

// Kind returns the sentinel wrapped by err, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message strips the "<kind>: " prefix added when wrapping a sentinel.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if k := Kind(err); k != nil {
		prefix := k.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
