package errors

import (
	stdErrors "errors"
	"fmt"
)

// NotFoundError indicates that a metadata lookup completed but found nothing.
// Distinct from a failed lookup so callers can cache the miss.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no metadata found for %s", e.Query)
}

// NewNotFoundError creates a NotFoundError for the given lookup query.
func NewNotFoundError(query string) *NotFoundError {
	return &NotFoundError{Query: query}
}

// IsNotFound reports whether err is a NotFoundError (even when wrapped).
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return stdErrors.As(err, &notFoundErr)
}
