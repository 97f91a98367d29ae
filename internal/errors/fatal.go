package errors

import (
	stdErrors "errors"
	"fmt"
)

// FatalError represents an error that should abort the whole run instead of
// being recorded against a single book or file. Examples: the library cannot
// be reached, the state file is corrupt, a required external tool is missing.
type FatalError struct {
	Op   string // operation that failed, e.g. "list books"
	Hint string // optional remediation hint shown to the user
	Err  error
}

func (e *FatalError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Hint)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as a run-aborting error.
func NewFatalError(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}

// NewFatalErrorHint wraps err as a run-aborting error with a remediation hint.
func NewFatalErrorHint(op, hint string, err error) *FatalError {
	return &FatalError{Op: op, Hint: hint, Err: err}
}

// IsFatal reports whether err is a FatalError (even when wrapped).
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return stdErrors.As(err, &fatalErr)
}
