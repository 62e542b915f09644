package api

import (
	"errors"
	"strings"
)

// ErrInstanceNotFound is returned by any status or control operation
// addressing an unknown instance id. Unknown ids are never silently
// created.
var ErrInstanceNotFound = errors.New("workflow instance not found")

// ValidationError rejects a malformed start input before any instance
// is created.
type ValidationError struct {
	Message    string
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Violations, "; ")
}

// NewValidationError builds a ValidationError with optional per-field
// violation messages.
func NewValidationError(message string, violations ...string) *ValidationError {
	return &ValidationError{Message: message, Violations: violations}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
