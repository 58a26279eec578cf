package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested automation does not exist.
var ErrNotFound = errors.New("automation not found")

// ValidationError reports a malformed trigger or action payload.
// Field is a dotted path such as "trigger_config.time".
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
