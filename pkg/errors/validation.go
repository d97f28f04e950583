package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// FieldError describes a validation failure scoped to a single field,
// so API consumers can highlight the offending input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level validation failures. A payload
// that produces one of these is rejected before it reaches the engine.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StatusCode returns the HTTP status for validation failures.
func (e *ValidationError) StatusCode() int {
	return http.StatusUnprocessableEntity
}

// Add appends a field-scoped failure.
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// HasErrors reports whether any field failed validation.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns the error if it carries failures, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
