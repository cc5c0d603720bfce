// Package apperr defines the error kinds shared across curator components.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyExists    = errors.New("already exists")
	ErrDuplicatePending = errors.New("duplicate pending decision")
)

// MissingRequiredFieldError reports a required frontmatter field that is
// still absent after schema defaults have been applied.
type MissingRequiredFieldError struct {
	EntityType string
	Field      string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("entity type %s: missing required field %q", e.EntityType, e.Field)
}

// InvalidFieldValueError reports a frontmatter field whose value is outside
// the enum the schema declares for it.
type InvalidFieldValueError struct {
	EntityType string
	Field      string
	Value      any
}

func (e *InvalidFieldValueError) Error() string {
	return fmt.Sprintf("entity type %s: field %q value %v not in allowed set", e.EntityType, e.Field, e.Value)
}

// SchemaParseError reports a schema file that exists but cannot be parsed.
// Validation is meaningless without a schema, so this aborts the run.
type SchemaParseError struct {
	Path string
	Err  error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Path, e.Err)
}

func (e *SchemaParseError) Unwrap() error { return e.Err }

// AnalyzerError reports a failure of the external analyzer capability.
// Finding creation aborts for the phase; watermark progress already computed
// is still persisted, so the phase is safely retryable.
type AnalyzerError struct {
	Phase string
	Err   error
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("analyzer (%s phase): %v", e.Phase, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }
