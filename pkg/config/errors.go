package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrMissingRequiredField indicates a required field is missing
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field has an invalid value
	ErrInvalidValue = errors.New("invalid field value")

	// ErrThresholdOrder indicates compression thresholds are not strictly
	// increasing (summary < quick_ref < integration)
	ErrThresholdOrder = errors.New("compression thresholds must be strictly increasing")

	// ErrIdempotencyTTLTooShort indicates the replay window is below the
	// required 24h minimum
	ErrIdempotencyTTLTooShort = errors.New("idempotency_ttl must be at least 24h")

	// ErrNoProductionVerifier indicates production mode without any real
	// token verification path configured
	ErrNoProductionVerifier = errors.New("production requires static_keys or jwt auth")
)

// ValidationError wraps configuration validation errors with section context
type ValidationError struct {
	Section string // Configuration section (server, auth, embedding, ...)
	Field   string // Field name (optional)
	Err     error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: field '%s': %v", e.Section, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Section, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(section, field string, err error) *ValidationError {
	return &ValidationError{Section: section, Field: field, Err: err}
}

// LoadError wraps configuration loading errors with file context
type LoadError struct {
	File string
	Err  error
}

// Error returns formatted error message
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func errIndexed(i int, err error) error {
	return fmt.Errorf("entry %d: %w", i, err)
}
