package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflict is returned when a lifecycle transition or permission check
	// fails against the entity's current state
	ErrConflict = errors.New("conflicting state")

	// ErrExpiredCapsule is returned for writes against a capsule past its TTL
	ErrExpiredCapsule = errors.New("capsule expired")

	// ErrCircularDependency is returned when an edge would close a depends_on cycle
	ErrCircularDependency = errors.New("circular dependency")

	// ErrReferentialIntegrity is returned when deleting a node that edges still reference
	ErrReferentialIntegrity = errors.New("node is referenced by edges")

	// ErrTenantMismatch is returned when a request addresses data outside the
	// caller's tenant
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrUnavailable is returned when a required backend is temporarily unreachable
	ErrUnavailable = errors.New("temporarily unavailable")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
