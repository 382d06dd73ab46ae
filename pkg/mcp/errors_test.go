package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/engram-memory/engram/pkg/services"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", services.NewValidationError("depth", "must be between 1 and 5"), CodeInvalidParams},
		{"tenant mismatch sentinel", services.ErrTenantMismatch, CodeTenantMismatch},
		{"tenant mismatch dispatcher", errTenantMismatch, CodeTenantMismatch},
		{"not found", services.ErrNotFound, CodeNotFound},
		{"wrapped not found", fmt.Errorf("handoff hof_x: %w", services.ErrNotFound), CodeNotFound},
		{"conflict", services.ErrConflict, CodeConflict},
		{"already exists", services.ErrAlreadyExists, CodeConflict},
		{"circular dependency", services.ErrCircularDependency, CodeCircularDependency},
		{"referential integrity", services.ErrReferentialIntegrity, CodeReferentialIntegrity},
		{"expired capsule", services.ErrExpiredCapsule, CodeExpiredCapsule},
		{"unavailable", services.ErrUnavailable, CodeTemporaryUnavailable},
		{"deadline", context.DeadlineExceeded, CodeDeadlineExceeded},
		{"unknown", errors.New("disk on fire"), CodePermanentError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := mapError(tt.err)
			assert.Equal(t, tt.code, rpcErr.Code)
			assert.NotEmpty(t, rpcErr.Message)
		})
	}
}

func TestMapErrorValidationCarriesField(t *testing.T) {
	rpcErr := mapError(services.NewValidationError("significance", "must be between 0 and 1"))
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
	data, ok := rpcErr.Data.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "significance", data["field"])
}

func TestMapErrorHidesInternalDetail(t *testing.T) {
	rpcErr := mapError(errors.New("pq: connection reset while writing row"))
	assert.Equal(t, CodePermanentError, rpcErr.Code)
	assert.Equal(t, "internal error", rpcErr.Message)
}
