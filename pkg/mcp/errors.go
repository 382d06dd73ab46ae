package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/engram-memory/engram/pkg/services"
)

// errTenantMismatch is raised by the dispatcher when a payload tenant_id
// conflicts with the authenticated tenant.
var errTenantMismatch = errors.New("payload tenant_id does not match authenticated tenant")

// mapError converts a service error into the JSON-RPC error taxonomy. This
// is the single place the mapping lives; handlers just return errors.
func mapError(err error) *RPCError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return &RPCError{
			Code:    CodeInvalidParams,
			Message: validErr.Message,
			Data:    map[string]any{"field": validErr.Field},
		}
	}

	switch {
	case errors.Is(err, errTenantMismatch), errors.Is(err, services.ErrTenantMismatch):
		return &RPCError{Code: CodeTenantMismatch, Message: "tenant mismatch"}
	case errors.Is(err, services.ErrNotFound):
		return &RPCError{Code: CodeNotFound, Message: "not found"}
	case errors.Is(err, services.ErrCircularDependency):
		return &RPCError{Code: CodeCircularDependency, Message: "circular dependency"}
	case errors.Is(err, services.ErrReferentialIntegrity):
		return &RPCError{Code: CodeReferentialIntegrity, Message: "node is referenced by edges"}
	case errors.Is(err, services.ErrExpiredCapsule):
		return &RPCError{Code: CodeExpiredCapsule, Message: "capsule expired"}
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrAlreadyExists):
		return &RPCError{Code: CodeConflict, Message: "conflicting state"}
	case errors.Is(err, services.ErrUnavailable):
		return &RPCError{Code: CodeTemporaryUnavailable, Message: "temporarily unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return &RPCError{Code: CodeDeadlineExceeded, Message: "deadline exceeded"}
	default:
		// Unexpected: log with detail, surface a safe message.
		slog.Error("Unexpected tool error", "error", err)
		return &RPCError{Code: CodePermanentError, Message: "internal error"}
	}
}
