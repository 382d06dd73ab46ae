// Package auth resolves bearer tokens to a tenant identity. The core treats
// token issuance as an external concern; this package is the verify side
// only: dev token, static API keys, then JWT (JWKS) when configured.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned for any token that no verifier accepts.
// The message is deliberately uniform: callers learn nothing about which
// stage rejected the token.
var ErrUnauthenticated = errors.New("invalid or missing bearer token")

// Identity is the authenticated caller: the tenant every row access is
// scoped to, the principal acting inside it, and the granted scopes.
type Identity struct {
	TenantID    string   `json:"tenant_id"`
	PrincipalID string   `json:"principal_id"`
	Scopes      []string `json:"scopes,omitempty"`
}

// HasScope reports whether the identity carries the scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Provider verifies one bearer token.
type Provider interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}
