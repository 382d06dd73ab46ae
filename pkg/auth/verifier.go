package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/engram-memory/engram/pkg/config"
)

// Verifier is the chained IdentityProvider: dev token (non-production only),
// static API keys, then JWT when a JWKS URL is configured.
type Verifier struct {
	devToken    string
	devIdentity *Identity
	staticKeys  map[string]*Identity
	jwt         *jwtVerifier
	production  bool
}

// NewVerifier builds the verifier from the auth config.
func NewVerifier(ctx context.Context, cfg *config.AuthConfig, production bool) (*Verifier, error) {
	v := &Verifier{production: production}

	if !production && cfg.DevToken != "" {
		v.devToken = cfg.DevToken
		v.devIdentity = &Identity{
			TenantID:    cfg.DevTenantID,
			PrincipalID: cfg.DevPrincipalID,
			Scopes:      []string{"memory:read", "memory:write"},
		}
		slog.Info("Dev token authentication enabled", "tenant", cfg.DevTenantID)
	}

	v.staticKeys = make(map[string]*Identity, len(cfg.StaticKeys))
	for _, k := range cfg.StaticKeys {
		v.staticKeys[k.Token] = &Identity{
			TenantID:    k.TenantID,
			PrincipalID: k.PrincipalID,
			Scopes:      k.Scopes,
		}
	}

	if cfg.JWT != nil && cfg.JWT.JWKSURL != "" {
		jv, err := newJWTVerifier(ctx, cfg.JWT)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT verifier: %w", err)
		}
		v.jwt = jv
		slog.Info("JWT authentication enabled", "issuer", cfg.JWT.Issuer)
	}

	return v, nil
}

// Verify resolves the token through the chain. Comparisons of fixed tokens
// are constant-time.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	if v.devToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(v.devToken)) == 1 {
		id := *v.devIdentity
		return &id, nil
	}

	for key, identity := range v.staticKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			id := *identity
			return &id, nil
		}
	}

	if v.jwt != nil {
		return v.jwt.Verify(ctx, token)
	}

	return nil, ErrUnauthenticated
}
