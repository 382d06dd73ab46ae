package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/engram-memory/engram/pkg/config"
)

// jwtVerifier validates bearer JWTs against a cached JWKS. The tenant comes
// from the "tenant_id" claim; the principal is the subject.
type jwtVerifier struct {
	cache    *jwk.Cache
	jwksURL  string
	issuer   string
	audience string
}

func newJWTVerifier(ctx context.Context, cfg *config.JWTConfig) (*jwtVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS endpoint: %w", err)
	}
	// Prime the cache so a broken endpoint fails startup, not the first call.
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}
	return &jwtVerifier{
		cache:    cache,
		jwksURL:  cfg.JWKSURL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

func (v *jwtVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}

	opts := []jwt.ParseOption{jwt.WithKeySet(keySet), jwt.WithValidate(true)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	tenantID, _ := parsed.PrivateClaims()["tenant_id"].(string)
	if tenantID == "" {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		TenantID:    tenantID,
		PrincipalID: parsed.Subject(),
		Scopes:      claimScopes(parsed.PrivateClaims()),
	}, nil
}

// claimScopes accepts either an OAuth-style space-separated "scope" string
// or a "scopes" array.
func claimScopes(claims map[string]any) []string {
	if raw, ok := claims["scopes"].([]any); ok {
		scopes := make([]string, 0, len(raw))
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	}
	if raw, ok := claims["scope"].(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return nil
}
