package config

// StaticKeyConfig maps one opaque API key to a tenant identity.
type StaticKeyConfig struct {
	Token       string   `yaml:"token"`
	TenantID    string   `yaml:"tenant_id"`
	PrincipalID string   `yaml:"principal_id"`
	Scopes      []string `yaml:"scopes"`
}

// JWTConfig configures JWKS-based bearer token verification.
type JWTConfig struct {
	// JWKSURL is the provider's key-set endpoint; keys are cached and
	// refreshed automatically.
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// AuthConfig configures how bearer tokens resolve to a tenant identity.
// Verification tries, in order: the dev token (non-production only), static
// keys, then JWT when configured.
type AuthConfig struct {
	// DevToken authenticates to the "default" tenant. Ignored in production.
	DevToken string `yaml:"dev_token"`

	// DevTenantID is the tenant the dev token maps to.
	DevTenantID string `yaml:"dev_tenant_id"`

	// DevPrincipalID is the principal the dev token maps to.
	DevPrincipalID string `yaml:"dev_principal_id"`

	// StaticKeys are fixed API keys, mainly for tests and small deployments.
	StaticKeys []StaticKeyConfig `yaml:"static_keys"`

	// JWT enables JWKS verification when jwks_url is set.
	JWT *JWTConfig `yaml:"jwt"`
}

// DefaultAuthConfig returns the built-in auth defaults.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		DevToken:       "test-mcp-token",
		DevTenantID:    "default",
		DevPrincipalID: "dev",
	}
}

// Validate checks the auth section. In production at least one real
// verification path must be configured.
func (c *AuthConfig) Validate(production bool) error {
	if production && len(c.StaticKeys) == 0 && (c.JWT == nil || c.JWT.JWKSURL == "") {
		return NewValidationError("auth", "", ErrNoProductionVerifier)
	}
	for i, k := range c.StaticKeys {
		if k.Token == "" || k.TenantID == "" {
			return NewValidationError("auth", "static_keys", errIndexed(i, ErrMissingRequiredField))
		}
	}
	return nil
}
