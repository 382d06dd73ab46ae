package config

// Config is the umbrella configuration object returned by Initialize() and
// threaded through the application. Every section has built-in defaults;
// engram.yaml overrides them and a handful of environment variables override
// the file (see applyEnvOverrides).
type Config struct {
	configDir string

	// Environment is the deployment environment name ("development",
	// "production", ...). The dev bearer token is only honored when this is
	// not "production".
	Environment string

	Server        *ServerConfig
	Auth          *AuthConfig
	Embedding     *EmbeddingConfig
	LLM           *LLMConfig
	Consolidation *ConsolidationConfig
	Maintenance   *MaintenanceConfig
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// IsProduction reports whether the server runs with production hardening
// (no dev token).
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(c.IsProduction()); err != nil {
		return err
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Consolidation.Validate(); err != nil {
		return err
	}
	return c.Maintenance.Validate()
}
