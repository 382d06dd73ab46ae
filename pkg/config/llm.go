package config

import "time"

// LLMConfig configures the summarization capability used by the
// consolidation engine. Provider "none" selects the deterministic fallback;
// LLM outages never fail a consolidation run either way.
type LLMConfig struct {
	Provider   string        `yaml:"provider"`
	Host       string        `yaml:"host"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider:   "none",
		Host:       "http://localhost:11434",
		Model:      "llama3.2",
		Timeout:    60 * time.Second,
		MaxRetries: 2,
	}
}

// Validate checks the LLM section.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "ollama", "none":
		return nil
	default:
		return NewValidationError("llm", "provider", ErrInvalidValue)
	}
}
