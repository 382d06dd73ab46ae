package config

import (
	"time"
)

// EmbeddingConfig configures the embedding capability. Provider "ollama"
// talks to an Ollama-compatible /api/embeddings endpoint; provider "none"
// uses the deterministic local fallback (tests, air-gapped deployments).
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Host     string `yaml:"host"`
	Model    string `yaml:"model"`

	// Dimension is the pinned vector width. Changing it after data exists is
	// a breaking operation; the store refuses to start on a mismatch.
	Dimension int `yaml:"dimension"`

	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`

	// Workers bounds concurrent embed calls; QueueSize bounds the async
	// write-path backlog.
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// BatchSize caps one batch request.
	BatchSize int `yaml:"batch_size"`
}

// DefaultEmbeddingConfig returns the built-in embedding defaults.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Provider:   "ollama",
		Host:       "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimension:  768,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		Workers:    8,
		QueueSize:  256,
		BatchSize:  32,
	}
}

// Validate checks the embedding section.
func (c *EmbeddingConfig) Validate() error {
	switch c.Provider {
	case "ollama", "none":
	default:
		return NewValidationError("embedding", "provider", ErrInvalidValue)
	}
	if c.Dimension <= 0 {
		return NewValidationError("embedding", "dimension", ErrInvalidValue)
	}
	if c.Workers <= 0 {
		return NewValidationError("embedding", "workers", ErrInvalidValue)
	}
	if c.QueueSize <= 0 {
		return NewValidationError("embedding", "queue_size", ErrInvalidValue)
	}
	return nil
}
