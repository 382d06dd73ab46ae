package config

import (
	"fmt"
	"time"
)

// ServerConfig holds the HTTP listener settings for the MCP dispatcher.
type ServerConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// RequestDeadline bounds every MCP call; in-flight store, embedding and
	// LLM work is cancelled when it elapses.
	RequestDeadline time.Duration `yaml:"request_deadline"`

	// ShutdownTimeout is the grace period for draining requests on stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8920,
		RequestDeadline: 30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the server section.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, c.Port))
	}
	if c.RequestDeadline <= 0 {
		return NewValidationError("server", "request_deadline", ErrInvalidValue)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
