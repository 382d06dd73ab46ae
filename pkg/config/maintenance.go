package config

import "time"

// MaintenanceConfig controls the background maintenance loop: flipping
// expired capsules, sweeping aged idempotency keys and pruning old events.
type MaintenanceConfig struct {
	// Interval is how often the maintenance loop runs.
	Interval time.Duration `yaml:"interval"`

	// IdempotencyTTL is how long replay results are kept. Duplicate op_ids
	// inside this window return the stored result without re-executing.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`

	// EventRetention is the maximum age of event rows before pruning.
	EventRetention time.Duration `yaml:"event_retention"`
}

// DefaultMaintenanceConfig returns the built-in maintenance defaults.
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		Interval:       15 * time.Minute,
		IdempotencyTTL: 24 * time.Hour,
		EventRetention: 30 * 24 * time.Hour,
	}
}

// Validate checks the maintenance section.
func (c *MaintenanceConfig) Validate() error {
	if c.Interval <= 0 {
		return NewValidationError("maintenance", "interval", ErrInvalidValue)
	}
	if c.IdempotencyTTL < 24*time.Hour {
		return NewValidationError("maintenance", "idempotency_ttl", ErrIdempotencyTTLTooShort)
	}
	return nil
}
