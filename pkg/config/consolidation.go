package config

import "time"

// ConsolidationConfig controls the scheduled memory-consolidation engine:
// when it runs, how old a handoff must be before each compression step, and
// how identity clustering decides that becoming statements belong together.
type ConsolidationConfig struct {
	// Cron expressions for the three tick granularities. The daily tick runs
	// compression steps 1-2, the weekly tick adds identity consolidation and
	// decision archival, the monthly tick adds integration.
	DailySchedule   string `yaml:"daily_schedule"`
	WeeklySchedule  string `yaml:"weekly_schedule"`
	MonthlySchedule string `yaml:"monthly_schedule"`

	// Compression age thresholds.
	SummaryThresholdDays     int `yaml:"summary_threshold_days"`
	QuickRefThresholdDays    int `yaml:"quick_ref_threshold_days"`
	IntegrationThresholdDays int `yaml:"integration_threshold_days"`

	// Identity clustering.
	IdentityMinClusterSize int     `yaml:"identity_min_cluster_size"`
	IdentityCosineMin      float64 `yaml:"identity_cosine_min"`
	IdentityKeywordOverlap float64 `yaml:"identity_keyword_overlap"`
	IdentityJaccardMin     float64 `yaml:"identity_jaccard_min"`

	// Decision archival.
	DecisionArchiveThresholdDays int `yaml:"decision_archive_threshold_days"`

	// StaleJobTimeout marks a running job failed when it exceeds this age,
	// letting a fresh job take over.
	StaleJobTimeout time.Duration `yaml:"stale_job_timeout"`

	// SummaryTargetTokens and QuickRefTargetTokens size the derived texts.
	SummaryTargetTokens  int `yaml:"summary_target_tokens"`
	QuickRefTargetTokens int `yaml:"quick_ref_target_tokens"`
}

// DefaultConsolidationConfig returns the built-in consolidation defaults.
func DefaultConsolidationConfig() *ConsolidationConfig {
	return &ConsolidationConfig{
		DailySchedule:                "0 3 * * *",
		WeeklySchedule:               "0 4 * * 0",
		MonthlySchedule:              "0 5 1 * *",
		SummaryThresholdDays:         30,
		QuickRefThresholdDays:        90,
		IntegrationThresholdDays:     180,
		IdentityMinClusterSize:       10,
		IdentityCosineMin:            0.82,
		IdentityKeywordOverlap:       0.30,
		IdentityJaccardMin:           0.40,
		DecisionArchiveThresholdDays: 60,
		StaleJobTimeout:              1 * time.Hour,
		SummaryTargetTokens:          500,
		QuickRefTargetTokens:         100,
	}
}

// Validate checks the consolidation section. Thresholds must be ordered so a
// handoff can only move forward through the levels.
func (c *ConsolidationConfig) Validate() error {
	if c.SummaryThresholdDays <= 0 {
		return NewValidationError("consolidation", "summary_threshold_days", ErrInvalidValue)
	}
	if c.QuickRefThresholdDays <= c.SummaryThresholdDays {
		return NewValidationError("consolidation", "quick_ref_threshold_days", ErrThresholdOrder)
	}
	if c.IntegrationThresholdDays <= c.QuickRefThresholdDays {
		return NewValidationError("consolidation", "integration_threshold_days", ErrThresholdOrder)
	}
	if c.IdentityMinClusterSize < 2 {
		return NewValidationError("consolidation", "identity_min_cluster_size", ErrInvalidValue)
	}
	if c.IdentityCosineMin <= 0 || c.IdentityCosineMin > 1 {
		return NewValidationError("consolidation", "identity_cosine_min", ErrInvalidValue)
	}
	if c.StaleJobTimeout <= 0 {
		return NewValidationError("consolidation", "stale_job_timeout", ErrInvalidValue)
	}
	return nil
}
