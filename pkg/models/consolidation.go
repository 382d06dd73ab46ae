package models

import "time"

// ConsolidationJob tracks one run of a consolidation job type for a tenant.
// At most one job per (tenant_id, job_type) may be running at a time.
type ConsolidationJob struct {
	JobID          string         `json:"job_id"`
	TenantID       string         `json:"tenant_id"`
	JobType        JobType        `json:"job_type"`
	Status         JobStatus      `json:"status"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ItemsProcessed int            `json:"items_processed"`
	ItemsAffected  int            `json:"items_affected"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ConsolidationStats is a rolling counter row per
// (tenant_id, stat_date, compression_type).
type ConsolidationStats struct {
	TenantID        string    `json:"tenant_id"`
	StatDate        time.Time `json:"stat_date"`
	CompressionType string    `json:"compression_type"`
	BeforeCount     int       `json:"before_count"`
	AfterCount      int       `json:"after_count"`
	TokensSaved     int       `json:"tokens_saved"`
	PercentageSaved float64   `json:"percentage_saved"`
}

// CompressionStatsReport aggregates consolidation stats for a tenant.
type CompressionStatsReport struct {
	TenantID         string                `json:"tenant_id"`
	TotalTokensSaved int                   `json:"total_tokens_saved"`
	ByLevel          map[string]int        `json:"by_level"`
	Recent           []*ConsolidationStats `json:"recent,omitempty"`
}
