package models

import "time"

// Decision is a recorded choice with a scope and lifecycle status.
// Consolidated identity principles are stored as global-scope decisions.
type Decision struct {
	DecisionID string         `json:"decision_id"`
	TenantID   string         `json:"tenant_id"`
	Scope      DecisionScope  `json:"scope"`
	Text       string         `json:"text"`
	Status     DecisionStatus `json:"status"`
	Supersedes string         `json:"supersedes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CreateDecisionRequest contains fields for creating a decision
type CreateDecisionRequest struct {
	Scope      DecisionScope `json:"scope"`
	Text       string        `json:"text"`
	Supersedes string        `json:"supersedes,omitempty"`
}

// DecisionFilters contains filtering options for listing decisions
type DecisionFilters struct {
	Scope  DecisionScope  `json:"scope,omitempty"`
	Status DecisionStatus `json:"status,omitempty"`
}

// DecisionList contains one page of decisions plus the cursor of the last row.
type DecisionList struct {
	Decisions []*Decision `json:"decisions"`
	Next      *Keyset     `json:"next,omitempty"`
}
