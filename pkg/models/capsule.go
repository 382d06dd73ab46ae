package models

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// AudienceAny is the pseudo-principal meaning "any agent within the tenant".
// The legacy spelling "all" is normalized to this on write.
const AudienceAny = "*"

// CapsuleItems is the curated content of a capsule.
type CapsuleItems struct {
	Chunks    []string `json:"chunks,omitempty"`
	Decisions []string `json:"decisions,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Capsule is a curated, TTL-bounded bundle of memory items addressed to a
// specific audience. Capsules are immutable after creation except for status
// transitions; once expires_at passes, reads report status=expired and all
// writes fail.
type Capsule struct {
	CapsuleID        string           `json:"capsule_id"`
	TenantID         string           `json:"tenant_id"`
	Scope            CapsuleScope     `json:"scope"`
	SubjectType      string           `json:"subject_type"`
	SubjectID        string           `json:"subject_id"`
	AuthorAgentID    string           `json:"author_agent_id"`
	AudienceAgentIDs []string         `json:"audience_agent_ids"`
	TTLDays          int              `json:"ttl_days"`
	Status           CapsuleStatus    `json:"status"`
	Items            CapsuleItems     `json:"items"`
	Risks            []string         `json:"risks,omitempty"`
	Embedding        *pgvector.Vector `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

// EmbeddingText flattens the capsule content into one searchable string.
// Capsules are immutable after creation, so the flattened text is computed
// once on write and persisted next to the structured items.
func (c *Capsule) EmbeddingText() string {
	parts := make([]string, 0, 2+len(c.Items.Chunks)+len(c.Items.Decisions)+len(c.Items.Artifacts)+len(c.Risks))
	if c.SubjectType != "" || c.SubjectID != "" {
		parts = append(parts, c.SubjectType+" "+c.SubjectID)
	}
	parts = append(parts, c.Items.Chunks...)
	parts = append(parts, c.Items.Decisions...)
	parts = append(parts, c.Items.Artifacts...)
	parts = append(parts, c.Risks...)
	return strings.Join(parts, "\n")
}

// EffectiveStatus reports the status as of now: an active capsule past its
// expiry reads as expired.
func (c *Capsule) EffectiveStatus(now time.Time) CapsuleStatus {
	if c.Status == CapsuleStatusActive && !now.Before(c.ExpiresAt) {
		return CapsuleStatusExpired
	}
	return c.Status
}

// VisibleTo reports whether the principal is the author or in the audience.
func (c *Capsule) VisibleTo(principal string) bool {
	if c.AuthorAgentID == principal {
		return true
	}
	for _, a := range c.AudienceAgentIDs {
		if a == AudienceAny || a == principal {
			return true
		}
	}
	return false
}

// CreateCapsuleRequest contains fields for creating a capsule
type CreateCapsuleRequest struct {
	Scope            CapsuleScope `json:"scope"`
	SubjectType      string       `json:"subject_type"`
	SubjectID        string       `json:"subject_id"`
	AudienceAgentIDs []string     `json:"audience_agent_ids,omitempty"`
	TTLDays          *int         `json:"ttl_days,omitempty"`
	Items            CapsuleItems `json:"items"`
	Risks            []string     `json:"risks,omitempty"`
}

// CapsuleFilters contains filtering options for listing capsules
type CapsuleFilters struct {
	Scope       CapsuleScope `json:"scope,omitempty"`
	SubjectType string       `json:"subject_type,omitempty"`
	SubjectID   string       `json:"subject_id,omitempty"`
	// IncludeExpired keeps capsules past expires_at in the result set;
	// their status still reads as expired.
	IncludeExpired bool `json:"include_expired,omitempty"`
}

// CapsuleList contains one page of capsules plus the cursor of the last row.
type CapsuleList struct {
	Capsules []*Capsule `json:"capsules"`
	Next     *Keyset    `json:"next,omitempty"`
}
