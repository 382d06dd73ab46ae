package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// AgentFeedback is a report from an agent about the system itself:
// friction, bugs, suggestions or praise.
type AgentFeedback struct {
	FeedbackID string           `json:"feedback_id"`
	TenantID   string           `json:"tenant_id"`
	Kind       FeedbackKind     `json:"kind"`
	Text       string           `json:"text"`
	Status     FeedbackStatus   `json:"status"`
	Embedding  *pgvector.Vector `json:"-"`
	CreatedAt  time.Time        `json:"created_at"`
}

// SubmitFeedbackRequest contains fields for submitting feedback
type SubmitFeedbackRequest struct {
	Kind FeedbackKind `json:"kind"`
	Text string       `json:"text"`
}

// FeedbackFilters contains filtering options for listing feedback
type FeedbackFilters struct {
	Kind   FeedbackKind   `json:"kind,omitempty"`
	Status FeedbackStatus `json:"status,omitempty"`
}

// FeedbackList contains one page of feedback plus the cursor of the last row.
type FeedbackList struct {
	Feedback []*AgentFeedback `json:"feedback"`
	Next     *Keyset          `json:"next,omitempty"`
}
