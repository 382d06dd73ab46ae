package models

import "time"

// SearchTypeAll expands to every searchable entity kind.
const SearchTypeAll = "all"

// SearchableTypes are the entity kinds recall can query.
var SearchableTypes = []string{
	"session_handoffs",
	"knowledge_notes",
	"agent_feedback",
	"capsules",
}

// Recall limits.
const (
	RecallDefaultLimit         = 5
	RecallMaxLimit             = 50
	RecallDefaultMinSimilarity = 0.5
)

// TimeRange bounds recall candidates by created_at.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// RecallRequest is the single hybrid-retrieval entry point.
type RecallRequest struct {
	Query         string     `json:"query"`
	Types         []string   `json:"types,omitempty"`
	ProjectPath   string     `json:"project_path,omitempty"`
	WithWhom      string     `json:"with_whom,omitempty"`
	TimeRange     *TimeRange `json:"time_range,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	MinSimilarity *float64   `json:"min_similarity,omitempty"`
	Expand        bool       `json:"expand,omitempty"`
}

// RecallResult is one ranked hit.
// Score = 0.6·ann_norm + 0.3·fts_norm + 0.1·recency, recency = exp(−age_days/30).
type RecallResult struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Score     float64        `json:"score"`
	Snippet   string         `json:"snippet"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
