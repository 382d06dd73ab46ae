package models

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Handoff is one structured session summary: what was experienced, noticed
// and learned, plus the identity trajectory ("becoming") and continuation
// hints. Handoffs are written once by agents and afterwards mutated only by
// the consolidation engine, which raises the compression level and derives
// summary/quick_ref text. They are never hard-deleted.
type Handoff struct {
	HandoffID        string           `json:"handoff_id"`
	TenantID         string           `json:"tenant_id"`
	SessionID        string           `json:"session_id"`
	WithWhom         string           `json:"with_whom"`
	Experienced      string           `json:"experienced"`
	Noticed          string           `json:"noticed"`
	Learned          string           `json:"learned"`
	Story            string           `json:"story,omitempty"`
	Becoming         string           `json:"becoming,omitempty"`
	Remember         string           `json:"remember"`
	Significance     float64          `json:"significance"`
	Tags             []string         `json:"tags,omitempty"`
	CompressionLevel CompressionLevel `json:"compression_level"`
	Summary          string           `json:"summary,omitempty"`
	QuickRef         string           `json:"quick_ref,omitempty"`
	IntegratedInto   string           `json:"integrated_into,omitempty"`
	ParentHandoffID  string           `json:"parent_handoff_id,omitempty"`
	InfluencedBy     string           `json:"influenced_by,omitempty"`
	ConsolidatedAt   *time.Time       `json:"consolidated_at,omitempty"`
	Embedding        *pgvector.Vector `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
}

// EmbeddingText concatenates the narrative fields in the order they are
// embedded for semantic search.
func (h *Handoff) EmbeddingText() string {
	text := h.Experienced + "\n" + h.Noticed + "\n" + h.Learned
	if h.Story != "" {
		text += "\n" + h.Story
	}
	if h.Becoming != "" {
		text += "\n" + h.Becoming
	}
	return text
}

// QuickRefLine renders the one-line digest used at the quick_ref level: the
// date, the counterpart, the becoming when present, then a lead sentence
// drawn from the summary or, before one exists, the remember hint. Handoffs
// that already carry a derived quick_ref return it unchanged.
func (h *Handoff) QuickRefLine() string {
	if h.QuickRef != "" {
		return h.QuickRef
	}
	source := h.Summary
	if source == "" {
		source = h.Remember
	}
	parts := []string{h.CreatedAt.Format("2006-01-02"), h.WithWhom}
	if h.Becoming != "" {
		parts = append(parts, h.Becoming)
	}
	parts = append(parts, LeadSentence(source))
	return strings.Join(parts, " — ")
}

// LeadSentence cuts text down to its first sentence, capped at 120 runes.
func LeadSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i+1]
	}
	runes := []rune(text)
	if len(runes) > 120 {
		return string(runes[:120])
	}
	return text
}

// CreateHandoffRequest contains fields for creating a handoff
type CreateHandoffRequest struct {
	SessionID       string   `json:"session_id"`
	WithWhom        string   `json:"with_whom"`
	Experienced     string   `json:"experienced"`
	Noticed         string   `json:"noticed"`
	Learned         string   `json:"learned"`
	Story           string   `json:"story,omitempty"`
	Becoming        string   `json:"becoming,omitempty"`
	Remember        string   `json:"remember"`
	Significance    float64  `json:"significance"`
	Tags            []string `json:"tags,omitempty"`
	ParentHandoffID string   `json:"parent_handoff_id,omitempty"`
	InfluencedBy    string   `json:"influenced_by,omitempty"`
}

// HandoffFilters contains filtering options for listing handoffs
type HandoffFilters struct {
	WithWhom      string     `json:"with_whom,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	Tag           string     `json:"tag,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	// Expand returns the retained lower-level narrative fields even after
	// the handoff rose past the full compression level.
	Expand bool `json:"expand,omitempty"`
}

// Keyset is a cursor for keyset pagination over (created_at desc, id asc).
type Keyset struct {
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ID        string     `json:"id,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// HandoffList contains one page of handoffs plus the cursor of the last row.
type HandoffList struct {
	Handoffs []*Handoff `json:"handoffs"`
	Next     *Keyset    `json:"next,omitempty"`
}

// IdentityThreadEntry is one step of the identity trajectory with a
// counterpart, materialized from handoffs whose becoming field is set.
type IdentityThreadEntry struct {
	HandoffID    string    `json:"handoff_id"`
	WithWhom     string    `json:"with_whom"`
	Becoming     string    `json:"becoming"`
	Significance float64   `json:"significance"`
	CreatedAt    time.Time `json:"created_at"`
}
