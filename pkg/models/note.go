package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// KnowledgeNote is a free-form fact with tags, optional project scoping and
// provenance links to the handoffs it came from. Notes double as graph nodes.
type KnowledgeNote struct {
	NoteID         string           `json:"note_id"`
	TenantID       string           `json:"tenant_id"`
	Text           string           `json:"text"`
	Tags           []string         `json:"tags,omitempty"`
	ProjectPath    string           `json:"project_path,omitempty"`
	Confidence     float64          `json:"confidence"`
	SourceHandoffs []string         `json:"source_handoffs,omitempty"`
	Embedding      *pgvector.Vector `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
}

// CreateNoteRequest contains fields for creating a knowledge note
type CreateNoteRequest struct {
	Text           string   `json:"text"`
	Tags           []string `json:"tags,omitempty"`
	ProjectPath    string   `json:"project_path,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	SourceHandoffs []string `json:"source_handoffs,omitempty"`
}

// NoteFilters contains filtering options for listing notes
type NoteFilters struct {
	Tag         string `json:"tag,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
}

// NoteList contains one page of notes plus the cursor of the last row.
type NoteList struct {
	Notes []*KnowledgeNote `json:"notes"`
	Next  *Keyset          `json:"next,omitempty"`
}
