package models

import "time"

// Event is an append-only observability record written by every mutating
// operation in the same transaction as the write it describes.
type Event struct {
	EventID   string    `json:"event_id"`
	TenantID  string    `json:"tenant_id"`
	Kind      string    `json:"kind"`
	SubjectID string    `json:"subject_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Event kinds, one per mutating operation.
const (
	EventHandoffCreated     = "handoff.created"
	EventHandoffCompressed  = "handoff.compressed"
	EventNoteCreated        = "note.created"
	EventNoteDeleted        = "note.deleted"
	EventCapsuleCreated     = "capsule.created"
	EventCapsuleRevoked     = "capsule.revoked"
	EventCapsuleExpired     = "capsule.expired"
	EventDecisionCreated    = "decision.created"
	EventDecisionSuperseded = "decision.superseded"
	EventDecisionArchived   = "decision.archived"
	EventFeedbackCreated    = "feedback.created"
	EventFeedbackUpdated    = "feedback.updated"
	EventEdgeCreated        = "edge.created"
	EventEdgeUpdated        = "edge.updated"
	EventEdgeDeleted        = "edge.deleted"
	EventPrincipleCreated   = "principle.created"
)
