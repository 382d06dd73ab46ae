package models

import "time"

// Wake layer names selectable via the layers parameter of wake_up.
const (
	WakeLayerHandoffs  = "handoffs"
	WakeLayerIdentity  = "identity"
	WakeLayerDecisions = "decisions"
	WakeLayerCapsules  = "capsules"
)

// WakeLayers lists every layer in bundle order.
var WakeLayers = []string{WakeLayerHandoffs, WakeLayerIdentity, WakeLayerDecisions, WakeLayerCapsules}

// Wake-up bounds.
const (
	WakeDefaultRecentCount = 3
	WakeMaxRecentCount     = 20
	WakeIdentityLimit      = 10
	WakeDecisionLimit      = 20
	WakeCapsuleLimit       = 20
)

// WakeRequest asks for the session-start context bundle.
type WakeRequest struct {
	WithWhom    string   `json:"with_whom"`
	Layers      []string `json:"layers,omitempty"`
	RecentCount int      `json:"recent_count,omitempty"`
}

// WakeBundle is the composed read-only context returned by wake_up:
// recent handoffs at their current compression level, the identity thread,
// active project/global decisions and unexpired audience-visible capsules.
// WALPending is filled in by the client when it has a replay backlog.
type WakeBundle struct {
	WithWhom       string                 `json:"with_whom"`
	Handoffs       []*Handoff             `json:"handoffs"`
	IdentityThread []*IdentityThreadEntry `json:"identity_thread"`
	Decisions      []*Decision            `json:"decisions"`
	Capsules       []*Capsule             `json:"capsules"`
	WALPending     int                    `json:"wal_pending,omitempty"`
	GeneratedAt    time.Time              `json:"generated_at"`
}

// QuickRefEntry is one handoff rendered as a single line.
type QuickRefEntry struct {
	HandoffID string    `json:"handoff_id"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// QuickReference is the compact per-counterpart memory digest.
type QuickReference struct {
	WithWhom string           `json:"with_whom,omitempty"`
	Entries  []*QuickRefEntry `json:"entries"`
}

// SystemHealth summarizes store reachability and background activity.
type SystemHealth struct {
	Status       string `json:"status"`
	Database     string `json:"database"`
	PendingJobs  int    `json:"pending_jobs"`
	RunningJobs  int    `json:"running_jobs"`
	EmbedBacklog int    `json:"embed_backlog"`
}

// NextActions is a convenience projection of things needing attention:
// open feedback and tasks still in the todo column.
type NextActions struct {
	OpenFeedback []*AgentFeedback `json:"open_feedback"`
	TodoTasks    []*TaskCard      `json:"todo_tasks"`
}
