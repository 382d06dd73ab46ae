package models

// CompressionLevel defines the consolidation stage of a handoff
type CompressionLevel string

const (
	// CompressionFull is the initial level: all narrative fields present
	CompressionFull CompressionLevel = "full"
	// CompressionSummary replaces the narrative with a ~500 token summary
	CompressionSummary CompressionLevel = "summary"
	// CompressionQuickRef replaces the summary with a ~100 token one-liner
	CompressionQuickRef CompressionLevel = "quick_ref"
	// CompressionIntegrated folds the handoff into a consolidated principle
	CompressionIntegrated CompressionLevel = "integrated"
)

// IsValid checks if the compression level is valid
func (l CompressionLevel) IsValid() bool {
	switch l {
	case CompressionFull, CompressionSummary, CompressionQuickRef, CompressionIntegrated:
		return true
	default:
		return false
	}
}

// Rank returns the position of the level in the full < summary < quick_ref <
// integrated ordering. Compression never moves a handoff to a lower rank.
func (l CompressionLevel) Rank() int {
	switch l {
	case CompressionFull:
		return 0
	case CompressionSummary:
		return 1
	case CompressionQuickRef:
		return 2
	case CompressionIntegrated:
		return 3
	default:
		return -1
	}
}

// DecisionScope defines how widely a decision applies
type DecisionScope string

const (
	// DecisionScopeSession applies to a single session
	DecisionScopeSession DecisionScope = "session"
	// DecisionScopeProject applies to one project
	DecisionScopeProject DecisionScope = "project"
	// DecisionScopeGlobal applies tenant-wide; consolidated principles use this
	DecisionScopeGlobal DecisionScope = "global"
)

// IsValid checks if the decision scope is valid
func (s DecisionScope) IsValid() bool {
	return s == DecisionScopeSession || s == DecisionScopeProject || s == DecisionScopeGlobal
}

// DecisionStatus defines the lifecycle state of a decision
type DecisionStatus string

const (
	// DecisionStatusActive is the initial state
	DecisionStatusActive DecisionStatus = "active"
	// DecisionStatusSuperseded means a newer decision replaced this one
	DecisionStatusSuperseded DecisionStatus = "superseded"
	// DecisionStatusArchived means the decision aged out without supersession
	DecisionStatusArchived DecisionStatus = "archived"
)

// IsValid checks if the decision status is valid
func (s DecisionStatus) IsValid() bool {
	return s == DecisionStatusActive || s == DecisionStatusSuperseded || s == DecisionStatusArchived
}

// CapsuleScope defines the intended sharing boundary of a capsule
type CapsuleScope string

const (
	CapsuleScopeSession CapsuleScope = "session"
	CapsuleScopeUser    CapsuleScope = "user"
	CapsuleScopeProject CapsuleScope = "project"
	CapsuleScopePolicy  CapsuleScope = "policy"
	CapsuleScopeGlobal  CapsuleScope = "global"
)

// IsValid checks if the capsule scope is valid
func (s CapsuleScope) IsValid() bool {
	switch s {
	case CapsuleScopeSession, CapsuleScopeUser, CapsuleScopeProject, CapsuleScopePolicy, CapsuleScopeGlobal:
		return true
	default:
		return false
	}
}

// CapsuleStatus defines the lifecycle state of a capsule
type CapsuleStatus string

const (
	// CapsuleStatusActive means the capsule is readable by its audience
	CapsuleStatusActive CapsuleStatus = "active"
	// CapsuleStatusRevoked means the author withdrew the capsule
	CapsuleStatusRevoked CapsuleStatus = "revoked"
	// CapsuleStatusExpired means the TTL elapsed; reads report this state
	CapsuleStatusExpired CapsuleStatus = "expired"
)

// IsValid checks if the capsule status is valid
func (s CapsuleStatus) IsValid() bool {
	return s == CapsuleStatusActive || s == CapsuleStatusRevoked || s == CapsuleStatusExpired
}

// FeedbackKind classifies agent feedback
type FeedbackKind string

const (
	FeedbackKindFriction   FeedbackKind = "friction"
	FeedbackKindBug        FeedbackKind = "bug"
	FeedbackKindSuggestion FeedbackKind = "suggestion"
	FeedbackKindPraise     FeedbackKind = "praise"
)

// IsValid checks if the feedback kind is valid
func (k FeedbackKind) IsValid() bool {
	switch k {
	case FeedbackKindFriction, FeedbackKindBug, FeedbackKindSuggestion, FeedbackKindPraise:
		return true
	default:
		return false
	}
}

// FeedbackStatus defines the triage state of a feedback entry
type FeedbackStatus string

const (
	FeedbackStatusOpen     FeedbackStatus = "open"
	FeedbackStatusReviewed FeedbackStatus = "reviewed"
	FeedbackStatusAddr     FeedbackStatus = "addressed"
	FeedbackStatusRejected FeedbackStatus = "rejected"
)

// IsValid checks if the feedback status is valid
func (s FeedbackStatus) IsValid() bool {
	switch s {
	case FeedbackStatusOpen, FeedbackStatusReviewed, FeedbackStatusAddr, FeedbackStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status may move to next.
// open → reviewed | addressed | rejected; reviewed → addressed | rejected;
// addressed and rejected are terminal.
func (s FeedbackStatus) CanTransitionTo(next FeedbackStatus) bool {
	switch s {
	case FeedbackStatusOpen:
		return next == FeedbackStatusReviewed || next == FeedbackStatusAddr || next == FeedbackStatusRejected
	case FeedbackStatusReviewed:
		return next == FeedbackStatusAddr || next == FeedbackStatusRejected
	default:
		return false
	}
}

// EdgeType defines the typed relations between memory nodes
type EdgeType string

const (
	// EdgeTypeParentOf is the canonical stored direction of the hierarchy
	EdgeTypeParentOf EdgeType = "parent_of"
	// EdgeTypeChildOf is the inverse view of parent_of; accepted on input,
	// stored as parent_of with endpoints swapped
	EdgeTypeChildOf    EdgeType = "child_of"
	EdgeTypeReferences EdgeType = "references"
	EdgeTypeRelatedTo  EdgeType = "related_to"
	EdgeTypeCreatedBy  EdgeType = "created_by"
	// EdgeTypeDependsOn participates in cycle detection: the depends_on
	// subgraph must stay acyclic per tenant
	EdgeTypeDependsOn EdgeType = "depends_on"
)

// IsValid checks if the edge type is valid
func (t EdgeType) IsValid() bool {
	switch t {
	case EdgeTypeParentOf, EdgeTypeChildOf, EdgeTypeReferences, EdgeTypeRelatedTo, EdgeTypeCreatedBy, EdgeTypeDependsOn:
		return true
	default:
		return false
	}
}

// Direction selects which edges to follow relative to a node
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionIn || d == DirectionOut || d == DirectionBoth
}

// JobType defines consolidation job categories
type JobType string

const (
	JobTypeIdentityConsolidation JobType = "identity_consolidation"
	JobTypeHandoffCompression    JobType = "handoff_compression"
	JobTypeDecisionArchival      JobType = "decision_archival"
	JobTypeChunkReorganization   JobType = "chunk_reorganization"
)

// IsValid checks if the job type is valid
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeIdentityConsolidation, JobTypeHandoffCompression, JobTypeDecisionArchival, JobTypeChunkReorganization:
		return true
	default:
		return false
	}
}

// JobStatus defines the lifecycle state of a consolidation job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
