package models

import "time"

// Edge is a typed, property-bearing relation between two memory nodes.
// parent_of is the canonical stored direction of the hierarchy; child_of is
// derived. The depends_on subgraph is kept acyclic per tenant.
type Edge struct {
	EdgeID     string         `json:"edge_id"`
	TenantID   string         `json:"tenant_id"`
	FromNodeID string         `json:"from_node_id"`
	ToNodeID   string         `json:"to_node_id"`
	Type       EdgeType       `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Node is the tagged-variant view over the entities addressable as graph
// nodes: knowledge notes, handoffs, capsules, feedback and decisions.
// Payload holds the resolved row.
type Node struct {
	NodeID  string   `json:"node_id"`
	Kind    NodeKind `json:"kind"`
	Payload any      `json:"payload"`
}

// CreateEdgeRequest contains fields for creating an edge
type CreateEdgeRequest struct {
	FromNodeID string         `json:"from_node_id"`
	ToNodeID   string         `json:"to_node_id"`
	Type       EdgeType       `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// EdgeFilters selects edges around a node
type EdgeFilters struct {
	Direction Direction `json:"direction,omitempty"`
	Type      EdgeType  `json:"type,omitempty"`
}

// TraversalStep is one reachable node with the edge that led to it and its
// breadth-first depth (≥ 1).
type TraversalStep struct {
	Node  *Node `json:"node"`
	Edge  *Edge `json:"edge"`
	Depth int   `json:"depth"`
}

// MaxTraversalDepth caps breadth-first traversal.
const MaxTraversalDepth = 5

// TaskCard is one child of a project node projected onto a Kanban board.
type TaskCard struct {
	NodeID     string         `json:"node_id"`
	Title      string         `json:"title"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ProjectTasks groups the children of a project node by properties.status.
// Unknown statuses land in Todo.
type ProjectTasks struct {
	ProjectNodeID string      `json:"project_node_id"`
	Todo          []*TaskCard `json:"todo"`
	Doing         []*TaskCard `json:"doing"`
	Done          []*TaskCard `json:"done"`
}
