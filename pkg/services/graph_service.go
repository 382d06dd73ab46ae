package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// GraphService owns the typed property graph over memory nodes. parent_of is
// the stored canonical direction of the hierarchy; child_of input and filters
// are translated at this layer. The depends_on subgraph stays acyclic.
type GraphService struct {
	store *store.Store
}

// NewGraphService creates a new GraphService.
func NewGraphService(st *store.Store) *GraphService {
	if st == nil {
		panic("NewGraphService: store must not be nil")
	}
	return &GraphService{store: st}
}

// CreateEdge links two existing nodes. child_of is stored as parent_of with
// the endpoints swapped; a depends_on edge that would close a cycle fails
// with ErrCircularDependency. The cycle check and the insert share one
// transaction so concurrent writers cannot sneak a cycle in between.
func (s *GraphService) CreateEdge(ctx context.Context, tenantID, opID string, req *models.CreateEdgeRequest) (*models.Edge, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant is required")
	}
	if !req.Type.IsValid() {
		return nil, NewValidationError("type", fmt.Sprintf("invalid edge type %q", req.Type))
	}
	from, to, edgeType := req.FromNodeID, req.ToNodeID, req.Type
	if edgeType == models.EdgeTypeChildOf {
		from, to = to, from
		edgeType = models.EdgeTypeParentOf
	}
	if _, ok := models.KindOfID(from); !ok {
		return nil, NewValidationError("from_node_id", fmt.Sprintf("unknown id prefix in %q", from))
	}
	if _, ok := models.KindOfID(to); !ok {
		return nil, NewValidationError("to_node_id", fmt.Sprintf("unknown id prefix in %q", to))
	}
	if from == to {
		return nil, NewValidationError("to_node_id", "self-loops are not allowed")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	e := &models.Edge{
		EdgeID:     newEdgeID(tenantID, from, to, edgeType),
		TenantID:   tenantID,
		FromNodeID: from,
		ToNodeID:   to,
		Type:       edgeType,
		Properties: req.Properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := runIdempotent(ctx, s.store, tenantID, opID, e, func(tx *store.Store) error {
		if _, err := tx.ResolveNode(ctx, tenantID, from); err != nil {
			return notFound(err, "node "+from)
		}
		if _, err := tx.ResolveNode(ctx, tenantID, to); err != nil {
			return notFound(err, "node "+to)
		}
		if edgeType == models.EdgeTypeDependsOn {
			cyclic, err := tx.DependsOnPathExists(ctx, tenantID, to, from)
			if err != nil {
				return err
			}
			if cyclic {
				return fmt.Errorf("edge %s -> %s: %w", from, to, ErrCircularDependency)
			}
		}
		if err := tx.CreateEdge(ctx, e); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventEdgeCreated, e.EdgeID))
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveNode dispatches on the id prefix and returns the node kind plus its
// resolved row.
func (s *GraphService) ResolveNode(ctx context.Context, tenantID, nodeID string) (*models.Node, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant is required")
	}
	if _, ok := models.KindOfID(nodeID); !ok {
		return nil, NewValidationError("node_id", fmt.Sprintf("unknown id prefix in %q", nodeID))
	}
	node, err := s.store.ResolveNode(ctx, tenantID, nodeID)
	if err != nil {
		return nil, notFound(err, "node "+nodeID)
	}
	return node, nil
}

// GetEdges returns the edges around a node. Asking for child_of edges queries
// the canonical parent_of rows with the direction inverted and presents them
// in child_of orientation.
func (s *GraphService) GetEdges(ctx context.Context, tenantID, nodeID string, filters models.EdgeFilters) ([]*models.Edge, error) {
	direction := filters.Direction
	if direction == "" {
		direction = models.DirectionBoth
	}
	if !direction.IsValid() {
		return nil, NewValidationError("direction", fmt.Sprintf("invalid direction %q", direction))
	}
	if filters.Type != "" && !filters.Type.IsValid() {
		return nil, NewValidationError("type", fmt.Sprintf("invalid edge type %q", filters.Type))
	}
	if _, ok := models.KindOfID(nodeID); !ok {
		return nil, NewValidationError("node_id", fmt.Sprintf("unknown id prefix in %q", nodeID))
	}
	if _, err := s.store.ResolveNode(ctx, tenantID, nodeID); err != nil {
		return nil, notFound(err, "node "+nodeID)
	}

	queryType, queryDirection := filters.Type, direction
	if filters.Type == models.EdgeTypeChildOf {
		queryType = models.EdgeTypeParentOf
		queryDirection = invertDirection(direction)
	}
	edges, err := s.store.ListEdges(ctx, tenantID, nodeID, queryDirection, queryType)
	if err != nil {
		return nil, err
	}
	if filters.Type == models.EdgeTypeChildOf {
		for i, e := range edges {
			edges[i] = childOfView(e)
		}
	}
	if edges == nil {
		edges = []*models.Edge{}
	}
	return edges, nil
}

// Traverse walks the graph breadth-first from a start node, up to depth
// levels, and returns each node the first time it is reached together with
// the edge that led there. Depth must be between 1 and MaxTraversalDepth.
func (s *GraphService) Traverse(ctx context.Context, tenantID, nodeID string, edgeType models.EdgeType, direction models.Direction, depth int) ([]*models.TraversalStep, error) {
	if depth < 1 || depth > models.MaxTraversalDepth {
		return nil, NewValidationError("depth", fmt.Sprintf("depth must be between 1 and %d", models.MaxTraversalDepth))
	}
	if direction == "" {
		direction = models.DirectionBoth
	}
	if !direction.IsValid() {
		return nil, NewValidationError("direction", fmt.Sprintf("invalid direction %q", direction))
	}
	if edgeType != "" && !edgeType.IsValid() {
		return nil, NewValidationError("type", fmt.Sprintf("invalid edge type %q", edgeType))
	}
	if _, ok := models.KindOfID(nodeID); !ok {
		return nil, NewValidationError("node_id", fmt.Sprintf("unknown id prefix in %q", nodeID))
	}
	if _, err := s.store.ResolveNode(ctx, tenantID, nodeID); err != nil {
		return nil, notFound(err, "node "+nodeID)
	}

	queryType, matchDirection := edgeType, direction
	if edgeType == models.EdgeTypeChildOf {
		queryType = models.EdgeTypeParentOf
		matchDirection = invertDirection(direction)
	}

	visited := map[string]struct{}{nodeID: {}}
	frontier := []string{nodeID}
	steps := []*models.TraversalStep{}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		edges, err := s.store.ListEdgesTouching(ctx, tenantID, frontier, queryType)
		if err != nil {
			return nil, err
		}
		inFrontier := make(map[string]struct{}, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = struct{}{}
		}

		var next []string
		for _, e := range edges {
			neighbor, ok := traversalNeighbor(e, inFrontier, matchDirection)
			if !ok {
				continue
			}
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}

			node, err := s.store.ResolveNode(ctx, tenantID, neighbor)
			if err != nil {
				return nil, notFound(err, "node "+neighbor)
			}
			view := e
			if edgeType == models.EdgeTypeChildOf {
				view = childOfView(e)
			}
			steps = append(steps, &models.TraversalStep{Node: node, Edge: view, Depth: d})
			next = append(next, neighbor)
		}
		frontier = next
	}
	return steps, nil
}

// UpdateEdgeProperties JSON-merges a patch into the edge's properties; null
// values remove keys. Returns the edge after the merge.
func (s *GraphService) UpdateEdgeProperties(ctx context.Context, tenantID, opID, edgeID string, patch map[string]any) (*models.Edge, error) {
	if len(patch) == 0 {
		return nil, NewValidationError("properties", "at least one property is required")
	}

	var updated models.Edge
	_, err := runIdempotent(ctx, s.store, tenantID, opID, &updated, func(tx *store.Store) error {
		now := time.Now().UTC().Truncate(time.Millisecond)
		if err := tx.MergeEdgeProperties(ctx, tenantID, edgeID, patch, now); err != nil {
			return notFound(err, "edge "+edgeID)
		}
		e, err := tx.GetEdge(ctx, tenantID, edgeID)
		if err != nil {
			return notFound(err, "edge "+edgeID)
		}
		updated = *e
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventEdgeUpdated, edgeID))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteEdge removes an edge. Nodes are never deleted here; removing the last
// edge is what unblocks a node deletion.
func (s *GraphService) DeleteEdge(ctx context.Context, tenantID, opID, edgeID string) error {
	ack := struct {
		EdgeID string `json:"edge_id"`
	}{edgeID}

	_, err := runIdempotent(ctx, s.store, tenantID, opID, &ack, func(tx *store.Store) error {
		if err := tx.DeleteEdge(ctx, tenantID, edgeID); err != nil {
			return notFound(err, "edge "+edgeID)
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventEdgeDeleted, edgeID))
	})
	return err
}

// GetProjectTasks projects the children of a project node onto a Kanban
// board, bucketed by the status property of the linking edge. Unknown and
// missing statuses land in todo.
func (s *GraphService) GetProjectTasks(ctx context.Context, tenantID, projectNodeID string) (*models.ProjectTasks, error) {
	if _, ok := models.KindOfID(projectNodeID); !ok {
		return nil, NewValidationError("project_node_id", fmt.Sprintf("unknown id prefix in %q", projectNodeID))
	}
	if _, err := s.store.ResolveNode(ctx, tenantID, projectNodeID); err != nil {
		return nil, notFound(err, "node "+projectNodeID)
	}

	edges, err := s.store.ListEdges(ctx, tenantID, projectNodeID, models.DirectionOut, models.EdgeTypeParentOf)
	if err != nil {
		return nil, err
	}

	tasks := &models.ProjectTasks{
		ProjectNodeID: projectNodeID,
		Todo:          []*models.TaskCard{},
		Doing:         []*models.TaskCard{},
		Done:          []*models.TaskCard{},
	}
	for _, e := range edges {
		child, err := s.store.ResolveNode(ctx, tenantID, e.ToNodeID)
		if err != nil {
			return nil, notFound(err, "node "+e.ToNodeID)
		}
		card := &models.TaskCard{
			NodeID:     e.ToNodeID,
			Title:      nodeTitle(child),
			Properties: e.Properties,
		}
		status, _ := e.Properties["status"].(string)
		switch status {
		case "doing":
			tasks.Doing = append(tasks.Doing, card)
		case "done":
			tasks.Done = append(tasks.Done, card)
		default:
			tasks.Todo = append(tasks.Todo, card)
		}
	}
	return tasks, nil
}

// newEdgeID derives an identifier by hashing the endpoints with a nonce, so
// ids are stable in shape but the same relation created twice still gets a
// fresh id.
func newEdgeID(tenantID, from, to string, edgeType models.EdgeType) string {
	sum := sha256.Sum256([]byte(strings.Join(
		[]string{tenantID, from, to, string(edgeType), uuid.NewString()}, "|")))
	return models.PrefixEdge + "_" + hex.EncodeToString(sum[:])[:32]
}

// traversalNeighbor returns the node on the far side of an edge relative to
// the frontier, honoring the requested direction.
func traversalNeighbor(e *models.Edge, frontier map[string]struct{}, direction models.Direction) (string, bool) {
	_, fromIn := frontier[e.FromNodeID]
	_, toIn := frontier[e.ToNodeID]
	switch direction {
	case models.DirectionOut:
		if fromIn {
			return e.ToNodeID, true
		}
	case models.DirectionIn:
		if toIn {
			return e.FromNodeID, true
		}
	default:
		if fromIn {
			return e.ToNodeID, true
		}
		if toIn {
			return e.FromNodeID, true
		}
	}
	return "", false
}

// childOfView presents a canonical parent_of edge in child_of orientation.
func childOfView(e *models.Edge) *models.Edge {
	v := *e
	v.Type = models.EdgeTypeChildOf
	v.FromNodeID, v.ToNodeID = e.ToNodeID, e.FromNodeID
	return &v
}

func invertDirection(d models.Direction) models.Direction {
	switch d {
	case models.DirectionIn:
		return models.DirectionOut
	case models.DirectionOut:
		return models.DirectionIn
	default:
		return models.DirectionBoth
	}
}

// nodeTitle derives a short display title for a node.
func nodeTitle(node *models.Node) string {
	switch p := node.Payload.(type) {
	case *models.KnowledgeNote:
		return firstLine(p.Text)
	case *models.Handoff:
		if p.QuickRef != "" {
			return firstLine(p.QuickRef)
		}
		return firstLine(p.Remember)
	case *models.Capsule:
		return strings.TrimSpace(p.SubjectType + " " + p.SubjectID)
	case *models.AgentFeedback:
		return firstLine(p.Text)
	case *models.Decision:
		return firstLine(p.Text)
	default:
		return node.NodeID
	}
}

// firstLine truncates text to its first line, capped at 80 runes.
func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	const max = 80
	runes := []rune(line)
	if len(runes) > max {
		return string(runes[:max])
	}
	return line
}
