package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
)

const edgeColumns = `edge_id, tenant_id, from_node_id, to_node_id, type, properties, created_at, updated_at`

func scanEdge(row rowScanner) (*models.Edge, error) {
	var (
		e     models.Edge
		props []byte
	)
	err := row.Scan(&e.EdgeID, &e.TenantID, &e.FromNodeID, &e.ToNodeID,
		&e.Type, &props, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(props, &e.Properties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edge properties: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

// CreateEdge inserts an edge row. The caller has already canonicalized
// child_of to parent_of and verified both endpoints.
func (s *Store) CreateEdge(ctx context.Context, e *models.Edge) error {
	props, err := jsonObject(e.Properties)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO edges (edge_id, tenant_id, from_node_id, to_node_id, type, properties, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EdgeID, e.TenantID, e.FromNodeID, e.ToNodeID, e.Type, props,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("edge %s: %w", e.EdgeID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// GetEdge fetches one edge by id within the tenant.
func (s *Store) GetEdge(ctx context.Context, tenantID, edgeID string) (*models.Edge, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges
		 WHERE tenant_id = $1 AND edge_id = $2`,
		tenantID, edgeID,
	)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("edge %s: %w", edgeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge: %w", err)
	}
	return e, nil
}

// ListEdges returns the stored edges around a node. Direction is interpreted
// against the stored canonical rows; the service layer handles the
// parent_of / child_of mirroring before calling here.
func (s *Store) ListEdges(ctx context.Context, tenantID, nodeID string, direction models.Direction, edgeType models.EdgeType) ([]*models.Edge, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	args = append(args, nodeID)
	switch direction {
	case models.DirectionOut:
		conds = append(conds, fmt.Sprintf("from_node_id = $%d", len(args)))
	case models.DirectionIn:
		conds = append(conds, fmt.Sprintf("to_node_id = $%d", len(args)))
	default:
		conds = append(conds, fmt.Sprintf("(from_node_id = $%d OR to_node_id = $%d)", len(args), len(args)))
	}

	if edgeType != "" {
		args = append(args, edgeType)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}

	query := fmt.Sprintf(
		`SELECT %s FROM edges WHERE %s ORDER BY created_at ASC, edge_id ASC`,
		edgeColumns, strings.Join(conds, " AND "))

	return s.queryEdges(ctx, query, args...)
}

// ListEdgesTouching returns all edges with either endpoint in the node set,
// optionally filtered by type. One call per breadth-first level keeps
// traversal at most depth queries deep.
func (s *Store) ListEdgesTouching(ctx context.Context, tenantID string, nodeIDs []string, edgeType models.EdgeType) ([]*models.Edge, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + edgeColumns + ` FROM edges
		 WHERE tenant_id = $1 AND (from_node_id = ANY($2) OR to_node_id = ANY($2))`
	args := []any{tenantID, nodeIDs}
	if edgeType != "" {
		args = append(args, edgeType)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY created_at ASC, edge_id ASC"

	return s.queryEdges(ctx, query, args...)
}

// DependsOnPathExists reports whether target is reachable from start by
// following depends_on edges. UNION (not UNION ALL) deduplicates visited
// nodes, so the recursion terminates even if a cycle were present.
func (s *Store) DependsOnPathExists(ctx context.Context, tenantID, start, target string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`WITH RECURSIVE reach(node_id) AS (
		     SELECT to_node_id FROM edges
		     WHERE tenant_id = $1 AND from_node_id = $2 AND type = 'depends_on'
		   UNION
		     SELECT e.to_node_id FROM edges e
		     JOIN reach r ON e.from_node_id = r.node_id
		     WHERE e.tenant_id = $1 AND e.type = 'depends_on'
		 )
		 SELECT EXISTS (SELECT 1 FROM reach WHERE node_id = $3)`,
		tenantID, start, target,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check depends_on reachability: %w", err)
	}
	return exists, nil
}

// MergeEdgeProperties JSON-merges a patch into the edge's properties. Keys
// with null values are removed, matching merge-patch semantics; nulls are
// never persisted so jsonb_strip_nulls touches only the patched keys.
func (s *Store) MergeEdgeProperties(ctx context.Context, tenantID, edgeID string, patch map[string]any, at time.Time) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal properties patch: %w", err)
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE edges
		 SET properties = jsonb_strip_nulls(properties || $3::jsonb), updated_at = $4
		 WHERE tenant_id = $1 AND edge_id = $2`,
		tenantID, edgeID, patchJSON, at,
	)
	if err != nil {
		return fmt.Errorf("failed to merge edge properties: %w", err)
	}
	return requireRow(res, "edge "+edgeID)
}

// DeleteEdge removes an edge.
func (s *Store) DeleteEdge(ctx context.Context, tenantID, edgeID string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM edges WHERE tenant_id = $1 AND edge_id = $2`,
		tenantID, edgeID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	return requireRow(res, "edge "+edgeID)
}

// ListPendingTaskEdges returns parent_of edges whose task has not been
// started: properties.status missing or todo. Edges without a status count as
// todo, matching the Kanban bucketing.
func (s *Store) ListPendingTaskEdges(ctx context.Context, tenantID string, limit int) ([]*models.Edge, error) {
	return s.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM edges
		 WHERE tenant_id = $1 AND type = 'parent_of'
		   AND COALESCE(properties->>'status', 'todo') NOT IN ('doing', 'done')
		 ORDER BY created_at ASC, edge_id ASC LIMIT $2`,
		tenantID, limit,
	)
}

// NodeHasEdges reports whether any edge still refers to the node. Nodes with
// edges may not be deleted.
func (s *Store) NodeHasEdges(ctx context.Context, tenantID, nodeID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM edges
		     WHERE tenant_id = $1 AND (from_node_id = $2 OR to_node_id = $2)
		 )`,
		tenantID, nodeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check node edges: %w", err)
	}
	return exists, nil
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]*models.Edge, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*models.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}
	return edges, nil
}
