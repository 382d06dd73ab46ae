package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/engram-memory/engram/pkg/models"
)

// registerGraphTools binds the property-graph tools.
func registerGraphTools(r *Registry, svc *Services) {
	r.Register(Tool{
		Def: mcp.Tool{
			Name: "create_edge",
			Description: "Link two memory nodes with a typed edge. depends_on edges are checked " +
				"for cycles; child_of is stored as the inverse parent_of.",
			InputSchema: objectSchema(map[string]interface{}{
				"from_node_id": prop("string", "Source node id"),
				"to_node_id":   prop("string", "Target node id"),
				"type":         enumProp("Relation type", "parent_of", "child_of", "references", "related_to", "created_by", "depends_on"),
				"properties":   prop("object", "Free-form edge properties"),
				"op_id":        prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "from_node_id", "to_node_id", "type"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			req := &models.CreateEdgeRequest{}
			var err error
			if req.FromNodeID, err = requireString(args, "from_node_id"); err != nil {
				return nil, err
			}
			if req.ToNodeID, err = requireString(args, "to_node_id"); err != nil {
				return nil, err
			}
			edgeType, err := requireString(args, "type")
			if err != nil {
				return nil, err
			}
			req.Type = models.EdgeType(edgeType)
			if req.Properties, err = optionalMap(args, "properties"); err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Graph.CreateEdge(ctx, tc.TenantID, op, req)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_edges",
			Description: "List the edges around a node, optionally filtered by direction and type.",
			InputSchema: objectSchema(map[string]interface{}{
				"node_id":   prop("string", "Node to inspect"),
				"direction": enumProp("Edge direction relative to the node (default both)", "in", "out", "both"),
				"type":      enumProp("Filter by relation type", "parent_of", "child_of", "references", "related_to", "created_by", "depends_on"),
			}, "node_id"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			nodeID, err := requireString(args, "node_id")
			if err != nil {
				return nil, err
			}
			var filters models.EdgeFilters
			direction, err := optionalString(args, "direction")
			if err != nil {
				return nil, err
			}
			filters.Direction = models.Direction(direction)
			edgeType, err := optionalString(args, "type")
			if err != nil {
				return nil, err
			}
			filters.Type = models.EdgeType(edgeType)
			edges, err := svc.Graph.GetEdges(ctx, tc.TenantID, nodeID, filters)
			if err != nil {
				return nil, err
			}
			return map[string]any{"edges": edges}, nil
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "traverse",
			Description: "Walk the graph breadth-first from a node, up to 5 levels deep.",
			InputSchema: objectSchema(map[string]interface{}{
				"node_id":   prop("string", "Start node"),
				"type":      enumProp("Follow only this relation type", "parent_of", "child_of", "references", "related_to", "created_by", "depends_on"),
				"direction": enumProp("Edge direction to follow (default both)", "in", "out", "both"),
				"depth":     prop("integer", "Maximum depth, 1-5 (default 1)"),
			}, "node_id"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			nodeID, err := requireString(args, "node_id")
			if err != nil {
				return nil, err
			}
			edgeType, err := optionalString(args, "type")
			if err != nil {
				return nil, err
			}
			direction, err := optionalString(args, "direction")
			if err != nil {
				return nil, err
			}
			if direction == "" {
				direction = string(models.DirectionBoth)
			}
			depth, err := optionalInt(args, "depth", 1)
			if err != nil {
				return nil, err
			}
			steps, err := svc.Graph.Traverse(ctx, tc.TenantID, nodeID, models.EdgeType(edgeType), models.Direction(direction), depth)
			if err != nil {
				return nil, err
			}
			return map[string]any{"steps": steps}, nil
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "update_edge_properties",
			Description: "Merge a property patch into an edge.",
			InputSchema: objectSchema(map[string]interface{}{
				"edge_id":    prop("string", "Edge to update"),
				"properties": prop("object", "Property patch, merged into the existing properties"),
				"op_id":      prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "edge_id", "properties"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			edgeID, err := requireString(args, "edge_id")
			if err != nil {
				return nil, err
			}
			patch, err := optionalMap(args, "properties")
			if err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Graph.UpdateEdgeProperties(ctx, tc.TenantID, op, edgeID, patch)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "delete_edge",
			Description: "Delete an edge. The endpoints are untouched.",
			InputSchema: objectSchema(map[string]interface{}{
				"edge_id": prop("string", "Edge to delete"),
				"op_id":   prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "edge_id"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			edgeID, err := requireString(args, "edge_id")
			if err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			if err := svc.Graph.DeleteEdge(ctx, tc.TenantID, op, edgeID); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "edge_id": edgeID}, nil
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_project_tasks",
			Description: "Group a project node's children into todo/doing/done by their status property.",
			InputSchema: objectSchema(map[string]interface{}{
				"project_node_id": prop("string", "Project node whose children to group"),
			}, "project_node_id"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			projectNodeID, err := requireString(args, "project_node_id")
			if err != nil {
				return nil, err
			}
			return svc.Graph.GetProjectTasks(ctx, tc.TenantID, projectNodeID)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "resolve_node",
			Description: "Resolve a node id to its kind and row, dispatching on the id prefix.",
			InputSchema: objectSchema(map[string]interface{}{
				"node_id": prop("string", "Node id to resolve"),
			}, "node_id"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			nodeID, err := requireString(args, "node_id")
			if err != nil {
				return nil, err
			}
			return svc.Graph.ResolveNode(ctx, tc.TenantID, nodeID)
		},
	})
}
