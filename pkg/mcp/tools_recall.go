package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/services"
)

func recallRequestFromArgs(args map[string]any) (*models.RecallRequest, error) {
	req := &models.RecallRequest{}
	var err error
	if req.Query, err = requireString(args, "query"); err != nil {
		return nil, err
	}
	if req.Types, err = optionalStringSlice(args, "types"); err != nil {
		return nil, err
	}
	if req.ProjectPath, err = optionalString(args, "project_path"); err != nil {
		return nil, err
	}
	if req.WithWhom, err = optionalString(args, "with_whom"); err != nil {
		return nil, err
	}
	if _, err = decodeObject(args, "time_range", &req.TimeRange); err != nil {
		return nil, err
	}
	if req.Limit, err = optionalInt(args, "limit", 0); err != nil {
		return nil, err
	}
	if req.MinSimilarity, err = optionalFloat(args, "min_similarity"); err != nil {
		return nil, err
	}
	if req.Expand, err = optionalBool(args, "expand", false); err != nil {
		return nil, err
	}
	return req, nil
}

var recallProperties = map[string]interface{}{
	"query":          prop("string", "Free-text query"),
	"types":          arrayProp("string", "Memory types to search: session_handoffs, knowledge_notes, agent_feedback, capsules, or all"),
	"project_path":   prop("string", "Restrict to one project"),
	"with_whom":      prop("string", "Restrict to one counterpart"),
	"time_range":     prop("object", "RFC 3339 {from, to} bounds on created_at"),
	"limit":          prop("integer", "Maximum results, 1-50 (default 5)"),
	"min_similarity": prop("number", "Cosine similarity floor, 0.0-1.0 (default 0.5)"),
	"expand":         prop("boolean", "Return full handoff text instead of the compressed form"),
}

// registerRecallTools binds the retrieval tools. hybrid_search is recall with
// the type list required; semantic_search drops the full-text leg.
func registerRecallTools(r *Registry, svc *Services) {
	r.Register(Tool{
		Def: mcp.Tool{
			Name: "recall",
			Description: "Hybrid retrieval across memories: full-text and vector search blended " +
				"with recency. Falls back to full-text only when embedding is unavailable.",
			InputSchema: objectSchema(recallProperties, "query"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			req, err := recallRequestFromArgs(args)
			if err != nil {
				return nil, err
			}
			results, err := svc.Recall.Recall(ctx, tc.TenantID, req)
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": results}, nil
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "semantic_search",
			Description: "Vector-only retrieval: rank memories purely by embedding similarity.",
			InputSchema: objectSchema(recallProperties, "query"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			req, err := recallRequestFromArgs(args)
			if err != nil {
				return nil, err
			}
			results, err := svc.Recall.SemanticSearch(ctx, tc.TenantID, req)
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": results}, nil
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "hybrid_search",
			Description: "Hybrid retrieval over an explicit set of memory types.",
			InputSchema: objectSchema(recallProperties, "query", "types"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			req, err := recallRequestFromArgs(args)
			if err != nil {
				return nil, err
			}
			if len(req.Types) == 0 {
				return nil, services.NewValidationError("types", "required")
			}
			results, err := svc.Recall.Recall(ctx, tc.TenantID, req)
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": results}, nil
		},
	})
}
