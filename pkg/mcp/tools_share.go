package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/engram-memory/engram/pkg/models"
)

// registerShareTools binds capsules, semantic principles and agent feedback.
func registerShareTools(r *Registry, svc *Services) {
	r.Register(Tool{
		Def: mcp.Tool{
			Name: "create_capsule",
			Description: "Share a curated, TTL-bounded bundle of memory items with a specific audience. " +
				"Capsules are immutable after creation.",
			InputSchema: objectSchema(map[string]interface{}{
				"scope":              enumProp("Sharing boundary", "session", "user", "project", "policy", "global"),
				"subject_type":       prop("string", "What the capsule is about, e.g. project or user"),
				"subject_id":         prop("string", "Identifier of the subject"),
				"audience_agent_ids": arrayProp("string", "Agent ids allowed to read it; [\"*\"] means tenant-wide"),
				"ttl_days":           prop("integer", "Days until expiry; 0 expires on first read"),
				"items":              prop("object", "Curated content: chunks, decisions, artifacts"),
				"risks":              arrayProp("string", "Known caveats for consumers"),
				"op_id":              prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "scope", "subject_type", "subject_id", "items"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			req := &models.CreateCapsuleRequest{}
			scope, err := requireString(args, "scope")
			if err != nil {
				return nil, err
			}
			req.Scope = models.CapsuleScope(scope)
			if req.SubjectType, err = requireString(args, "subject_type"); err != nil {
				return nil, err
			}
			if req.SubjectID, err = requireString(args, "subject_id"); err != nil {
				return nil, err
			}
			if req.AudienceAgentIDs, err = optionalStringSlice(args, "audience_agent_ids"); err != nil {
				return nil, err
			}
			if req.TTLDays, err = optionalIntPtr(args, "ttl_days"); err != nil {
				return nil, err
			}
			if _, err = decodeObject(args, "items", &req.Items); err != nil {
				return nil, err
			}
			if req.Risks, err = optionalStringSlice(args, "risks"); err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Capsules.CreateCapsule(ctx, tc.TenantID, tc.PrincipalID, op, req)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_capsules",
			Description: "List capsules visible to the caller, newest first.",
			InputSchema: objectSchema(map[string]interface{}{
				"scope":           enumProp("Filter by sharing boundary", "session", "user", "project", "policy", "global"),
				"subject_type":    prop("string", "Filter by subject type"),
				"subject_id":      prop("string", "Filter by subject id"),
				"include_expired": prop("boolean", "Include capsules past their expiry"),
				"limit":           prop("integer", "Page size"),
				"cursor":          prop("object", "Cursor from the previous page"),
			}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			var filters models.CapsuleFilters
			scope, err := optionalString(args, "scope")
			if err != nil {
				return nil, err
			}
			filters.Scope = models.CapsuleScope(scope)
			if filters.SubjectType, err = optionalString(args, "subject_type"); err != nil {
				return nil, err
			}
			if filters.SubjectID, err = optionalString(args, "subject_id"); err != nil {
				return nil, err
			}
			if filters.IncludeExpired, err = optionalBool(args, "include_expired", false); err != nil {
				return nil, err
			}
			page, err := pageFromArgs(args)
			if err != nil {
				return nil, err
			}
			return svc.Capsules.ListCapsules(ctx, tc.TenantID, tc.PrincipalID, filters, page)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name: "list_semantic_principles",
			Description: "List the tenant's global principles: decisions distilled by identity " +
				"consolidation plus manually created global decisions.",
			InputSchema: objectSchema(map[string]interface{}{
				"limit": prop("integer", "Maximum principles to return"),
			}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			limit, err := optionalInt(args, "limit", 0)
			if err != nil {
				return nil, err
			}
			principles, err := svc.Decisions.ListSemanticPrinciples(ctx, tc.TenantID, limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"principles": principles}, nil
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "agent_feedback",
			Description: "Submit feedback about working with the memory system.",
			InputSchema: objectSchema(map[string]interface{}{
				"kind":  enumProp("Feedback category", "friction", "bug", "suggestion", "praise"),
				"text":  prop("string", "Feedback body"),
				"op_id": prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "kind", "text"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			kind, err := requireString(args, "kind")
			if err != nil {
				return nil, err
			}
			text, err := requireString(args, "text")
			if err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Feedback.SubmitFeedback(ctx, tc.TenantID, op, &models.SubmitFeedbackRequest{
				Kind: models.FeedbackKind(kind),
				Text: text,
			})
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_agent_feedback",
			Description: "List submitted feedback, newest first.",
			InputSchema: objectSchema(map[string]interface{}{
				"kind":   enumProp("Filter by category", "friction", "bug", "suggestion", "praise"),
				"status": enumProp("Filter by triage state", "open", "reviewed", "addressed", "rejected"),
				"limit":  prop("integer", "Page size"),
				"cursor": prop("object", "Cursor from the previous page"),
			}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			var filters models.FeedbackFilters
			kind, err := optionalString(args, "kind")
			if err != nil {
				return nil, err
			}
			filters.Kind = models.FeedbackKind(kind)
			status, err := optionalString(args, "status")
			if err != nil {
				return nil, err
			}
			filters.Status = models.FeedbackStatus(status)
			page, err := pageFromArgs(args)
			if err != nil {
				return nil, err
			}
			return svc.Feedback.ListFeedback(ctx, tc.TenantID, filters, page)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "update_agent_feedback",
			Description: "Advance a feedback entry through its triage states.",
			InputSchema: objectSchema(map[string]interface{}{
				"feedback_id": prop("string", "Feedback entry to update"),
				"status":      enumProp("Next triage state", "reviewed", "addressed", "rejected"),
				"op_id":       prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "feedback_id", "status"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			feedbackID, err := requireString(args, "feedback_id")
			if err != nil {
				return nil, err
			}
			status, err := requireString(args, "status")
			if err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Feedback.UpdateFeedbackStatus(ctx, tc.TenantID, op, feedbackID, models.FeedbackStatus(status))
		},
	})
}
