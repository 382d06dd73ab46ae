package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/engram-memory/engram/pkg/models"
)

// registerMemoryTools binds the session-continuity and knowledge-note tools.
func registerMemoryTools(r *Registry, svc *Services) {
	r.Register(Tool{
		Def: mcp.Tool{
			Name: "wake_up",
			Description: "Load the session-start context bundle for a counterpart: recent handoffs, " +
				"identity thread, active decisions and visible capsules.",
			InputSchema: objectSchema(map[string]interface{}{
				"with_whom":    prop("string", "Counterpart the session is with"),
				"layers":       arrayProp("string", "Bundle layers to include (default: all)"),
				"recent_count": prop("integer", "Number of recent handoffs, 1-20 (default 3)"),
			}, "with_whom"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			withWhom, err := requireString(args, "with_whom")
			if err != nil {
				return nil, err
			}
			layers, err := optionalStringSlice(args, "layers")
			if err != nil {
				return nil, err
			}
			recentCount, err := optionalInt(args, "recent_count", 0)
			if err != nil {
				return nil, err
			}
			return svc.Wake.WakeUp(ctx, tc.TenantID, tc.PrincipalID, &models.WakeRequest{
				WithWhom:    withWhom,
				Layers:      layers,
				RecentCount: recentCount,
			})
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name: "create_handoff",
			Description: "Record a session handoff: what was experienced, noticed and learned, " +
				"what to remember, and how significant it felt.",
			InputSchema: objectSchema(map[string]interface{}{
				"session_id":        prop("string", "Session the handoff closes"),
				"with_whom":         prop("string", "Counterpart the session was with"),
				"experienced":       prop("string", "What happened this session"),
				"noticed":           prop("string", "Patterns or surprises noticed"),
				"learned":           prop("string", "What was learned"),
				"story":             prop("string", "Optional free-form narrative"),
				"becoming":          prop("string", "Optional identity-trajectory statement"),
				"remember":          prop("string", "The single thing to carry forward"),
				"significance":      prop("number", "Felt significance, 0.0-1.0"),
				"tags":              arrayProp("string", "Free-form tags"),
				"parent_handoff_id": prop("string", "Handoff this one continues"),
				"influenced_by":     prop("string", "External influence on this session"),
				"op_id":             prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "session_id", "with_whom", "experienced", "noticed", "learned", "remember", "significance"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			req := &models.CreateHandoffRequest{}
			var err error
			if req.SessionID, err = requireString(args, "session_id"); err != nil {
				return nil, err
			}
			if req.WithWhom, err = requireString(args, "with_whom"); err != nil {
				return nil, err
			}
			if req.Experienced, err = requireString(args, "experienced"); err != nil {
				return nil, err
			}
			if req.Noticed, err = requireString(args, "noticed"); err != nil {
				return nil, err
			}
			if req.Learned, err = requireString(args, "learned"); err != nil {
				return nil, err
			}
			if req.Remember, err = requireString(args, "remember"); err != nil {
				return nil, err
			}
			if req.Significance, err = requireFloat(args, "significance"); err != nil {
				return nil, err
			}
			if req.Story, err = optionalString(args, "story"); err != nil {
				return nil, err
			}
			if req.Becoming, err = optionalString(args, "becoming"); err != nil {
				return nil, err
			}
			if req.Tags, err = optionalStringSlice(args, "tags"); err != nil {
				return nil, err
			}
			if req.ParentHandoffID, err = optionalString(args, "parent_handoff_id"); err != nil {
				return nil, err
			}
			if req.InfluencedBy, err = optionalString(args, "influenced_by"); err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Memory.CreateHandoff(ctx, tc.TenantID, op, req)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_last_handoff",
			Description: "Fetch the most recent handoff for a counterpart, at its current compression level.",
			InputSchema: objectSchema(map[string]interface{}{
				"with_whom": prop("string", "Counterpart to look up"),
				"expand":    prop("boolean", "Return retained lower-level fields for compressed handoffs"),
			}, "with_whom"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			withWhom, err := requireString(args, "with_whom")
			if err != nil {
				return nil, err
			}
			expand, err := optionalBool(args, "expand", false)
			if err != nil {
				return nil, err
			}
			return svc.Memory.GetLastHandoff(ctx, tc.TenantID, withWhom, expand)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_identity_thread",
			Description: "Fetch the chronological becoming-statements for a counterpart.",
			InputSchema: objectSchema(map[string]interface{}{
				"with_whom": prop("string", "Counterpart to look up"),
				"limit":     prop("integer", "Maximum entries to return (default 10)"),
			}, "with_whom"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			withWhom, err := requireString(args, "with_whom")
			if err != nil {
				return nil, err
			}
			limit, err := optionalInt(args, "limit", models.WakeIdentityLimit)
			if err != nil {
				return nil, err
			}
			entries, err := svc.Memory.GetIdentityThread(ctx, tc.TenantID, withWhom, limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"with_whom": withWhom, "entries": entries}, nil
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "list_handoffs",
			Description: "List handoffs, newest first, with keyset pagination.",
			InputSchema: objectSchema(map[string]interface{}{
				"with_whom":      prop("string", "Filter by counterpart"),
				"session_id":     prop("string", "Filter by session"),
				"tag":            prop("string", "Filter by tag"),
				"created_before": prop("string", "RFC 3339 upper bound on created_at"),
				"created_after":  prop("string", "RFC 3339 lower bound on created_at"),
				"expand":         prop("boolean", "Return retained lower-level fields for compressed handoffs"),
				"limit":          prop("integer", "Page size"),
				"cursor":         prop("object", "Cursor from the previous page"),
			}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			var filters models.HandoffFilters
			var err error
			if filters.WithWhom, err = optionalString(args, "with_whom"); err != nil {
				return nil, err
			}
			if filters.SessionID, err = optionalString(args, "session_id"); err != nil {
				return nil, err
			}
			if filters.Tag, err = optionalString(args, "tag"); err != nil {
				return nil, err
			}
			if filters.CreatedBefore, err = optionalTime(args, "created_before"); err != nil {
				return nil, err
			}
			if filters.CreatedAfter, err = optionalTime(args, "created_after"); err != nil {
				return nil, err
			}
			if filters.Expand, err = optionalBool(args, "expand", false); err != nil {
				return nil, err
			}
			page, err := pageFromArgs(args)
			if err != nil {
				return nil, err
			}
			return svc.Memory.ListHandoffs(ctx, tc.TenantID, filters, page)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "create_knowledge_note",
			Description: "Store a knowledge note with tags, project scope and provenance.",
			InputSchema: objectSchema(map[string]interface{}{
				"text":            prop("string", "Note body"),
				"tags":            arrayProp("string", "Free-form tags, normalized to lower case"),
				"project_path":    prop("string", "Project the note belongs to"),
				"confidence":      prop("number", "Confidence 0.0-1.0"),
				"source_handoffs": arrayProp("string", "Handoff ids this note was distilled from"),
				"op_id":           prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "text"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			req := &models.CreateNoteRequest{}
			var err error
			if req.Text, err = requireString(args, "text"); err != nil {
				return nil, err
			}
			if req.Tags, err = optionalStringSlice(args, "tags"); err != nil {
				return nil, err
			}
			if req.ProjectPath, err = optionalString(args, "project_path"); err != nil {
				return nil, err
			}
			if req.Confidence, err = optionalFloat(args, "confidence"); err != nil {
				return nil, err
			}
			if req.SourceHandoffs, err = optionalStringSlice(args, "source_handoffs"); err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Memory.CreateNote(ctx, tc.TenantID, op, req)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "remember_note",
			Description: "Quick capture: store a short note against a counterpart with minimal ceremony.",
			InputSchema: objectSchema(map[string]interface{}{
				"text":      prop("string", "Note body"),
				"with_whom": prop("string", "Counterpart the note concerns"),
				"tags":      arrayProp("string", "Free-form tags"),
				"op_id":     prop("string", "Idempotency key (assigned by the WAL client)"),
			}, "text"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			text, err := requireString(args, "text")
			if err != nil {
				return nil, err
			}
			withWhom, err := optionalString(args, "with_whom")
			if err != nil {
				return nil, err
			}
			tags, err := optionalStringSlice(args, "tags")
			if err != nil {
				return nil, err
			}
			op, err := opID(args)
			if err != nil {
				return nil, err
			}
			return svc.Memory.RememberNote(ctx, tc.TenantID, op, text, withWhom, tags)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_knowledge_notes",
			Description: "List knowledge notes, newest first, with keyset pagination.",
			InputSchema: objectSchema(map[string]interface{}{
				"tag":          prop("string", "Filter by tag"),
				"project_path": prop("string", "Filter by project"),
				"limit":        prop("integer", "Page size"),
				"cursor":       prop("object", "Cursor from the previous page"),
			}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			var filters models.NoteFilters
			var err error
			if filters.Tag, err = optionalString(args, "tag"); err != nil {
				return nil, err
			}
			if filters.ProjectPath, err = optionalString(args, "project_path"); err != nil {
				return nil, err
			}
			page, err := pageFromArgs(args)
			if err != nil {
				return nil, err
			}
			return svc.Memory.ListNotes(ctx, tc.TenantID, filters, page)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_quick_reference",
			Description: "Fetch the most recent quick-reference lines for a counterpart, a cheap wake-up variant.",
			InputSchema: objectSchema(map[string]interface{}{
				"with_whom": prop("string", "Counterpart to look up"),
				"limit":     prop("integer", "Maximum lines to return"),
			}, "with_whom"),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			withWhom, err := requireString(args, "with_whom")
			if err != nil {
				return nil, err
			}
			limit, err := optionalInt(args, "limit", 0)
			if err != nil {
				return nil, err
			}
			return svc.Wake.GetQuickReference(ctx, tc.TenantID, withWhom, limit)
		},
	})
}
