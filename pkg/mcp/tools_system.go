package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/engram-memory/engram/pkg/consolidation"
	"github.com/engram-memory/engram/pkg/services"
)

// registerSystemTools binds the consolidation and observability tools.
func registerSystemTools(r *Registry, svc *Services) {
	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_compression_stats",
			Description: "Report consolidation statistics: handoff counts per level and tokens saved.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			return svc.System.GetCompressionStats(ctx, tc.TenantID)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_system_health",
			Description: "Report database reachability, background job counts, the embedding backlog and active warnings.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			return svc.System.GetSystemHealth(ctx)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name:        "get_next_actions",
			Description: "List outstanding work for the tenant: open feedback and todo-status project tasks.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			return svc.System.GetNextActions(ctx, tc.TenantID)
		},
	})

	r.Register(Tool{
		Def: mcp.Tool{
			Name: "run_consolidation",
			Description: "Trigger a consolidation pass for the tenant. A monthly tick runs the full " +
				"ladder including integration; daily runs compression only.",
			InputSchema: objectSchema(map[string]interface{}{
				"tick": enumProp("Which pass to run (default monthly)", "daily", "weekly", "monthly"),
			}),
		},
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			tick, err := optionalString(args, "tick")
			if err != nil {
				return nil, err
			}
			if tick == "" {
				tick = string(consolidation.TickMonthly)
			}
			switch consolidation.Tick(tick) {
			case consolidation.TickDaily, consolidation.TickWeekly, consolidation.TickMonthly:
			default:
				return nil, services.NewValidationError("tick", "must be daily, weekly or monthly")
			}
			jobs, err := svc.Consolidation.RunTenant(ctx, tc.TenantID, consolidation.Tick(tick))
			if err != nil {
				return nil, err
			}
			jobIDs := make([]string, 0, len(jobs))
			for _, j := range jobs {
				jobIDs = append(jobIDs, j.JobID)
			}
			return map[string]any{"tick": tick, "job_ids": jobIDs}, nil
		},
	})
}
