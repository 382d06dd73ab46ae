package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/engram-memory/engram/pkg/consolidation"
	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/services"
	"github.com/engram-memory/engram/pkg/version"
)

const protocolVersion = "2025-03-26"

// ConsolidationRunner triggers a consolidation pass for one tenant. The
// consolidation engine satisfies this; tests substitute a stub.
type ConsolidationRunner interface {
	RunTenant(ctx context.Context, tenantID string, tick consolidation.Tick) ([]*models.ConsolidationJob, error)
}

// Services bundles everything the tool handlers reach.
type Services struct {
	Memory        *services.MemoryService
	Capsules      *services.CapsuleService
	Decisions     *services.DecisionService
	Feedback      *services.FeedbackService
	Graph         *services.GraphService
	Recall        *services.RecallService
	Wake          *services.WakeService
	System        *services.SystemService
	Consolidation ConsolidationRunner
}

// Dispatcher routes JSON-RPC requests to the tool registry.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher builds the full tool table over the given services.
func NewDispatcher(svc *Services) *Dispatcher {
	r := NewRegistry()
	registerMemoryTools(r, svc)
	registerShareTools(r, svc)
	registerGraphTools(r, svc)
	registerRecallTools(r, svc)
	registerSystemTools(r, svc)
	return &Dispatcher{registry: r}
}

// Tools exposes the registered tool definitions, in registration order.
func (d *Dispatcher) Tools() []mcp.Tool {
	return d.registry.List()
}

// Dispatch executes one JSON-RPC request and returns the response. The
// request id is echoed back; notifications (nil id) are not supported by
// this stateless server and get a response anyway.
func (d *Dispatcher) Dispatch(ctx context.Context, tc ToolContext, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return newResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": mcp.Implementation{
				Name:    version.AppName,
				Version: version.Full(),
			},
		})
	case "tools/list":
		return newResponse(req.ID, map[string]any{"tools": d.registry.List()})
	case "tools/call":
		return d.call(ctx, tc, req)
	default:
		return newErrorResponse(req.ID, &RPCError{
			Code:    CodeMethodNotFound,
			Message: "unknown method " + req.Method,
		})
	}
}

func (d *Dispatcher) call(ctx context.Context, tc ToolContext, req *Request) *Response {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newErrorResponse(req.ID, &RPCError{
				Code:    CodeInvalidParams,
				Message: "malformed tools/call params",
			})
		}
	}
	if params.Name == "" {
		return newErrorResponse(req.ID, &RPCError{
			Code:    CodeInvalidParams,
			Message: "tool name is required",
		})
	}
	handler, ok := d.registry.Lookup(params.Name)
	if !ok {
		return newErrorResponse(req.ID, &RPCError{
			Code:    CodeMethodNotFound,
			Message: "unknown tool " + params.Name,
		})
	}
	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	// Tenant injection: the authenticated tenant always wins. A caller that
	// names a different tenant gets a hard error instead of a silent rewrite.
	if raw, present := args["tenant_id"]; present {
		if s, isString := raw.(string); isString && s != "" && s != tc.TenantID {
			return newErrorResponse(req.ID, mapError(errTenantMismatch))
		}
	}
	args["tenant_id"] = tc.TenantID

	result, err := handler(ctx, tc, args)
	if err != nil {
		return newErrorResponse(req.ID, mapError(err))
	}
	return newResponse(req.ID, result)
}
