package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolContext carries the authenticated identity into tool handlers.
type ToolContext struct {
	TenantID    string
	PrincipalID string
	Scopes      []string
}

// HandlerFunc executes one tool call. The returned value is marshaled as the
// structured tool result; errors are mapped through mapError.
type HandlerFunc func(ctx context.Context, tc ToolContext, args map[string]any) (any, error)

// Tool pairs an MCP tool definition with its handler.
type Tool struct {
	Def     mcp.Tool
	Handler HandlerFunc
}

// Registry holds the tool table in registration order so tools/list is stable.
type Registry struct {
	tools  []Tool
	byName map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

func (r *Registry) Register(t Tool) {
	if _, dup := r.byName[t.Def.Name]; dup {
		panic("mcp: duplicate tool " + t.Def.Name)
	}
	r.byName[t.Def.Name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// List returns the tool definitions in registration order.
func (r *Registry) List() []mcp.Tool {
	defs := make([]mcp.Tool, len(r.tools))
	for i, t := range r.tools {
		defs[i] = t.Def
	}
	return defs
}

// Lookup returns the handler for a tool name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.tools[i].Handler, true
}

// objectSchema is a small helper for declaring tool input schemas.
func objectSchema(properties map[string]interface{}, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func prop(typ, desc string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": desc}
}

func enumProp(desc string, values ...string) map[string]interface{} {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return map[string]interface{}{"type": "string", "description": desc, "enum": enum}
}

func arrayProp(itemType, desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": desc,
		"items":       map[string]interface{}{"type": itemType},
	}
}
