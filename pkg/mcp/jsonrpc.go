// Package mcp is the tool dispatcher: a stateless JSON-RPC 2.0 surface over
// HTTP POST exposing the memory operations to agents, with bearer
// authentication and tenant context injection.
package mcp

import "encoding/json"

// Request is the JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes, in the implementation-defined -32000…-32099 band.
const (
	CodePermanentError       = -32000
	CodeTenantMismatch       = -32001
	CodeNotFound             = -32002
	CodeConflict             = -32003
	CodeCircularDependency   = -32004
	CodeReferentialIntegrity = -32005
	CodeExpiredCapsule       = -32006
	CodeTemporaryUnavailable = -32010
	CodeDeadlineExceeded     = -32011
)

func newResponse(id any, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func newErrorResponse(id any, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
}

// callParams is the tools/call parameter shape.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
