// Package gateway implements the MCP JSON-RPC surface (§4.6): POST /mcp
// request/notification dispatch, GET /mcp SSE streaming, approved-tool
// filtering, and routing into the management dispatcher or the sandbox.
package gateway

import "encoding/json"

// Request is an inbound JSON-RPC 2.0 request or notification. ID is nil for
// a notification (the spec's only inline signal distinguishing the two is
// the presence of this field).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether this request carries no id.
func (r *Request) IsNotification() bool { return len(r.ID) == 0 }

// Response is an outbound JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func resultResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// ContentBlock is a single piece of MCP tool-call output content.
type ContentBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// CallToolResult is the MCP envelope a tools/call response is wrapped in.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// InitializeParams is the client's handshake payload.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// InitializeResult is the gateway's fixed handshake reply.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      serverInfo   `json:"serverInfo"`
	Capabilities    capabilities `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type capabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

// ProtocolVersion is the MCP protocol version advertised on initialize.
const ProtocolVersion = "2024-11-05"

// ToolDescriptor is the MCP-facing shape of one catalog entry returned from
// tools/list (approved+enabled gateway tools unioned with the static
// management-tool catalog).
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ListToolsResult is the tools/list response body.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// CallToolParams is the tools/call request payload.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
