package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JGtHb/MCPbox-sub000/common/trace"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/activity"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/auth"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/metrics"
)

// ManagementPrefix identifies the LLM-facing management tool catalog.
const ManagementPrefix = "mcpbox_"

// destructiveManagementTools may only be invoked by a local caller (§4.6.5).
var destructiveManagementTools = map[string]bool{
	"mcpbox_delete_server": true,
	"mcpbox_delete_tool":   true,
}

// SandboxClient is the subset of sandbox.Client the gateway forwards
// requests to.
type SandboxClient interface {
	ListTools(ctx context.Context, serverID string) ([]SandboxToolDefinition, error)
	CallTool(ctx context.Context, toolName string, args map[string]any, debugMode bool) (*SandboxCallResult, error)
	MCPRequest(ctx context.Context, sourceName string, rpc json.RawMessage) (json.RawMessage, error)
}

// SandboxCallResult mirrors sandbox.CallToolResult's fields the gateway
// needs, kept local for the same reason as SandboxToolDefinition.
type SandboxCallResult struct {
	Success bool
	Result  any
	Error   string
}

// SandboxToolDefinition mirrors sandbox.ToolDefinition's fields the gateway
// needs to build tools/list responses, kept local so the gateway package does
// not import the sandbox package.
type SandboxToolDefinition struct {
	Name        string
	Description string
	InputSchema string
}

// ManagementService executes a mcpbox_* tool and returns its wrapped result.
type ManagementService interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) CallToolResult
	Catalog() []ToolDescriptor
}

// ApprovedToolSet reports which server_name__tool_name combinations are
// currently approved, enabled, and served by a running server.
type ApprovedToolSet interface {
	ApprovedEnabledToolNames(ctx context.Context) (map[string]bool, error)
}

// Gateway dispatches MCP JSON-RPC requests per §4.6.
type Gateway struct {
	auth       *auth.Pipeline
	sandbox    SandboxClient
	management ManagementService
	approved   ApprovedToolSet
	activity   *activity.Logger
}

// New constructs a Gateway.
func New(authPipeline *auth.Pipeline, sandbox SandboxClient, mgmt ManagementService, approved ApprovedToolSet, log *activity.Logger) *Gateway {
	return &Gateway{auth: authPipeline, sandbox: sandbox, management: mgmt, approved: approved, activity: log}
}

// DispatchResult is what HandleRequest returns to the HTTP layer: either a
// JSON-RPC response body, or httpStatus-only (notifications reply 202 with
// no body).
type DispatchResult struct {
	Body       *Response
	HTTPStatus int
}

// HandleRequest runs the full per-request pipeline: correlation id + request
// log, auth classification, method dispatch, response log. It never panics
// out to the caller — any internal error becomes a generic -32603 response.
func (g *Gateway) HandleRequest(ctx context.Context, req Request, authReq auth.Request, authDecision auth.Decision) DispatchResult {
	start := time.Now()
	correlationID := newCorrelationID()

	g.activity.LogMCPRequest(serverIDLabel(authReq), correlationID, req.Method, paramsAsMap(req.Params))

	// A transport-level denial (bad/missing token, rate-limited) is normally
	// intercepted by the HTTP layer before HandleRequest is even called; a
	// method-level authorization denial (§4.5 table) surfaces as a JSON-RPC
	// error here instead, since the token itself WAS valid.
	if !authDecision.Allowed {
		code := authDecision.JSONRPCCode
		if code == 0 {
			code = -32600
		}
		resp := errorResponse(req.ID, code, authDecision.JSONRPCMessage)
		g.logResponse(authReq, correlationID, req.Method, start, false, authDecision.JSONRPCMessage)
		return DispatchResult{Body: resp}
	}

	if !req.IsNotification() {
		if d := g.auth.Authorize(authReq, req.Method); !d.Allowed {
			resp := errorResponse(req.ID, d.JSONRPCCode, d.JSONRPCMessage)
			g.logResponse(authReq, correlationID, req.Method, start, false, d.JSONRPCMessage)
			return DispatchResult{Body: resp}
		}
	}

	resp, httpStatus := g.route(ctx, req, authReq)

	success := resp == nil || resp.Error == nil
	var errMsg string
	if resp != nil && resp.Error != nil {
		errMsg = resp.Error.Message
	}
	g.logResponse(authReq, correlationID, req.Method, start, success, errMsg)

	return DispatchResult{Body: resp, HTTPStatus: httpStatus}
}

func (g *Gateway) route(ctx context.Context, req Request, authReq auth.Request) (resp *Response, httpStatus int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("gateway: panic during dispatch", "method", req.Method, "panic", r)
			resp = errorResponse(req.ID, -32603, "Internal server error")
		}
	}()

	switch {
	case req.Method == "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      serverInfo{Name: "mcpbox", Version: "1.0"},
			Capabilities:    capabilities{Tools: &struct{}{}},
		}), 0

	case strings.HasPrefix(req.Method, "notifications/"):
		return nil, 202

	case req.Method == "tools/list":
		result, err := g.handleToolsList(ctx)
		if err != nil {
			slog.Error("gateway: tools/list failed", "err", err)
			return errorResponse(req.ID, -32603, "Internal server error"), 0
		}
		return resultResponse(req.ID, result), 0

	case req.Method == "tools/call":
		return g.handleToolsCall(ctx, req, authReq)

	default:
		return g.forwardToSandbox(ctx, req)
	}
}

func (g *Gateway) handleToolsCall(ctx context.Context, req Request, authReq auth.Request) (*Response, int) {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, -32602, "Invalid params"), 0
	}

	if strings.HasPrefix(params.Name, ManagementPrefix) {
		if destructiveManagementTools[params.Name] && authReq.Source != auth.SourceLocal {
			return resultResponse(req.ID, CallToolResult{
				Content: []ContentBlock{{Type: "text", Text: "This operation is local-only.", IsError: true}},
				IsError: true,
			}), 0
		}
		result := g.management.ExecuteTool(ctx, params.Name, params.Arguments)
		return resultResponse(req.ID, result), 0
	}

	out, err := g.sandbox.CallTool(ctx, params.Name, params.Arguments, false)
	if err != nil {
		slog.Error("gateway: sandbox call_tool failed", "tool", params.Name, "err", err)
		metrics.ToolCallsTotal.WithLabelValues(params.Name, "failure").Inc()
		return errorResponse(req.ID, -32603, "Internal server error"), 0
	}
	outcome := "success"
	if !out.Success {
		outcome = "failure"
	}
	metrics.ToolCallsTotal.WithLabelValues(params.Name, outcome).Inc()

	result := CallToolResult{Content: []ContentBlock{{Type: "text", Text: fmt.Sprint(out.Result)}}}
	if !out.Success {
		result.IsError = true
		result.Content = []ContentBlock{{Type: "text", Text: out.Error, IsError: true}}
	}
	return resultResponse(req.ID, result), 0
}

// forwardToSandbox passes the entire JSON-RPC envelope through unmodified,
// for any method this gateway does not specifically interpret — the sandbox
// process owns that routing.
func (g *Gateway) forwardToSandbox(ctx context.Context, req Request) (*Response, int) {
	raw, err := json.Marshal(req)
	if err != nil {
		return errorResponse(req.ID, -32603, "Internal server error"), 0
	}
	out, err := g.sandbox.MCPRequest(ctx, "", raw)
	if err != nil {
		slog.Error("gateway: sandbox forward failed", "method", req.Method, "err", err)
		return errorResponse(req.ID, -32603, "Internal server error"), 0
	}
	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		slog.Error("gateway: sandbox returned unparseable envelope", "method", req.Method, "err", err)
		return errorResponse(req.ID, -32603, "Internal server error"), 0
	}
	return &resp, 0
}

func (g *Gateway) logResponse(authReq auth.Request, correlationID, method string, start time.Time, success bool, errMsg string) {
	durationMs := int(time.Since(start).Milliseconds())
	details := map[string]any{}
	if errMsg != "" {
		details["error"] = errMsg
	}
	g.activity.LogMCPResponse(serverIDLabel(authReq), correlationID, method, durationMs, success, details)

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.MCPRequestsTotal.WithLabelValues(method, outcome).Inc()
	metrics.MCPRequestDurationSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// serverIDLabel leaves the activity log's server_id column blank: dispatch
// here isn't scoped to one server, only individual tool calls are.
func serverIDLabel(_ auth.Request) string { return "" }

func paramsAsMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"_raw": string(raw)}
	}
	return m
}

func newCorrelationID() string {
	return trace.GenerateID()
}
