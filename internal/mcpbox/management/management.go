// Package management implements the LLM-facing mcpbox_* tool catalog (§4.7):
// server and tool CRUD, approval-workflow requests, versioning, execution-log
// access, secret placeholders, and external-source discovery/import. Every
// handler's result is wrapped in an MCP content envelope before it reaches
// the gateway.
package management

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/activity"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/approvals"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/gateway"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandbox"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// SandboxClient is the subset of sandbox.Client the management dispatcher
// needs: server (un)registration, code execution, tool listing for external
// passthrough discovery/import, and package installation for module grants.
type SandboxClient interface {
	RegisterServer(ctx context.Context, req sandbox.RegisterServerRequest) (*sandbox.RegisterServerResult, error)
	UnregisterServer(ctx context.Context, serverID string) error
	ExecuteCode(ctx context.Context, req sandbox.ExecuteCodeRequest) (*sandbox.CallToolResult, error)
	UpdateServerSecrets(ctx context.Context, serverID string, secrets map[string]string) error
	MCPRequest(ctx context.Context, sourceName string, rpc json.RawMessage) (json.RawMessage, error)
	InstallPackage(ctx context.Context, name, version string) (*sandbox.PackageStatusResult, error)
}

// ChangeNotifier is signaled whenever a tool or server mutation should cause
// the gateway's tools/list view to be considered stale (re-registration,
// enable/disable, approval changes). Kept minimal and local for the same
// reason as gateway's SandboxClient mirrors.
type ChangeNotifier interface {
	ToolsChanged(ctx context.Context, serverID string)
}

// handlerFunc implements one mcpbox_* tool. It returns the JSON-marshalable
// result value on success, or an error whose message becomes the envelope's
// isError text block.
type handlerFunc func(ctx context.Context, s *Service, args map[string]any) (any, error)

// Service is the gateway.ManagementService implementation.
type Service struct {
	db         *store.Store
	approvals  *approvals.Service
	settings   settings.Store
	sandbox    SandboxClient
	notifier   ChangeNotifier
	activity   *activity.Logger
	masterKey  []byte
	catalog    []gateway.ToolDescriptor
	handlers   map[string]handlerFunc
	schemas    map[string]*jsonschema.Schema
}

// New constructs the management Service and compiles every catalog entry's
// input schema up front so a malformed schema fails fast at startup rather
// than on first use.
func New(db *store.Store, approvalsSvc *approvals.Service, st settings.Store, sandboxClient SandboxClient, notifier ChangeNotifier, log *activity.Logger, masterKey []byte) *Service {
	s := &Service{
		db:        db,
		approvals: approvalsSvc,
		settings:  st,
		sandbox:   sandboxClient,
		notifier:  notifier,
		activity:  log,
		masterKey: masterKey,
	}
	s.catalog, s.handlers, s.schemas = buildCatalog()
	return s
}

// Catalog returns the static mcpbox_* tool descriptors for tools/list.
func (s *Service) Catalog() []gateway.ToolDescriptor {
	return s.catalog
}

// ExecuteTool dispatches name to its handler, validates args against the
// tool's input schema first, and wraps the outcome in an MCP content
// envelope. Unknown names return {"error": "Unknown tool"}.
func (s *Service) ExecuteTool(ctx context.Context, name string, args map[string]any) gateway.CallToolResult {
	h, ok := s.handlers[name]
	if !ok {
		return errorEnvelope(map[string]any{"error": "Unknown tool"})
	}

	if schema, ok := s.schemas[name]; ok && schema != nil {
		if err := schema.Validate(argsOrEmpty(args)); err != nil {
			return errorEnvelope(map[string]any{"error": fmt.Sprintf("invalid arguments: %v", err)})
		}
	}

	result, err := h(ctx, s, args)
	if err != nil {
		slog.Warn("management: tool call failed", "tool", name, "err", err)
		return errorEnvelope(map[string]any{"error": err.Error()})
	}
	return successEnvelope(result)
}

func argsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func successEnvelope(result any) gateway.CallToolResult {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorEnvelope(map[string]any{"error": "failed to marshal result"})
	}
	return gateway.CallToolResult{Content: []gateway.ContentBlock{{Type: "text", Text: string(b)}}}
}

func errorEnvelope(payload map[string]any) gateway.CallToolResult {
	b, _ := json.MarshalIndent(payload, "", "  ")
	return gateway.CallToolResult{
		Content: []gateway.ContentBlock{{Type: "text", Text: string(b), IsError: true}},
		IsError: true,
	}
}

func (s *Service) notifyToolsChanged(ctx context.Context, serverID string) {
	if s.notifier != nil {
		s.notifier.ToolsChanged(ctx, serverID)
	}
}
