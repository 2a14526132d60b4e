package management

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/gateway"
)

// catalogEntry is one static mcpbox_* tool definition: its MCP-facing
// descriptor, input schema (as a JSON-Schema literal), and handler.
type catalogEntry struct {
	name        string
	description string
	schema      map[string]any
	handler     handlerFunc
}

func obj(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any   { return map[string]any{"type": "string", "description": desc} }
func intProp(desc string) map[string]any   { return map[string]any{"type": "integer", "description": desc} }
func boolProp(desc string) map[string]any  { return map[string]any{"type": "boolean", "description": desc} }
func arrProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}
func objProp(desc string) map[string]any {
	return map[string]any{"type": "object", "description": desc}
}

// catalogEntries is the static 35-tool mcpbox_* catalog (§4.7).
func catalogEntries() []catalogEntry {
	return []catalogEntry{
		// --- Server CRUD ---
		{"mcpbox_create_server", "Create a new server container for tools.",
			obj(map[string]any{
				"name":               strProp("Server name"),
				"description":        strProp("Server description"),
				"default_timeout_ms": intProp("Default per-tool timeout in milliseconds"),
			}, "name"), handleCreateServer},
		{"mcpbox_list_servers", "List all servers.", obj(nil), handleListServers},
		{"mcpbox_get_server", "Get a server by id.",
			obj(map[string]any{"server_id": strProp("Server id")}, "server_id"), handleGetServer},
		{"mcpbox_update_server", "Update a server's mutable fields.",
			obj(map[string]any{
				"server_id":          strProp("Server id"),
				"name":               strProp("New name"),
				"description":        strProp("New description"),
				"default_timeout_ms": intProp("New default timeout in milliseconds"),
			}, "server_id"), handleUpdateServer},
		{"mcpbox_delete_server", "Delete a server and cascade its tools, secrets, and external sources. Local callers only.",
			obj(map[string]any{"server_id": strProp("Server id")}, "server_id"), handleDeleteServer},
		{"mcpbox_start_server", "Register a server's approved+enabled tools with the sandbox and mark it running.",
			obj(map[string]any{"server_id": strProp("Server id")}, "server_id"), handleStartServer},
		{"mcpbox_stop_server", "Unregister a server from the sandbox and mark it stopped.",
			obj(map[string]any{"server_id": strProp("Server id")}, "server_id"), handleStopServer},

		// --- Tool CRUD ---
		{"mcpbox_create_tool", "Create a new draft tool with Python code defining an async main entry point.",
			obj(map[string]any{
				"server_id":   strProp("Owning server id"),
				"name":        strProp("Tool name, must match ^[a-z][a-z0-9_]*$"),
				"description": strProp("Tool description"),
				"python_code": strProp("Python source defining `async def main(...)`"),
				"enabled":     boolProp("Whether the tool is enabled"),
				"timeout_ms":  intProp("Execution timeout in milliseconds"),
			}, "server_id", "name", "python_code"), handleCreateTool},
		{"mcpbox_get_tool", "Get a tool by id.",
			obj(map[string]any{"tool_id": strProp("Tool id")}, "tool_id"), handleGetTool},
		{"mcpbox_list_tools", "List all tools belonging to a server.",
			obj(map[string]any{"server_id": strProp("Server id")}, "server_id"), handleListTools},
		{"mcpbox_update_tool", "Update a tool. Editing python_code always resets approval_status to pending_review.",
			obj(map[string]any{
				"tool_id":           strProp("Tool id"),
				"name":              strProp("New name"),
				"description":       strProp("New description"),
				"python_code":       strProp("New Python source"),
				"enabled":           boolProp("New enabled flag"),
				"timeout_ms":        intProp("New timeout in milliseconds"),
				"code_dependencies": arrProp("New list of imported module names"),
			}, "tool_id"), handleUpdateTool},
		{"mcpbox_delete_tool", "Delete a tool and cascade its versions and pending requests. Local callers only.",
			obj(map[string]any{"tool_id": strProp("Tool id")}, "tool_id"), handleDeleteTool},
		{"mcpbox_tool_status", "Get a tool's current approval/version status.",
			obj(map[string]any{"tool_id": strProp("Tool id")}, "tool_id"), handleToolStatus},

		// --- Testing ---
		{"mcpbox_test_code", "Execute a saved tool's code in the sandbox's live production environment and record the run.",
			obj(map[string]any{
				"tool_id":     strProp("Tool id"),
				"arguments":   objProp("Arguments to pass to main(...)"),
				"executed_by": strProp("Identity of the caller, for the execution log"),
			}, "tool_id"), handleTestCode},

		// --- Approval workflow ---
		{"mcpbox_request_publish", "Request a draft or rejected tool move to pending_review (or approved, under auto_approve mode).",
			obj(map[string]any{"tool_id": strProp("Tool id")}, "tool_id"), handleRequestPublish},
		{"mcpbox_approve_tool", "Approve a pending_review tool.",
			obj(map[string]any{
				"tool_id":     strProp("Tool id"),
				"approved_by": strProp("Identity of the approver"),
			}, "tool_id"), handleApproveTool},
		{"mcpbox_reject_tool", "Reject a pending_review tool with a required reason.",
			obj(map[string]any{
				"tool_id": strProp("Tool id"),
				"reason":  strProp("Rejection reason"),
			}, "tool_id", "reason"), handleRejectTool},
		{"mcpbox_revoke_tool_approval", "Move an approved tool back to pending_review.",
			obj(map[string]any{"tool_id": strProp("Tool id")}, "tool_id"), handleRevokeToolApproval},

		// --- Module access requests ---
		{"mcpbox_request_module", "Request whitelisting of a Python module import for a tool.",
			obj(map[string]any{
				"tool_id":       strProp("Tool id"),
				"module":        strProp("Module name to import"),
				"justification": strProp("Why the tool needs this module"),
			}, "tool_id", "module"), handleRequestModule},
		{"mcpbox_approve_module_request", "Approve a pending module request, adding the module to the global whitelist.",
			obj(map[string]any{
				"request_id":  strProp("Module request id"),
				"reviewed_by": strProp("Identity of the reviewer"),
			}, "request_id"), handleApproveModuleRequest},
		{"mcpbox_reject_module_request", "Reject a pending module request with a required reason.",
			obj(map[string]any{
				"request_id":  strProp("Module request id"),
				"reason":      strProp("Rejection reason"),
				"reviewed_by": strProp("Identity of the reviewer"),
			}, "request_id", "reason"), handleRejectModuleRequest},

		// --- Network access requests ---
		{"mcpbox_request_network_access", "Request outbound network access to a host (and optional port) for a tool.",
			obj(map[string]any{
				"tool_id":       strProp("Tool id"),
				"host":          strProp("Host to allow"),
				"port":          intProp("Port to allow (omit to allow the whole host)"),
				"justification": strProp("Why the tool needs this access"),
			}, "tool_id", "host"), handleRequestNetworkAccess},
		{"mcpbox_approve_network_access_request", "Approve a pending network access request, adding the host to the server's allow-list.",
			obj(map[string]any{
				"request_id":  strProp("Network access request id"),
				"reviewed_by": strProp("Identity of the reviewer"),
			}, "request_id"), handleApproveNetworkAccessRequest},
		{"mcpbox_reject_network_access_request", "Reject a pending network access request with a required reason.",
			obj(map[string]any{
				"request_id":  strProp("Network access request id"),
				"reason":      strProp("Rejection reason"),
				"reviewed_by": strProp("Identity of the reviewer"),
			}, "request_id", "reason"), handleRejectNetworkAccessRequest},

		// --- Versioning ---
		{"mcpbox_list_tool_versions", "List every version snapshot of a tool, oldest first.",
			obj(map[string]any{"tool_id": strProp("Tool id")}, "tool_id"), handleListToolVersions},
		{"mcpbox_rollback_tool", "Roll a tool back to an earlier version's content, resetting approval_status to pending_review.",
			obj(map[string]any{
				"tool_id":        strProp("Tool id"),
				"version_number": intProp("Version number to roll back to"),
			}, "tool_id", "version_number"), handleRollbackTool},

		// --- Execution history ---
		{"mcpbox_list_execution_logs", "List recent execution log rows for a tool, newest first.",
			obj(map[string]any{
				"tool_id": strProp("Tool id"),
				"limit":   intProp("Maximum rows to return (default 50)"),
			}, "tool_id"), handleListExecutionLogs},

		// --- Secrets ---
		{"mcpbox_create_server_secret", "Create a value-less secret placeholder for a server. The value must be set via the admin UI, never by an LLM.",
			obj(map[string]any{
				"server_id":   strProp("Server id"),
				"key_name":    strProp("Secret key name"),
				"description": strProp("Secret description"),
			}, "server_id", "key_name"), handleCreateServerSecret},
		{"mcpbox_list_server_secrets", "List a server's secret placeholders (never the values).",
			obj(map[string]any{"server_id": strProp("Server id")}, "server_id"), handleListServerSecrets},
		{"mcpbox_delete_server_secret", "Delete a server secret placeholder.",
			obj(map[string]any{"secret_id": strProp("Secret id")}, "secret_id"), handleDeleteServerSecret},

		// --- External MCP sources ---
		{"mcpbox_add_external_source", "Register an upstream MCP server as an external source for passthrough tools.",
			obj(map[string]any{
				"server_id": strProp("Owning server id"),
				"name":      strProp("Source name"),
				"url":       strProp("Upstream MCP server URL"),
				"auth_type": strProp("none | bearer | header | oauth"),
			}, "server_id", "name", "url"), handleAddExternalSource},
		{"mcpbox_list_external_sources", "List a server's external MCP sources.",
			obj(map[string]any{"server_id": strProp("Server id")}, "server_id"), handleListExternalSources},
		{"mcpbox_discover_external_tools", "Open a live MCP session against an external source and cache its tool list.",
			obj(map[string]any{"source_id": strProp("External source id")}, "source_id"), handleDiscoverExternalTools},
		{"mcpbox_import_external_tools", "Create local passthrough tools from a source's previously discovered tool cache.",
			obj(map[string]any{
				"source_id":  strProp("External source id"),
				"tool_names": arrProp("Upstream tool names to import (omit for all)"),
			}, "source_id"), handleImportExternalTools},

		// --- Dashboard ---
		{"mcpbox_get_dashboard_stats", "Get pending-request counts and recently resolved approval workflow items.",
			obj(nil), handleDashboardStats},
	}
}

// buildCatalog compiles catalogEntries() into the gateway-facing descriptor
// list, the name->handler dispatch map, and a name->compiled-schema map for
// argument validation. A malformed schema here is a programming error, not a
// runtime condition, so it panics at startup rather than surfacing per-call.
func buildCatalog() ([]gateway.ToolDescriptor, map[string]handlerFunc, map[string]*jsonschema.Schema) {
	entries := catalogEntries()
	descriptors := make([]gateway.ToolDescriptor, 0, len(entries))
	handlers := make(map[string]handlerFunc, len(entries))
	schemas := make(map[string]*jsonschema.Schema, len(entries))

	compiler := jsonschema.NewCompiler()

	for _, e := range entries {
		descriptors = append(descriptors, gateway.ToolDescriptor{
			Name:        e.name,
			Description: e.description,
			InputSchema: e.schema,
		})
		handlers[e.name] = e.handler

		url := "mem://mcpbox/" + e.name + ".json"
		if err := compiler.AddResource(url, mapToReader(e.schema)); err != nil {
			panic("management: invalid schema for " + e.name + ": " + err.Error())
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			panic("management: failed to compile schema for " + e.name + ": " + err.Error())
		}
		schemas[e.name] = schema
	}

	return descriptors, handlers, schemas
}

func mapToReader(m map[string]any) *strings.Reader {
	b, err := json.Marshal(m)
	if err != nil {
		panic("management: failed to marshal catalog schema: " + err.Error())
	}
	return strings.NewReader(string(b))
}
