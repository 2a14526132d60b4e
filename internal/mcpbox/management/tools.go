package management

import (
	"context"
	"fmt"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/approvals"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandbox"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// handleCreateTool implements mcpbox_create_tool (§4.7): validate the name
// against the naming rule, validate the Python code has an async main entry
// point, derive the input schema from its parameter list, and create the
// tool as a draft.
func handleCreateTool(ctx context.Context, s *Service, args map[string]any) (any, error) {
	serverID, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, "name")
	if err != nil {
		return nil, err
	}
	if err := validateToolName(name); err != nil {
		return nil, err
	}
	code, err := argString(args, "python_code")
	if err != nil {
		return nil, err
	}
	params, err := validatePythonCode(code)
	if err != nil {
		return nil, err
	}
	schema := deriveInputSchema(params)

	t := &store.Tool{
		ServerID:    serverID,
		Name:        name,
		Description: argStringOpt(args, "description", ""),
		Enabled:     argBoolOpt(args, "enabled", true),
		TimeoutMs:   argIntOpt(args, "timeout_ms", 30000),
		ToolType:    store.ToolTypePythonCode,
		PythonCode:  code,
		InputSchema: schema,
		CreatedBy:   argStringOpt(args, "created_by", "llm"),
	}
	created, err := s.approvals.CreateTool(ctx, t, "llm")
	if err != nil {
		return nil, fmt.Errorf("create tool: %w", err)
	}
	return created, nil
}

func handleGetTool(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	t, err := s.db.GetTool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}
	return t, nil
}

func handleListTools(ctx context.Context, s *Service, args map[string]any) (any, error) {
	serverID, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	tools, err := s.db.ListToolsByServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return map[string]any{"tools": tools}, nil
}

// handleUpdateTool implements mcpbox_update_tool. Per §4.8, a python_code
// change always resets approval_status to pending_review; name/description/
// enabled/timeout_ms-only changes preserve it. When the update touches an
// MCP-visible field on a running server, the server is re-registered with
// the sandbox and the gateway's tools/list is signaled stale.
func handleUpdateTool(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}

	patch := approvals.ToolPatch{
		Name:        argStringPtrOpt(args, "name"),
		Description: argStringPtrOpt(args, "description"),
		Enabled:     argBoolPtrOpt(args, "enabled"),
		TimeoutMs:   argIntPtrOpt(args, "timeout_ms"),
	}
	if code := argStringPtrOpt(args, "python_code"); code != nil {
		params, err := validatePythonCode(*code)
		if err != nil {
			return nil, err
		}
		patch.PythonCode = code
		schema := deriveInputSchema(params)
		patch.InputSchema = &schema
	}
	if deps := argStringSliceOpt(args, "code_dependencies"); deps != nil {
		patch.CodeDependencies = deps
	}

	result, err := s.approvals.UpdateTool(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update tool: %w", err)
	}

	if result.Changed && result.MCPVisible {
		if err := s.maybeReregister(ctx, result.Tool.ServerID); err != nil {
			return nil, err
		}
		s.notifyToolsChanged(ctx, result.Tool.ServerID)
	}

	return result.Tool, nil
}

// handleDeleteTool implements mcpbox_delete_tool. Deletion cascades to the
// tool's versions and pending requests (§3); the owning server is
// re-registered so the sandbox stops serving it.
func handleDeleteTool(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	t, err := s.db.GetTool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}
	if err := s.db.DeleteTool(ctx, id); err != nil {
		return nil, fmt.Errorf("delete tool: %w", err)
	}
	if err := s.maybeReregister(ctx, t.ServerID); err != nil {
		return nil, err
	}
	s.notifyToolsChanged(ctx, t.ServerID)
	return map[string]any{"deleted": true, "tool_id": id}, nil
}

// maybeReregister re-registers the owning server with the sandbox only if it
// is currently running — an update to a stopped server's tool is persisted
// but has nothing live to refresh.
func (s *Service) maybeReregister(ctx context.Context, serverID string) error {
	srv, err := s.db.GetServer(ctx, serverID)
	if err != nil {
		return fmt.Errorf("get server: %w", err)
	}
	if srv.Status != store.ServerRunning {
		return nil
	}
	return s.registerServerWithSandbox(ctx, srv, false)
}

func handleToolStatus(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	t, err := s.db.GetTool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}
	versionCount, err := s.db.CountToolVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count tool versions: %w", err)
	}
	return map[string]any{
		"tool":              t,
		"version_count":     versionCount,
		"current_version":   t.CurrentVersion,
	}, nil
}

func handleListToolVersions(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	versions, err := s.db.ListToolVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list tool versions: %w", err)
	}
	return map[string]any{"versions": versions}, nil
}

// handleRollbackTool implements mcpbox_rollback_tool: create a new version
// whose content equals the chosen old version's, always resetting
// approval_status to pending_review.
func handleRollbackTool(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	versionNumber := argIntOpt(args, "version_number", 0)
	if versionNumber <= 0 {
		return nil, fmt.Errorf("version_number must be a positive integer")
	}
	t, err := s.approvals.RollbackTool(ctx, id, versionNumber)
	if err != nil {
		return nil, fmt.Errorf("rollback tool: %w", err)
	}
	if err := s.maybeReregister(ctx, t.ServerID); err != nil {
		return nil, err
	}
	s.notifyToolsChanged(ctx, t.ServerID)
	return t, nil
}

// handleTestCode implements mcpbox_test_code: run a saved tool's code
// through the sandbox's live production environment (its real secrets and
// allowed hosts/modules), enforcing the approval gate when the server's
// tool_approval_mode is require_approval, and always recording a
// ToolExecutionLog with is_test=true regardless of outcome.
func handleTestCode(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	t, err := s.db.GetTool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}

	mode, err := s.settings.Get(ctx, "tool_approval_mode")
	if err != nil {
		mode = ""
	}
	if mode == "require_approval" && t.ApprovalStatus != store.ApprovalApproved {
		return nil, fmt.Errorf("tool %q requires approval before it can be tested (tool_approval_mode=require_approval)", t.Name)
	}

	srv, err := s.db.GetServer(ctx, t.ServerID)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	secretRows, err := s.db.ListServerSecrets(ctx, srv.ID)
	if err != nil {
		return nil, fmt.Errorf("list server secrets: %w", err)
	}
	secrets, err := s.decryptSecrets(secretRows)
	if err != nil {
		return nil, err
	}
	allowedModules, err := s.db.ListGlobalAllowedModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list global allowed modules: %w", err)
	}

	testArgs, _ := args["arguments"].(map[string]any)

	start := time.Now()
	result, callErr := s.sandbox.ExecuteCode(ctx, sandbox.ExecuteCodeRequest{
		Code:           t.PythonCode,
		Args:           testArgs,
		Secrets:        secrets,
		AllowedHosts:   srv.AllowedHosts,
		AllowedModules: allowedModules,
		TimeoutMs:      t.TimeoutMs,
	})
	duration := int(time.Since(start).Milliseconds())

	logEntry := &store.ToolExecutionLog{
		ToolID:     &t.ID,
		ServerID:   &srv.ID,
		ToolName:   t.Name,
		InputArgs:  argsToJSON(testArgs),
		IsTest:     true,
		ExecutedBy: argStringOpt(args, "executed_by", "llm"),
		DurationMs: duration,
	}
	if callErr != nil {
		logEntry.Success = false
		logEntry.Error = callErr.Error()
	} else {
		logEntry.Success = result.Success
		logEntry.Error = result.Error
		logEntry.Stdout = result.Stdout
		logEntry.Result = fmt.Sprint(result.Result)
		if result.DurationMs > 0 {
			logEntry.DurationMs = result.DurationMs
		}
	}
	if _, err := s.db.InsertToolExecutionLog(ctx, logEntry); err != nil {
		return nil, fmt.Errorf("insert execution log: %w", err)
	}

	if callErr != nil {
		return nil, fmt.Errorf("test execution failed: %w", callErr)
	}
	return result, nil
}

func handleListExecutionLogs(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	limit := argIntOpt(args, "limit", 50)
	logs, err := s.db.ListToolExecutionLogs(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	return map[string]any{"logs": logs}, nil
}
