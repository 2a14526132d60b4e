package management

import (
	"context"
	"fmt"

	"github.com/JGtHb/MCPbox-sub000/common/crypto"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandbox"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandboxcfg"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

func handleCreateServer(ctx context.Context, s *Service, args map[string]any) (any, error) {
	name, err := argString(args, "name")
	if err != nil {
		return nil, err
	}
	srv, err := s.db.CreateServer(ctx, &store.Server{
		Name:             name,
		Description:      argStringOpt(args, "description", ""),
		DefaultTimeoutMs: argIntOpt(args, "default_timeout_ms", 30000),
	})
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}
	return srv, nil
}

func handleListServers(ctx context.Context, s *Service, args map[string]any) (any, error) {
	servers, err := s.db.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return map[string]any{"servers": servers}, nil
}

func handleGetServer(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	srv, err := s.db.GetServer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return srv, nil
}

func handleUpdateServer(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	srv, err := s.db.GetServer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	if v := argStringPtrOpt(args, "name"); v != nil {
		srv.Name = *v
	}
	if v := argStringPtrOpt(args, "description"); v != nil {
		srv.Description = *v
	}
	if v := argIntPtrOpt(args, "default_timeout_ms"); v != nil {
		srv.DefaultTimeoutMs = *v
	}
	if err := s.db.UpdateServer(ctx, srv); err != nil {
		return nil, fmt.Errorf("update server: %w", err)
	}
	return srv, nil
}

func handleDeleteServer(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	if err := s.db.DeleteServer(ctx, id); err != nil {
		return nil, fmt.Errorf("delete server: %w", err)
	}
	return map[string]any{"deleted": true, "server_id": id}, nil
}

// handleStartServer implements §4.7's mcpbox_start_server: require at least
// one approved+enabled tool, build tool/secret/external-source payloads,
// register with the sandbox, and flip the server to running.
func handleStartServer(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	srv, err := s.db.GetServer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}

	if err := s.registerServerWithSandbox(ctx, srv, true); err != nil {
		return nil, err
	}

	srv.Status = store.ServerRunning
	if err := s.db.UpdateServer(ctx, srv); err != nil {
		return nil, fmt.Errorf("update server status: %w", err)
	}
	s.notifyToolsChanged(ctx, srv.ID)
	return srv, nil
}

// registerServerWithSandbox builds the sandbox.RegisterServerRequest payload
// from the current DB state and registers it. requireTools enforces the
// start_server invariant that at least one approved+enabled tool exists; a
// plain re-registration after an update on an already-running server does
// not require that (the update may be disabling the last tool, which is a
// valid, if inert, state).
func (s *Service) registerServerWithSandbox(ctx context.Context, srv *store.Server, requireTools bool) error {
	tools, err := s.db.ListToolsByServer(ctx, srv.ID)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	var defs []sandbox.ToolDefinition
	for _, t := range tools {
		if !t.Enabled || t.ApprovalStatus != store.ApprovalApproved || t.ToolType != store.ToolTypePythonCode {
			continue
		}
		defs = append(defs, sandbox.ToolDefinition{
			Name:        srv.Name + "__" + t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			PythonCode:  t.PythonCode,
			TimeoutMs:   t.TimeoutMs,
		})
	}
	if requireTools && len(defs) == 0 {
		return fmt.Errorf("server %q has no approved and enabled tools to start", srv.Name)
	}

	secretRows, err := s.db.ListServerSecrets(ctx, srv.ID)
	if err != nil {
		return fmt.Errorf("list server secrets: %w", err)
	}
	secrets, err := s.decryptSecrets(secretRows)
	if err != nil {
		return err
	}

	allowedModules, err := s.db.ListGlobalAllowedModules(ctx)
	if err != nil {
		return fmt.Errorf("list global allowed modules: %w", err)
	}

	sources, err := s.db.ListExternalMCPSources(ctx, srv.ID)
	if err != nil {
		return fmt.Errorf("list external sources: %w", err)
	}
	var extCfgs []sandbox.ExternalSource
	for _, src := range sources {
		if src.Status != store.SourceActive {
			continue
		}
		extCfgs = append(extCfgs, sandbox.ExternalSource{Name: src.Name, URL: src.URL})
	}

	policyYAML, err := sandboxcfg.Marshal(sandboxcfg.New(srv.ID, srv.Name, allowedModules, srv.AllowedHosts))
	if err != nil {
		return fmt.Errorf("render sandbox policy bundle: %w", err)
	}

	_, err = s.sandbox.RegisterServer(ctx, sandbox.RegisterServerRequest{
		ID:               srv.ID,
		Name:             srv.Name,
		Tools:            defs,
		AllowedModules:   allowedModules,
		Secrets:          secrets,
		ExternalSources:  extCfgs,
		AllowedHosts:     srv.AllowedHosts,
		PolicyBundleYAML: policyYAML,
	})
	if err != nil {
		return fmt.Errorf("register server with sandbox: %w", err)
	}
	return nil
}

func handleStopServer(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	srv, err := s.db.GetServer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	if err := s.sandbox.UnregisterServer(ctx, id); err != nil {
		return nil, fmt.Errorf("unregister server from sandbox: %w", err)
	}
	srv.Status = store.ServerStopped
	if err := s.db.UpdateServer(ctx, srv); err != nil {
		return nil, fmt.Errorf("update server status: %w", err)
	}
	s.notifyToolsChanged(ctx, srv.ID)
	return srv, nil
}

// decryptSecrets resolves every ServerSecret with a set value into a plain
// key -> value map for the sandbox (which holds them only in memory). A
// placeholder with no value yet is simply skipped.
func (s *Service) decryptSecrets(rows []*store.ServerSecret) (map[string]string, error) {
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		if r.EncryptedValue == nil {
			continue
		}
		plain, err := crypto.DecryptString(s.masterKey, *r.EncryptedValue, crypto.AADServerSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %q: %w", r.KeyName, err)
		}
		out[r.KeyName] = plain
	}
	return out, nil
}
