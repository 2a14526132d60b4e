package approvals

import (
	"context"
	"log/slog"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// ErrDuplicatePending re-exports store.ErrDuplicatePending so callers of this
// package don't need to import store directly just to check this case.
var ErrDuplicatePending = store.ErrDuplicatePending

// CreateModuleRequest files a pending request for a tool to import module.
// Duplicate-pending detection relies entirely on the store's partial unique
// index / integrity-error path (race-safe), never a pre-check SELECT.
func (s *Service) CreateModuleRequest(ctx context.Context, toolID, module, justification string) (*store.ModuleRequest, error) {
	return s.db.CreateModuleRequest(ctx, &store.ModuleRequest{
		ToolID:        toolID,
		Module:        module,
		Justification: justification,
	})
}

// ApproveModuleRequest marks the request approved, adds the module to the
// global allowed-modules whitelist (idempotent), and best-effort installs it
// in the sandbox — a failed install is logged, not returned as an error,
// since the whitelist grant itself still succeeded.
func (s *Service) ApproveModuleRequest(ctx context.Context, requestID, reviewedBy string) (*store.ModuleRequest, error) {
	req, err := s.db.GetModuleRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.db.ResolveModuleRequest(ctx, requestID, store.RequestApproved, reviewedBy, ""); err != nil {
		return nil, err
	}
	if err := s.db.AddGlobalAllowedModule(ctx, req.Module); err != nil {
		return nil, err
	}
	if s.installer != nil {
		if _, err := s.installer.InstallPackage(ctx, req.Module, ""); err != nil {
			slog.Warn("approvals: best-effort module install failed", "module", req.Module, "err", err)
			if s.activity != nil {
				s.activity.LogError("module install failed after approval: "+req.Module, err)
			}
		}
	}
	req.Status = store.RequestApproved
	req.ReviewedBy = reviewedBy
	return req, nil
}

// RejectModuleRequest marks the request rejected with a required reason.
func (s *Service) RejectModuleRequest(ctx context.Context, requestID, reviewedBy, reason string) (*store.ModuleRequest, error) {
	if err := s.db.ResolveModuleRequest(ctx, requestID, store.RequestRejected, reviewedBy, reason); err != nil {
		return nil, err
	}
	return s.db.GetModuleRequest(ctx, requestID)
}

// RevokeModuleRequest reverts an approved request to pending and removes the
// module from the global whitelist.
func (s *Service) RevokeModuleRequest(ctx context.Context, requestID string) (*store.ModuleRequest, error) {
	req, err := s.db.GetModuleRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.db.RevokeModuleRequest(ctx, requestID); err != nil {
		return nil, err
	}
	if err := s.db.RemoveGlobalAllowedModule(ctx, req.Module); err != nil {
		return nil, err
	}
	req.Status = store.RequestPending
	return req, nil
}

// CreateNetworkAccessRequest files a pending request for outbound network
// access. Duplicate-pending detection relies on the store's partial unique
// index over (tool_id, host, COALESCE(port, 0)).
func (s *Service) CreateNetworkAccessRequest(ctx context.Context, toolID, host string, port *int, justification string) (*store.NetworkAccessRequest, error) {
	return s.db.CreateNetworkAccessRequest(ctx, &store.NetworkAccessRequest{
		ToolID:        toolID,
		Host:          host,
		Port:          port,
		Justification: justification,
	})
}

// ApproveNetworkAccessRequest marks the request approved and adds the host to
// the owning server's allowed_hosts. A server with an empty allowed_hosts
// list is, by definition, network-isolated; adding the first host is what
// flips it into allowlist mode — there is no separate network_mode column to
// update.
func (s *Service) ApproveNetworkAccessRequest(ctx context.Context, requestID, reviewedBy string) (*store.NetworkAccessRequest, error) {
	req, err := s.db.GetNetworkAccessRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	tool, err := s.db.GetTool(ctx, req.ToolID)
	if err != nil {
		return nil, err
	}
	if err := s.db.ResolveNetworkAccessRequest(ctx, requestID, store.RequestApproved, reviewedBy, ""); err != nil {
		return nil, err
	}
	if err := s.db.AddAllowedHost(ctx, tool.ServerID, req.Host); err != nil {
		return nil, err
	}
	req.Status = store.RequestApproved
	req.ReviewedBy = reviewedBy
	return req, nil
}

// RejectNetworkAccessRequest marks the request rejected with a required reason.
func (s *Service) RejectNetworkAccessRequest(ctx context.Context, requestID, reviewedBy, reason string) (*store.NetworkAccessRequest, error) {
	if err := s.db.ResolveNetworkAccessRequest(ctx, requestID, store.RequestRejected, reviewedBy, reason); err != nil {
		return nil, err
	}
	return s.db.GetNetworkAccessRequest(ctx, requestID)
}

// RevokeNetworkAccessRequest reverts an approved request to pending and
// removes the host from the owning server's allowed_hosts.
func (s *Service) RevokeNetworkAccessRequest(ctx context.Context, requestID string) (*store.NetworkAccessRequest, error) {
	req, err := s.db.GetNetworkAccessRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	tool, err := s.db.GetTool(ctx, req.ToolID)
	if err != nil {
		return nil, err
	}
	if err := s.db.RevokeNetworkAccessRequest(ctx, requestID); err != nil {
		return nil, err
	}
	if err := s.db.RemoveAllowedHost(ctx, tool.ServerID, req.Host); err != nil {
		return nil, err
	}
	req.Status = store.RequestPending
	return req, nil
}
