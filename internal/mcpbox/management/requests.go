package management

import (
	"context"
	"errors"
	"fmt"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/approvals"
)

// handleRequestPublish implements mcpbox_request_publish: moves a tool from
// draft|rejected to pending_review (or straight to approved under
// auto_approve mode).
func handleRequestPublish(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	t, err := s.approvals.RequestPublish(ctx, id)
	if err != nil {
		return nil, wrapTransitionErr(err)
	}
	return t, nil
}

// handleApproveTool is the admin-side counterpart to request_publish. It is
// exposed through the same LLM-facing catalog because an LLM acting with
// admin authority (e.g. scripted approvals in a trusted workflow) is a valid
// caller; the destructive-tool local-only restriction in §4.6 does not
// extend to approval decisions.
func handleApproveTool(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	approvedBy := argStringOpt(args, "approved_by", "llm")
	t, err := s.approvals.ApproveTool(ctx, id, approvedBy)
	if err != nil {
		return nil, wrapTransitionErr(err)
	}
	if err := s.maybeReregister(ctx, t.ServerID); err != nil {
		return nil, err
	}
	s.notifyToolsChanged(ctx, t.ServerID)
	return t, nil
}

func handleRejectTool(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	reason, err := argString(args, "reason")
	if err != nil {
		return nil, err
	}
	t, err := s.approvals.RejectTool(ctx, id, reason)
	if err != nil {
		return nil, wrapTransitionErr(err)
	}
	return t, nil
}

func handleRevokeToolApproval(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	t, err := s.approvals.RevokeToolApproval(ctx, id)
	if err != nil {
		return nil, wrapTransitionErr(err)
	}
	if err := s.maybeReregister(ctx, t.ServerID); err != nil {
		return nil, err
	}
	s.notifyToolsChanged(ctx, t.ServerID)
	return t, nil
}

// handleRequestModule implements mcpbox_request_module: file a pending
// module-whitelist request. A duplicate pending request for the same
// (tool, module) surfaces as a user-visible "already pending" error via the
// store's partial-unique-index integrity path — never silently swallowed.
func handleRequestModule(ctx context.Context, s *Service, args map[string]any) (any, error) {
	toolID, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	module, err := argString(args, "module")
	if err != nil {
		return nil, err
	}
	justification := argStringOpt(args, "justification", "")
	req, err := s.approvals.CreateModuleRequest(ctx, toolID, module, justification)
	if err != nil {
		return nil, wrapDuplicateErr(err, fmt.Sprintf("module %q", module))
	}
	return req, nil
}

func handleApproveModuleRequest(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "request_id")
	if err != nil {
		return nil, err
	}
	reviewedBy := argStringOpt(args, "reviewed_by", "llm")
	req, err := s.approvals.ApproveModuleRequest(ctx, id, reviewedBy)
	if err != nil {
		return nil, fmt.Errorf("approve module request: %w", err)
	}
	return req, nil
}

func handleRejectModuleRequest(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "request_id")
	if err != nil {
		return nil, err
	}
	reason, err := argString(args, "reason")
	if err != nil {
		return nil, err
	}
	reviewedBy := argStringOpt(args, "reviewed_by", "llm")
	req, err := s.approvals.RejectModuleRequest(ctx, id, reviewedBy, reason)
	if err != nil {
		return nil, fmt.Errorf("reject module request: %w", err)
	}
	return req, nil
}

// handleRequestNetworkAccess implements mcpbox_request_network_access. Port
// is optional — omitting it requests the whole host regardless of port,
// which the store's partial unique index treats as COALESCE(port, 0).
func handleRequestNetworkAccess(ctx context.Context, s *Service, args map[string]any) (any, error) {
	toolID, err := argString(args, "tool_id")
	if err != nil {
		return nil, err
	}
	host, err := argString(args, "host")
	if err != nil {
		return nil, err
	}
	port := argIntPtrOpt(args, "port")
	justification := argStringOpt(args, "justification", "")
	req, err := s.approvals.CreateNetworkAccessRequest(ctx, toolID, host, port, justification)
	if err != nil {
		return nil, wrapDuplicateErr(err, fmt.Sprintf("host %q", host))
	}
	return req, nil
}

func handleApproveNetworkAccessRequest(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "request_id")
	if err != nil {
		return nil, err
	}
	reviewedBy := argStringOpt(args, "reviewed_by", "llm")
	req, err := s.approvals.ApproveNetworkAccessRequest(ctx, id, reviewedBy)
	if err != nil {
		return nil, fmt.Errorf("approve network access request: %w", err)
	}
	return req, nil
}

func handleRejectNetworkAccessRequest(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "request_id")
	if err != nil {
		return nil, err
	}
	reason, err := argString(args, "reason")
	if err != nil {
		return nil, err
	}
	reviewedBy := argStringOpt(args, "reviewed_by", "llm")
	req, err := s.approvals.RejectNetworkAccessRequest(ctx, id, reviewedBy, reason)
	if err != nil {
		return nil, fmt.Errorf("reject network access request: %w", err)
	}
	return req, nil
}

func handlePendingRequests(ctx context.Context, s *Service, args map[string]any) (any, error) {
	stats, err := s.approvals.GetDashboardStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get dashboard stats: %w", err)
	}
	return stats, nil
}

func handleDashboardStats(ctx context.Context, s *Service, args map[string]any) (any, error) {
	stats, err := s.approvals.GetDashboardStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get dashboard stats: %w", err)
	}
	return stats, nil
}

func wrapTransitionErr(err error) error {
	if errors.Is(err, approvals.ErrInvalidTransition) {
		return err
	}
	return fmt.Errorf("approval transition failed: %w", err)
}

func wrapDuplicateErr(err error, subject string) error {
	if errors.Is(err, approvals.ErrDuplicatePending) {
		return fmt.Errorf("a pending request already exists for %s", subject)
	}
	return fmt.Errorf("create request: %w", err)
}
