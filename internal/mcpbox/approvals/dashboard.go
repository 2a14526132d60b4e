package approvals

import (
	"context"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// recentWindow bounds the dashboard's "recently approved/rejected" feeds.
const recentWindow = 7 * 24 * time.Hour

// DashboardStats is get_dashboard_stats's result (§4.8).
type DashboardStats struct {
	PendingTools           int `json:"pending_tools"`
	PendingModuleRequests  int `json:"pending_module_requests"`
	PendingNetworkRequests int `json:"pending_network_requests"`
	TotalServers           int `json:"total_servers"`
	TotalTools             int `json:"total_tools"`

	RecentlyApprovedTools    []*store.Tool                  `json:"recently_approved_tools"`
	RecentlyRejectedTools    []*store.Tool                  `json:"recently_rejected_tools"`
	RecentlyResolvedModules  []*store.ModuleRequest          `json:"recently_resolved_module_requests"`
	RecentlyResolvedNetworks []*store.NetworkAccessRequest   `json:"recently_resolved_network_requests"`
}

// GetDashboardStats aggregates pending counts across all three approval
// workflows plus a 7-day window of recently resolved items.
func (s *Service) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	since := time.Now().UTC().Add(-recentWindow)

	pendingTools, err := s.db.CountToolsByApprovalStatus(ctx, store.ApprovalPendingReview)
	if err != nil {
		return nil, err
	}
	pendingModules, err := s.db.ListPendingModuleRequests(ctx)
	if err != nil {
		return nil, err
	}
	pendingNetwork, err := s.db.ListPendingNetworkAccessRequests(ctx)
	if err != nil {
		return nil, err
	}
	servers, err := s.db.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	approvedTools, err := s.db.ListToolsApprovedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	rejectedTools, err := s.db.ListToolsRejectedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	resolvedModules, err := s.db.ListModuleRequestsResolvedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	resolvedNetwork, err := s.db.ListNetworkAccessRequestsResolvedSince(ctx, since)
	if err != nil {
		return nil, err
	}

	totalTools := 0
	for _, srv := range servers {
		tools, err := s.db.ListToolsByServer(ctx, srv.ID)
		if err != nil {
			return nil, err
		}
		totalTools += len(tools)
	}

	return &DashboardStats{
		PendingTools:             pendingTools,
		PendingModuleRequests:    len(pendingModules),
		PendingNetworkRequests:   len(pendingNetwork),
		TotalServers:             len(servers),
		TotalTools:               totalTools,
		RecentlyApprovedTools:    approvedTools,
		RecentlyRejectedTools:    rejectedTools,
		RecentlyResolvedModules:  resolvedModules,
		RecentlyResolvedNetworks: resolvedNetwork,
	}, nil
}
