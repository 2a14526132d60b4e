package app

import (
	"context"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/activity"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// activityChangeNotifier implements management.ChangeNotifier. The gateway
// never caches tools/list results (it asks the sandbox fresh on every call),
// so there is nothing to invalidate here; the only job left is to make the
// mutation visible on the live activity stream.
type activityChangeNotifier struct {
	log *activity.Logger
}

func (n activityChangeNotifier) ToolsChanged(ctx context.Context, serverID string) {
	if n.log == nil {
		return
	}
	n.log.Log(store.LogTypeAudit, store.LevelInfo, "tool catalog changed", activity.WithServerID(serverID))
}
