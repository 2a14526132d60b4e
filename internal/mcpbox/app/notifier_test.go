package app

import (
	"context"
	"os"
	"testing"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/activity"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

func TestActivityChangeNotifier_LogsToolsChanged(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "mcpbox-app-test-*.db")
	if err != nil {
		t.Fatalf("create temp db file: %v", err)
	}
	f.Close()
	db, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := activity.New(db)
	notifier := activityChangeNotifier{log: logger}

	notifier.ToolsChanged(context.Background(), "srv-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	logs, err := db.ListActivityLogs(context.Background(), store.ActivityLogFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListActivityLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 audit log entry, got %d", len(logs))
	}
	if logs[0].ServerID == nil || *logs[0].ServerID != "srv-1" {
		t.Errorf("expected server id srv-1 on log entry, got %+v", logs[0].ServerID)
	}
}

func TestActivityChangeNotifier_NilLoggerIsNoOp(t *testing.T) {
	notifier := activityChangeNotifier{}
	notifier.ToolsChanged(context.Background(), "srv-1")
}
