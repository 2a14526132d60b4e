package management_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/approvals"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/management"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandbox"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// fakeSandbox stubs management.SandboxClient so tests never make a network
// call; every method returns a canned success, and RegisterServer and
// UnregisterServer count how often they are called.
type fakeSandbox struct {
	registerCalls   int
	unregisterCalls int
}

func (f *fakeSandbox) RegisterServer(ctx context.Context, req sandbox.RegisterServerRequest) (*sandbox.RegisterServerResult, error) {
	f.registerCalls++
	return &sandbox.RegisterServerResult{Success: true, ToolsRegistered: len(req.Tools)}, nil
}

func (f *fakeSandbox) UnregisterServer(ctx context.Context, serverID string) error {
	f.unregisterCalls++
	return nil
}

func (f *fakeSandbox) ExecuteCode(ctx context.Context, req sandbox.ExecuteCodeRequest) (*sandbox.CallToolResult, error) {
	return &sandbox.CallToolResult{Success: true, Result: "ok"}, nil
}

func (f *fakeSandbox) UpdateServerSecrets(ctx context.Context, serverID string, secrets map[string]string) error {
	return nil
}

func (f *fakeSandbox) MCPRequest(ctx context.Context, sourceName string, rpc json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeSandbox) InstallPackage(ctx context.Context, name, version string) (*sandbox.PackageStatusResult, error) {
	return &sandbox.PackageStatusResult{Status: "installed"}, nil
}

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) ToolsChanged(ctx context.Context, serverID string) {
	f.notified = append(f.notified, serverID)
}

func newTestService(t *testing.T) (*management.Service, *store.Store, *fakeNotifier) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mcpbox-management-test-*.db")
	if err != nil {
		t.Fatalf("create temp db file: %v", err)
	}
	f.Close()
	db, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := settings.New(db)
	approvalsSvc := approvals.New(db, st, nil, nil)
	notifier := &fakeNotifier{}
	svc := management.New(db, approvalsSvc, st, &fakeSandbox{}, notifier, nil, make([]byte, 32))
	return svc, db, notifier
}

func TestCatalog_CoversEveryToolName(t *testing.T) {
	svc, _, _ := newTestService(t)
	catalog := svc.Catalog()
	if len(catalog) == 0 {
		t.Fatal("expected a non-empty catalog")
	}
	seen := map[string]bool{}
	for _, d := range catalog {
		if d.Name == "" {
			t.Error("catalog entry with empty name")
		}
		if seen[d.Name] {
			t.Errorf("duplicate catalog entry %q", d.Name)
		}
		seen[d.Name] = true
		if d.InputSchema == nil {
			t.Errorf("catalog entry %q has nil input schema", d.Name)
		}
	}
	for _, want := range []string{"mcpbox_create_server", "mcpbox_delete_server", "mcpbox_delete_tool", "mcpbox_create_tool"} {
		if !seen[want] {
			t.Errorf("expected catalog to include %q", want)
		}
	}
}

func TestExecuteTool_UnknownNameReturnsError(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := svc.ExecuteTool(context.Background(), "mcpbox_does_not_exist", nil)
	if !result.IsError {
		t.Fatal("expected unknown tool call to be an error result")
	}
}

func TestExecuteTool_CreateServerRoundTrips(t *testing.T) {
	svc, db, _ := newTestService(t)
	result := svc.ExecuteTool(context.Background(), "mcpbox_create_server", map[string]any{"name": "weather"})
	if result.IsError {
		t.Fatalf("mcpbox_create_server failed: %+v", result.Content)
	}

	servers, err := db.ListServers(context.Background())
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "weather" {
		t.Fatalf("expected one server named weather, got %+v", servers)
	}
}

func TestExecuteTool_CreateServerMissingNameIsRejectedBySchema(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := svc.ExecuteTool(context.Background(), "mcpbox_create_server", map[string]any{})
	if !result.IsError {
		t.Fatal("expected schema validation to reject a missing required \"name\" argument")
	}
}

func TestExecuteTool_StartServerNotifiesAndCallsSandbox(t *testing.T) {
	svc, db, notifier := newTestService(t)
	ctx := context.Background()

	srv, err := db.CreateServer(ctx, &store.Server{Name: "weather"})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	// start_server requires at least one approved+enabled tool.
	tool, err := db.CreateTool(ctx, &store.Tool{
		ServerID:       srv.ID,
		Name:           "forecast",
		ToolType:       store.ToolTypePythonCode,
		PythonCode:     "async def main(city: str):\n    return city",
		Enabled:        true,
		ApprovalStatus: store.ApprovalApproved,
	})
	if err != nil {
		t.Fatalf("CreateTool: %v", err)
	}
	_ = tool

	result := svc.ExecuteTool(ctx, "mcpbox_start_server", map[string]any{"server_id": srv.ID})
	if result.IsError {
		t.Fatalf("mcpbox_start_server failed: %+v", result.Content)
	}

	got, err := db.GetServer(ctx, srv.ID)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if got.Status != store.ServerRunning {
		t.Errorf("expected server status %q, got %q", store.ServerRunning, got.Status)
	}
	if len(notifier.notified) == 0 {
		t.Error("expected ToolsChanged to be called on start")
	}
}
