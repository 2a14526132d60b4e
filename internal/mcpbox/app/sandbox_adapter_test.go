package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandbox"
)

func newTestSandboxClient(t *testing.T, handler http.HandlerFunc) *sandbox.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := sandbox.DefaultConfig(srv.URL)
	cfg.Retry = sandbox.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, ExponentialBase: 2}
	return sandbox.New(cfg)
}

func TestGatewaySandbox_ListToolsConvertsFields(t *testing.T) {
	c := newTestSandboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tools": []sandbox.ToolDefinition{
				{Name: "weather__forecast", Description: "forecast a city", InputSchema: `{"type":"object"}`},
			},
		})
	})
	adapter := gatewaySandbox{c}

	tools, err := adapter.ListTools(context.Background(), "")
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].Name != "weather__forecast" || tools[0].Description != "forecast a city" || tools[0].InputSchema != `{"type":"object"}` {
		t.Errorf("unexpected converted tool: %+v", tools[0])
	}
}

func TestGatewaySandbox_CallToolConvertsFields(t *testing.T) {
	c := newTestSandboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sandbox.CallToolResult{Success: true, Result: "42"})
	})
	adapter := gatewaySandbox{c}

	res, err := adapter.CallTool(context.Background(), "weather__forecast", map[string]any{"city": "nyc"}, false)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.Success || res.Result != "42" {
		t.Errorf("unexpected converted result: %+v", res)
	}
}

func TestApprovalsInstaller_InstallPackageConvertsFields(t *testing.T) {
	c := newTestSandboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sandbox.PackageStatusResult{Status: "installed", Message: "ok"})
	})
	adapter := approvalsInstaller{c}

	res, err := adapter.InstallPackage(context.Background(), "requests", "2.31.0")
	if err != nil {
		t.Fatalf("InstallPackage: %v", err)
	}
	if res.Status != "installed" || res.Message != "ok" {
		t.Errorf("unexpected converted result: %+v", res)
	}
}
