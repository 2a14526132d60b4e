package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
)

// RegisterServerRequest is the payload sent to register_server.
type RegisterServerRequest struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Tools           []ToolDefinition  `json:"tools"`
	AllowedModules  []string          `json:"allowed_modules"`
	Secrets         map[string]string `json:"secrets"`
	ExternalSources []ExternalSource  `json:"external_sources"`
	AllowedHosts    []string          `json:"allowed_hosts"`

	// PolicyBundleYAML is the rendered sandboxcfg.Bundle for this server
	// (see internal/mcpbox/sandboxcfg). Carried as an opaque YAML document
	// rather than structured JSON fields so the sandbox's policy loader can
	// decode it independently of this RPC envelope's own versioning.
	PolicyBundleYAML string `json:"policy_bundle_yaml,omitempty"`
}

// ToolDefinition describes a tool the sandbox must register for a server.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"input_schema"`
	PythonCode  string `json:"python_code,omitempty"`
	TimeoutMs   int    `json:"timeout_ms"`
}

// ExternalSource describes an upstream MCP passthrough source.
type ExternalSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RegisterServerResult is register_server's response.
type RegisterServerResult struct {
	Success        bool `json:"success"`
	ToolsRegistered int  `json:"tools_registered"`
}

// CallToolResult is call_tool / execute_code's response.
type CallToolResult struct {
	Success    bool   `json:"success"`
	Result     any    `json:"result"`
	Error      string `json:"error,omitempty"`
	Stdout     string `json:"stdout"`
	DurationMs int    `json:"duration_ms"`
}

// PackageStatusResult is get_package_status's response.
type PackageStatusResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheck pings the sandbox.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.call(ctx, "health_check", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
	})
}

// RegisterServer registers a server's tools, secrets, and policy with the sandbox.
func (c *Client) RegisterServer(ctx context.Context, req RegisterServerRequest) (*RegisterServerResult, error) {
	var out RegisterServerResult
	err := c.call(ctx, "register_server", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/servers", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnregisterServer removes a server from the sandbox.
func (c *Client) UnregisterServer(ctx context.Context, serverID string) error {
	return c.call(ctx, "unregister_server", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodDelete, "/servers/"+serverID, nil, nil)
	})
}

// ListTools lists tools registered in the sandbox, optionally scoped to a server.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]ToolDefinition, error) {
	path := "/tools"
	if serverID != "" {
		path += "?server_id=" + serverID
	}
	var out struct {
		Tools []ToolDefinition `json:"tools"`
	}
	err := c.call(ctx, "list_tools", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, path, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// CallTool invokes a registered tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any, debugMode bool) (*CallToolResult, error) {
	var out CallToolResult
	req := map[string]any{"tool_name": toolName, "args": args, "debug_mode": debugMode}
	err := c.call(ctx, "call_tool", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/tools/call", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MCPRequest forwards a raw JSON-RPC envelope to an external MCP passthrough
// source and returns the raw response envelope, unmodified.
func (c *Client) MCPRequest(ctx context.Context, sourceName string, rpc json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, "mcp_request", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/mcp_passthrough/"+sourceName, rpc, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteCodeRequest is execute_code's payload.
type ExecuteCodeRequest struct {
	Code           string            `json:"code"`
	Args           map[string]any    `json:"args"`
	Secrets        map[string]string `json:"secrets"`
	AllowedHosts   []string          `json:"allowed_hosts"`
	AllowedModules []string          `json:"allowed_modules"`
	TimeoutMs      int               `json:"timeout_ms"`
}

// ExecuteCode runs arbitrary Python in the sandbox (used by test_code, and
// indirectly by call_tool for python_code tools).
func (c *Client) ExecuteCode(ctx context.Context, req ExecuteCodeRequest) (*CallToolResult, error) {
	var out CallToolResult
	err := c.call(ctx, "execute_code", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/execute", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InstallPackage installs a Python package into the sandbox environment.
func (c *Client) InstallPackage(ctx context.Context, name, version string) (*PackageStatusResult, error) {
	var out PackageStatusResult
	req := map[string]string{"name": name, "version": version}
	err := c.call(ctx, "install_package", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/packages/install", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncPackages reconciles the sandbox's installed packages against the
// declared dependency set across all tools.
func (c *Client) SyncPackages(ctx context.Context, packages []string) (*PackageStatusResult, error) {
	var out PackageStatusResult
	err := c.call(ctx, "sync_packages", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/packages/sync", map[string]any{"packages": packages}, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPackageStatus polls the status of a previously requested install/sync.
func (c *Client) GetPackageStatus(ctx context.Context, taskID string) (*PackageStatusResult, error) {
	var out PackageStatusResult
	err := c.call(ctx, "get_package_status", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/packages/status/"+taskID, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListInstalledPackages lists packages currently installed in the sandbox.
func (c *Client) ListInstalledPackages(ctx context.Context) ([]string, error) {
	var out struct {
		Packages []string `json:"packages"`
	}
	err := c.call(ctx, "list_installed_packages", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/packages", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Packages, nil
}

// ClassifyModulesResult reports which imports in a tool's code are already
// globally allowed versus require an operator-approved ModuleRequest.
type ClassifyModulesResult struct {
	Allowed []string `json:"allowed"`
	Pending []string `json:"pending"`
}

// ClassifyModules inspects code for import statements and classifies each
// module against the sandbox's standard-library and global-whitelist sets.
func (c *Client) ClassifyModules(ctx context.Context, code string) (*ClassifyModulesResult, error) {
	var out ClassifyModulesResult
	err := c.call(ctx, "classify_modules", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/modules/classify", map[string]string{"code": code}, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PyPIInfo is a subset of PyPI package metadata surfaced to the management layer.
type PyPIInfo struct {
	Name           string   `json:"name"`
	LatestVersion  string   `json:"latest_version"`
	Summary        string   `json:"summary"`
	AvailableVersions []string `json:"available_versions"`
}

// GetPyPIInfo looks up a package on PyPI via the sandbox (which has network
// egress; the gateway process itself does not reach out to PyPI directly).
func (c *Client) GetPyPIInfo(ctx context.Context, packageName string) (*PyPIInfo, error) {
	var out PyPIInfo
	err := c.call(ctx, "get_pypi_info", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/packages/pypi/"+packageName, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateServerSecrets pushes the decrypted secret values for a server to the
// sandbox so subsequent tool calls can use them. Secret values never persist
// in the gateway process beyond this call.
func (c *Client) UpdateServerSecrets(ctx context.Context, serverID string, secrets map[string]string) error {
	return c.call(ctx, "update_server_secrets", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, "/servers/"+serverID+"/secrets", map[string]any{"secrets": secrets}, nil)
	})
}
