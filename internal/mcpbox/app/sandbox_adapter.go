package app

import (
	"context"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/approvals"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/gateway"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandbox"
)

// gatewaySandbox adapts *sandbox.Client to gateway.SandboxClient. The two
// packages define structurally identical but separately named result types
// (to avoid the gateway importing sandbox's full operation surface), so the
// conversion has to happen somewhere concrete; MCPRequest is promoted
// unchanged through embedding since its signature already matches.
type gatewaySandbox struct {
	*sandbox.Client
}

func (a gatewaySandbox) ListTools(ctx context.Context, serverID string) ([]gateway.SandboxToolDefinition, error) {
	defs, err := a.Client.ListTools(ctx, serverID)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.SandboxToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = gateway.SandboxToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	return out, nil
}

func (a gatewaySandbox) CallTool(ctx context.Context, toolName string, args map[string]any, debugMode bool) (*gateway.SandboxCallResult, error) {
	res, err := a.Client.CallTool(ctx, toolName, args, debugMode)
	if err != nil {
		return nil, err
	}
	return &gateway.SandboxCallResult{Success: res.Success, Result: res.Result, Error: res.Error}, nil
}

// approvalsInstaller adapts *sandbox.Client to approvals.PackageInstaller,
// whose PackageStatusResult is a package-local mirror of sandbox's.
type approvalsInstaller struct {
	*sandbox.Client
}

func (a approvalsInstaller) InstallPackage(ctx context.Context, name, version string) (*approvals.PackageStatusResult, error) {
	res, err := a.Client.InstallPackage(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return &approvals.PackageStatusResult{Status: res.Status, Message: res.Message}, nil
}
