package gateway

import (
	"context"
	"encoding/json"
)

// handleToolsList implements the §4.6 `_handle_tools_list` algorithm: ask
// the sandbox for every tool it has registered, keep only the ones whose
// server_name__tool_name key is currently approved+enabled+served by a
// running server, then append the static management catalog.
func (g *Gateway) handleToolsList(ctx context.Context) (ListToolsResult, error) {
	sandboxTools, err := g.sandbox.ListTools(ctx, "")
	if err != nil {
		return ListToolsResult{}, err
	}

	approved, err := g.approved.ApprovedEnabledToolNames(ctx)
	if err != nil {
		return ListToolsResult{}, err
	}

	out := make([]ToolDescriptor, 0, len(sandboxTools)+len(g.management.Catalog()))
	for _, t := range sandboxTools {
		if !approved[t.Name] {
			continue
		}
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: rawSchema(t.InputSchema),
		})
	}
	out = append(out, g.management.Catalog()...)

	return ListToolsResult{Tools: out}, nil
}

func rawSchema(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}
