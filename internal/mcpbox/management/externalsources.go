package management

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// externalToolDescriptor is one entry of an ExternalMCPSource's
// discovered_tools_cache — a snapshot of the upstream server's tools/list
// result at discovery time.
type externalToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

func handleAddExternalSource(ctx context.Context, s *Service, args map[string]any) (any, error) {
	serverID, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, "name")
	if err != nil {
		return nil, err
	}
	url, err := argString(args, "url")
	if err != nil {
		return nil, err
	}
	src, err := s.db.CreateExternalMCPSource(ctx, &store.ExternalMCPSource{
		ServerID:       serverID,
		Name:           name,
		URL:            url,
		AuthType:       argStringOpt(args, "auth_type", store.AuthTypeNone),
		AuthSecretName: argStringOpt(args, "auth_secret_name", ""),
		AuthHeaderName: argStringOpt(args, "auth_header_name", ""),
		TransportType:  argStringOpt(args, "transport_type", store.TransportStreamableHTTP),
	})
	if err != nil {
		return nil, fmt.Errorf("create external mcp source: %w", err)
	}
	return src, nil
}

func handleListExternalSources(ctx context.Context, s *Service, args map[string]any) (any, error) {
	serverID, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	sources, err := s.db.ListExternalMCPSources(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("list external mcp sources: %w", err)
	}
	return map[string]any{"sources": sources}, nil
}

// handleDiscoverExternalTools implements the "discover" handler (§4.7): it
// opens a live MCP session against the upstream source (initialize, then
// tools/list) through the sandbox's passthrough relay and caches the result
// on the source row. The cache is what import later consumes — a second
// live call at import time would let the upstream tool set drift out from
// under the tools the LLM actually reviewed.
func handleDiscoverExternalTools(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "source_id")
	if err != nil {
		return nil, err
	}
	src, err := s.db.GetExternalMCPSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get external mcp source: %w", err)
	}

	initReq, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]any{"protocolVersion": "2024-11-05"},
	})
	if _, err := s.sandbox.MCPRequest(ctx, src.Name, initReq); err != nil {
		return nil, fmt.Errorf("initialize external source %q: %w", src.Name, err)
	}

	listReq, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tools/list",
	})
	raw, err := s.sandbox.MCPRequest(ctx, src.Name, listReq)
	if err != nil {
		return nil, fmt.Errorf("list tools on external source %q: %w", src.Name, err)
	}

	var envelope struct {
		Result struct {
			Tools []externalToolDescriptor `json:"tools"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parse external source tools/list response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("external source %q returned an error: %s", src.Name, envelope.Error.Message)
	}

	cacheJSON, err := json.Marshal(envelope.Result.Tools)
	if err != nil {
		return nil, fmt.Errorf("marshal discovered tools cache: %w", err)
	}
	src.DiscoveredToolsCache = string(cacheJSON)
	src.ToolCount = len(envelope.Result.Tools)
	src.Status = store.SourceActive
	if err := s.db.UpdateExternalMCPSource(ctx, src); err != nil {
		return nil, fmt.Errorf("update external mcp source: %w", err)
	}

	return map[string]any{"tools": envelope.Result.Tools, "tool_count": src.ToolCount}, nil
}

// handleImportExternalTools implements the "import" handler: consumes the
// cache populated by discover (no second live call) and creates local
// mcp_passthrough tools for the selected upstream tool names, or all of
// them when tool_names is omitted.
func handleImportExternalTools(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "source_id")
	if err != nil {
		return nil, err
	}
	src, err := s.db.GetExternalMCPSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get external mcp source: %w", err)
	}

	var cached []externalToolDescriptor
	if err := json.Unmarshal([]byte(src.DiscoveredToolsCache), &cached); err != nil {
		return nil, fmt.Errorf("parse discovered tools cache: %w", err)
	}

	wanted := argStringSliceOpt(args, "tool_names")
	wantedSet := make(map[string]bool, len(wanted))
	for _, n := range wanted {
		wantedSet[n] = true
	}

	var imported []*store.Tool
	for _, desc := range cached {
		if len(wantedSet) > 0 && !wantedSet[desc.Name] {
			continue
		}
		schema := "{}"
		if desc.InputSchema != nil {
			if b, err := json.Marshal(desc.InputSchema); err == nil {
				schema = string(b)
			}
		}
		t := &store.Tool{
			ServerID:         src.ServerID,
			Name:             desc.Name,
			Description:      desc.Description,
			Enabled:          true,
			TimeoutMs:        30000,
			ToolType:         store.ToolTypeMCPPassthrough,
			ExternalSourceID: src.ID,
			ExternalToolName: desc.Name,
			InputSchema:      schema,
			CreatedBy:        "llm",
		}
		created, err := s.approvals.CreateTool(ctx, t, "import")
		if err != nil {
			return nil, fmt.Errorf("create imported tool %q: %w", desc.Name, err)
		}
		imported = append(imported, created)
	}

	return map[string]any{"imported": imported, "count": len(imported)}, nil
}
