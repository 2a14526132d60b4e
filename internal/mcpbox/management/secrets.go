package management

import (
	"context"
	"fmt"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// handleCreateServerSecret implements mcpbox_create_server_secret. Per §4.7
// the LLM can NEVER set a secret's value — only an admin using the separate
// UI surface may do that via UpdateServerSecretValue. This handler only ever
// creates a value-less placeholder row.
func handleCreateServerSecret(ctx context.Context, s *Service, args map[string]any) (any, error) {
	serverID, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	keyName, err := argString(args, "key_name")
	if err != nil {
		return nil, err
	}
	secret, err := s.db.CreateServerSecret(ctx, &store.ServerSecret{
		ServerID:    serverID,
		KeyName:     keyName,
		Description: argStringOpt(args, "description", ""),
	})
	if err != nil {
		return nil, fmt.Errorf("create server secret: %w", err)
	}
	return secretPlaceholder(secret), nil
}

func handleListServerSecrets(ctx context.Context, s *Service, args map[string]any) (any, error) {
	serverID, err := argString(args, "server_id")
	if err != nil {
		return nil, err
	}
	secrets, err := s.db.ListServerSecrets(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("list server secrets: %w", err)
	}
	out := make([]map[string]any, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, secretPlaceholder(sec))
	}
	return map[string]any{"secrets": out}, nil
}

// secretPlaceholder projects a ServerSecret to the LLM-safe view: the
// encrypted value itself never leaves this layer, only whether one is set.
func secretPlaceholder(sec *store.ServerSecret) map[string]any {
	return map[string]any{
		"id":          sec.ID,
		"server_id":   sec.ServerID,
		"key_name":    sec.KeyName,
		"description": sec.Description,
		"has_value":   sec.EncryptedValue != nil,
		"created_at":  sec.CreatedAt,
		"updated_at":  sec.UpdatedAt,
	}
}

func handleDeleteServerSecret(ctx context.Context, s *Service, args map[string]any) (any, error) {
	id, err := argString(args, "secret_id")
	if err != nil {
		return nil, err
	}
	if err := s.db.DeleteServerSecret(ctx, id); err != nil {
		return nil, fmt.Errorf("delete server secret: %w", err)
	}
	return map[string]any{"deleted": true, "secret_id": id}, nil
}
