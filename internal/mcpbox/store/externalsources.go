package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const externalSourceColumns = `
	id, server_id, name, url, auth_type, auth_secret_name, auth_header_name,
	transport_type, status, oauth_tokens_encrypted, oauth_issuer, oauth_client_id,
	oauth_client_secret_encrypted, tool_count, discovered_tools_cache, created_at, updated_at
`

// CreateExternalMCPSource inserts a new ExternalMCPSource.
func (s *Store) CreateExternalMCPSource(ctx context.Context, src *ExternalMCPSource) (*ExternalMCPSource, error) {
	now := time.Now().UTC()
	src.ID = uuid.NewString()
	src.CreatedAt = now
	src.UpdatedAt = now
	if src.Status == "" {
		src.Status = SourceActive
	}
	if src.DiscoveredToolsCache == "" {
		src.DiscoveredToolsCache = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_mcp_sources (`+externalSourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, src.ID, src.ServerID, src.Name, src.URL, src.AuthType, src.AuthSecretName, src.AuthHeaderName,
		src.TransportType, src.Status, src.OAuthTokensEncrypted, src.OAuthIssuer, src.OAuthClientID,
		src.OAuthClientSecretEncrypted, src.ToolCount, src.DiscoveredToolsCache, src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create external mcp source: %w", err)
	}
	return src, nil
}

func scanExternalSource(row interface{ Scan(dest ...any) error }) (*ExternalMCPSource, error) {
	var src ExternalMCPSource
	err := row.Scan(
		&src.ID, &src.ServerID, &src.Name, &src.URL, &src.AuthType, &src.AuthSecretName, &src.AuthHeaderName,
		&src.TransportType, &src.Status, &src.OAuthTokensEncrypted, &src.OAuthIssuer, &src.OAuthClientID,
		&src.OAuthClientSecretEncrypted, &src.ToolCount, &src.DiscoveredToolsCache, &src.CreatedAt, &src.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan external mcp source: %w", err)
	}
	return &src, nil
}

// GetExternalMCPSource fetches an ExternalMCPSource by ID.
func (s *Store) GetExternalMCPSource(ctx context.Context, id string) (*ExternalMCPSource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+externalSourceColumns+` FROM external_mcp_sources WHERE id = ?`, id)
	return scanExternalSource(row)
}

// ListExternalMCPSources returns all sources for a server.
func (s *Store) ListExternalMCPSources(ctx context.Context, serverID string) ([]*ExternalMCPSource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+externalSourceColumns+` FROM external_mcp_sources WHERE server_id = ? ORDER BY name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list external mcp sources: %w", err)
	}
	defer rows.Close()
	var out []*ExternalMCPSource
	for rows.Next() {
		src, err := scanExternalSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdateExternalMCPSource persists the mutable fields of src.
func (s *Store) UpdateExternalMCPSource(ctx context.Context, src *ExternalMCPSource) error {
	src.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE external_mcp_sources SET
			name = ?, url = ?, auth_type = ?, auth_secret_name = ?, auth_header_name = ?,
			transport_type = ?, status = ?, oauth_tokens_encrypted = ?, oauth_issuer = ?,
			oauth_client_id = ?, oauth_client_secret_encrypted = ?, tool_count = ?,
			discovered_tools_cache = ?, updated_at = ?
		WHERE id = ?
	`, src.Name, src.URL, src.AuthType, src.AuthSecretName, src.AuthHeaderName,
		src.TransportType, src.Status, src.OAuthTokensEncrypted, src.OAuthIssuer,
		src.OAuthClientID, src.OAuthClientSecretEncrypted, src.ToolCount,
		src.DiscoveredToolsCache, src.UpdatedAt, src.ID)
	if err != nil {
		return fmt.Errorf("update external mcp source: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExternalMCPSource removes an ExternalMCPSource. Tools imported from it
// have external_source_id set to NULL (ON DELETE SET NULL) rather than being
// deleted themselves.
func (s *Store) DeleteExternalMCPSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM external_mcp_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete external mcp source: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
