package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by ID finds no matching row.
var ErrNotFound = errors.New("store: not found")

// CreateServer inserts a new Server with a generated ID and timestamps.
func (s *Store) CreateServer(ctx context.Context, srv *Server) (*Server, error) {
	now := time.Now().UTC()
	srv.ID = uuid.NewString()
	srv.CreatedAt = now
	srv.UpdatedAt = now
	if srv.Status == "" {
		srv.Status = ServerImported
	}
	if srv.AllowedHosts == nil {
		srv.AllowedHosts = []string{}
	}
	hostsJSON, err := json.Marshal(srv.AllowedHosts)
	if err != nil {
		return nil, fmt.Errorf("marshal allowed_hosts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers (id, name, description, status, allowed_hosts, default_timeout_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, srv.ID, srv.Name, srv.Description, srv.Status, string(hostsJSON), srv.DefaultTimeoutMs, srv.CreatedAt, srv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}
	return srv, nil
}

func scanServer(row interface {
	Scan(dest ...any) error
}) (*Server, error) {
	var srv Server
	var hostsJSON string
	err := row.Scan(&srv.ID, &srv.Name, &srv.Description, &srv.Status, &hostsJSON,
		&srv.DefaultTimeoutMs, &srv.CreatedAt, &srv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan server: %w", err)
	}
	if err := json.Unmarshal([]byte(hostsJSON), &srv.AllowedHosts); err != nil {
		srv.AllowedHosts = []string{}
	}
	return &srv, nil
}

// GetServer fetches a Server by ID.
func (s *Store) GetServer(ctx context.Context, id string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, allowed_hosts, default_timeout_ms, created_at, updated_at
		FROM servers WHERE id = ?
	`, id)
	return scanServer(row)
}

// ListServers returns all servers ordered by creation time, newest first.
func (s *Store) ListServers(ctx context.Context) ([]*Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, status, allowed_hosts, default_timeout_ms, created_at, updated_at
		FROM servers ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// UpdateServer persists the mutable fields of srv (name, description, status,
// allowed_hosts, default_timeout_ms) and bumps updated_at.
func (s *Store) UpdateServer(ctx context.Context, srv *Server) error {
	srv.UpdatedAt = time.Now().UTC()
	hostsJSON, err := json.Marshal(srv.AllowedHosts)
	if err != nil {
		return fmt.Errorf("marshal allowed_hosts: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET name = ?, description = ?, status = ?, allowed_hosts = ?,
			default_timeout_ms = ?, updated_at = ?
		WHERE id = ?
	`, srv.Name, srv.Description, srv.Status, string(hostsJSON), srv.DefaultTimeoutMs, srv.UpdatedAt, srv.ID)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAllowedHost appends host to srv's allowed_hosts list (idempotent) and
// persists it.
func (s *Store) AddAllowedHost(ctx context.Context, serverID, host string) error {
	srv, err := s.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	for _, h := range srv.AllowedHosts {
		if h == host {
			return nil
		}
	}
	srv.AllowedHosts = append(srv.AllowedHosts, host)
	return s.UpdateServer(ctx, srv)
}

// RemoveAllowedHost removes host from srv's allowed_hosts list and persists it.
func (s *Store) RemoveAllowedHost(ctx context.Context, serverID, host string) error {
	srv, err := s.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	out := srv.AllowedHosts[:0]
	for _, h := range srv.AllowedHosts {
		if h != host {
			out = append(out, h)
		}
	}
	srv.AllowedHosts = out
	return s.UpdateServer(ctx, srv)
}

// DeleteServer removes a Server. Foreign keys cascade to Tools, ToolVersions
// (via Tools), ServerSecrets, and ExternalMCPSources. ActivityLog rows have
// their server_id set to NULL instead of being deleted (ON DELETE SET NULL).
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
