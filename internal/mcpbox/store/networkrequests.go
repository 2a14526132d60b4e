package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateNetworkAccessRequest inserts a pending NetworkAccessRequest. Returns
// ErrDuplicatePending if a pending request already exists for (tool_id, host, port).
func (s *Store) CreateNetworkAccessRequest(ctx context.Context, r *NetworkAccessRequest) (*NetworkAccessRequest, error) {
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.Status = RequestPending
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO network_access_requests (id, tool_id, host, port, justification, status,
			reviewed_by, reviewed_at, rejection_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ToolID, r.Host, r.Port, r.Justification, r.Status, r.ReviewedBy, r.ReviewedAt, r.RejectionReason, r.CreatedAt, r.UpdatedAt)
	if isUniqueConstraintErr(err) {
		return nil, ErrDuplicatePending
	}
	if err != nil {
		return nil, fmt.Errorf("create network access request: %w", err)
	}
	return r, nil
}

func scanNetworkRequest(row interface{ Scan(dest ...any) error }) (*NetworkAccessRequest, error) {
	var r NetworkAccessRequest
	var port sql.NullInt64
	var reviewedAt sql.NullTime
	err := row.Scan(&r.ID, &r.ToolID, &r.Host, &port, &r.Justification, &r.Status, &r.ReviewedBy,
		&reviewedAt, &r.RejectionReason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan network access request: %w", err)
	}
	if port.Valid {
		v := int(port.Int64)
		r.Port = &v
	}
	if reviewedAt.Valid {
		v := reviewedAt.Time
		r.ReviewedAt = &v
	}
	return &r, nil
}

// GetNetworkAccessRequest fetches a NetworkAccessRequest by ID.
func (s *Store) GetNetworkAccessRequest(ctx context.Context, id string) (*NetworkAccessRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_id, host, port, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at
		FROM network_access_requests WHERE id = ?
	`, id)
	return scanNetworkRequest(row)
}

// ListNetworkAccessRequests returns requests for a tool, optionally filtered
// by status (empty means all).
func (s *Store) ListNetworkAccessRequests(ctx context.Context, toolID, status string) ([]*NetworkAccessRequest, error) {
	query := `SELECT id, tool_id, host, port, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at FROM network_access_requests WHERE tool_id = ?`
	args := []any{toolID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list network access requests: %w", err)
	}
	defer rows.Close()
	var out []*NetworkAccessRequest
	for rows.Next() {
		r, err := scanNetworkRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPendingNetworkAccessRequests returns every pending request across all
// tools, for the approvals dashboard.
func (s *Store) ListPendingNetworkAccessRequests(ctx context.Context) ([]*NetworkAccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, host, port, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at
		FROM network_access_requests WHERE status = 'pending' ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending network access requests: %w", err)
	}
	defer rows.Close()
	var out []*NetworkAccessRequest
	for rows.Next() {
		r, err := scanNetworkRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveNetworkAccessRequest transitions a pending request to approved or rejected.
func (s *Store) ResolveNetworkAccessRequest(ctx context.Context, id, status, reviewedBy, rejectionReason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE network_access_requests SET status = ?, reviewed_by = ?, reviewed_at = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, reviewedBy, now, rejectionReason, now, id)
	if err != nil {
		return fmt.Errorf("resolve network access request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNetworkAccessRequestsResolvedSince returns non-pending requests
// reviewed at or after since, across all tools — the dashboard's recent-
// activity feed.
func (s *Store) ListNetworkAccessRequestsResolvedSince(ctx context.Context, since time.Time) ([]*NetworkAccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, host, port, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at
		FROM network_access_requests WHERE status != 'pending' AND reviewed_at >= ? ORDER BY reviewed_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list resolved network access requests: %w", err)
	}
	defer rows.Close()
	var out []*NetworkAccessRequest
	for rows.Next() {
		r, err := scanNetworkRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RevokeNetworkAccessRequest reverts a previously approved request back to pending.
func (s *Store) RevokeNetworkAccessRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE network_access_requests SET status = 'pending', reviewed_by = '', reviewed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'approved'
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke network access request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
