package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicatePending is returned when a create would violate the partial
// unique index guarding against two pending requests for the same key.
var ErrDuplicatePending = errors.New("store: a pending request for this key already exists")

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateModuleRequest inserts a pending ModuleRequest. Returns
// ErrDuplicatePending if a pending request already exists for (tool_id, module).
func (s *Store) CreateModuleRequest(ctx context.Context, r *ModuleRequest) (*ModuleRequest, error) {
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.Status = RequestPending
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_requests (id, tool_id, module, justification, status, reviewed_by,
			reviewed_at, rejection_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ToolID, r.Module, r.Justification, r.Status, r.ReviewedBy, r.ReviewedAt, r.RejectionReason, r.CreatedAt, r.UpdatedAt)
	if isUniqueConstraintErr(err) {
		return nil, ErrDuplicatePending
	}
	if err != nil {
		return nil, fmt.Errorf("create module request: %w", err)
	}
	return r, nil
}

func scanModuleRequest(row interface{ Scan(dest ...any) error }) (*ModuleRequest, error) {
	var r ModuleRequest
	var reviewedAt sql.NullTime
	err := row.Scan(&r.ID, &r.ToolID, &r.Module, &r.Justification, &r.Status, &r.ReviewedBy,
		&reviewedAt, &r.RejectionReason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan module request: %w", err)
	}
	if reviewedAt.Valid {
		v := reviewedAt.Time
		r.ReviewedAt = &v
	}
	return &r, nil
}

// GetModuleRequest fetches a ModuleRequest by ID.
func (s *Store) GetModuleRequest(ctx context.Context, id string) (*ModuleRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_id, module, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at
		FROM module_requests WHERE id = ?
	`, id)
	return scanModuleRequest(row)
}

// ListModuleRequests returns module requests for a tool, optionally filtered
// by status (empty means all).
func (s *Store) ListModuleRequests(ctx context.Context, toolID, status string) ([]*ModuleRequest, error) {
	query := `SELECT id, tool_id, module, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at FROM module_requests WHERE tool_id = ?`
	args := []any{toolID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list module requests: %w", err)
	}
	defer rows.Close()
	var out []*ModuleRequest
	for rows.Next() {
		r, err := scanModuleRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPendingModuleRequests returns every pending module request across all
// tools, for the approvals dashboard.
func (s *Store) ListPendingModuleRequests(ctx context.Context) ([]*ModuleRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, module, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at
		FROM module_requests WHERE status = 'pending' ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending module requests: %w", err)
	}
	defer rows.Close()
	var out []*ModuleRequest
	for rows.Next() {
		r, err := scanModuleRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveModuleRequest transitions a pending request to approved or rejected.
func (s *Store) ResolveModuleRequest(ctx context.Context, id, status, reviewedBy, rejectionReason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE module_requests SET status = ?, reviewed_by = ?, reviewed_at = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, reviewedBy, now, rejectionReason, now, id)
	if err != nil {
		return fmt.Errorf("resolve module request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListModuleRequestsResolvedSince returns non-pending module requests
// reviewed at or after since, across all tools — the dashboard's recent-
// activity feed.
func (s *Store) ListModuleRequestsResolvedSince(ctx context.Context, since time.Time) ([]*ModuleRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, module, justification, status, reviewed_by, reviewed_at, rejection_reason, created_at, updated_at
		FROM module_requests WHERE status != 'pending' AND reviewed_at >= ? ORDER BY reviewed_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list resolved module requests: %w", err)
	}
	defer rows.Close()
	var out []*ModuleRequest
	for rows.Next() {
		r, err := scanModuleRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RevokeModuleRequest reverts a previously approved request back to pending,
// e.g. when an operator revokes a module grant.
func (s *Store) RevokeModuleRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE module_requests SET status = 'pending', reviewed_by = '', reviewed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'approved'
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke module request: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
