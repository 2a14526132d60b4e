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

func scanTool(row interface{ Scan(dest ...any) error }) (*Tool, error) {
	var t Tool
	var depsJSON string
	var externalSourceID, approvedBy sql.NullString
	var approvalRequestedAt, approvedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.ServerID, &t.Name, &t.Description, &t.Enabled, &t.TimeoutMs,
		&t.ToolType, &t.PythonCode, &externalSourceID, &t.ExternalToolName,
		&t.InputSchema, &depsJSON, &t.CurrentVersion, &t.ApprovalStatus,
		&approvalRequestedAt, &approvedAt, &approvedBy, &t.RejectionReason,
		&t.CreatedBy, &t.PublishNotes, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tool: %w", err)
	}
	if externalSourceID.Valid {
		t.ExternalSourceID = externalSourceID.String
	}
	if approvedBy.Valid {
		t.ApprovedBy = approvedBy.String
	}
	if approvalRequestedAt.Valid {
		v := approvalRequestedAt.Time
		t.ApprovalRequestedAt = &v
	}
	if approvedAt.Valid {
		v := approvedAt.Time
		t.ApprovedAt = &v
	}
	if err := json.Unmarshal([]byte(depsJSON), &t.CodeDependencies); err != nil {
		t.CodeDependencies = []string{}
	}
	return &t, nil
}

const toolColumns = `
	id, server_id, name, description, enabled, timeout_ms, tool_type, python_code,
	external_source_id, external_tool_name, input_schema, code_dependencies,
	current_version, approval_status, approval_requested_at, approved_at,
	approved_by, rejection_reason, created_by, publish_notes, created_at, updated_at
`

// CreateTool inserts a new Tool (initial state: draft, current_version 0 —
// the caller is expected to immediately write version 1 via CreateToolVersion
// and set current_version to 1).
func (s *Store) CreateTool(ctx context.Context, t *Tool) (*Tool, error) {
	now := time.Now().UTC()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.ApprovalStatus == "" {
		t.ApprovalStatus = ApprovalDraft
	}
	if t.CodeDependencies == nil {
		t.CodeDependencies = []string{}
	}
	if t.InputSchema == "" {
		t.InputSchema = "{}"
	}
	depsJSON, err := json.Marshal(t.CodeDependencies)
	if err != nil {
		return nil, fmt.Errorf("marshal code_dependencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tools (`+toolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.ServerID, t.Name, t.Description, t.Enabled, t.TimeoutMs, t.ToolType, t.PythonCode,
		nullableString(t.ExternalSourceID), t.ExternalToolName, t.InputSchema, string(depsJSON),
		t.CurrentVersion, t.ApprovalStatus, t.ApprovalRequestedAt, t.ApprovedAt,
		t.ApprovedBy, t.RejectionReason, t.CreatedBy, t.PublishNotes, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create tool: %w", err)
	}
	return t, nil
}

// GetTool fetches a Tool by ID.
func (s *Store) GetTool(ctx context.Context, id string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM tools WHERE id = ?`, id)
	return scanTool(row)
}

// GetToolByName fetches a Tool by (server_id, name).
func (s *Store) GetToolByName(ctx context.Context, serverID, name string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM tools WHERE server_id = ? AND name = ?`, serverID, name)
	return scanTool(row)
}

// ListToolsByServer returns all tools belonging to a server.
func (s *Store) ListToolsByServer(ctx context.Context, serverID string) ([]*Tool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+toolColumns+` FROM tools WHERE server_id = ? ORDER BY created_at`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()
	var out []*Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListApprovedEnabledTools returns every tool that is enabled, approved, and
// whose owning server is running — i.e. the set the gateway's tools/list
// must expose (§3 invariant 1).
func (s *Store) ListApprovedEnabledTools(ctx context.Context) ([]*Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+toolColumns+` FROM tools t
		WHERE t.enabled = 1 AND t.approval_status = 'approved'
		AND t.server_id IN (SELECT id FROM servers WHERE status = 'running')
		ORDER BY t.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list approved tools: %w", err)
	}
	defer rows.Close()
	var out []*Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTool persists the full mutable state of t (all columns except id,
// server_id, created_by, created_at) and bumps updated_at. Callers (internal/mcpbox/
// approvals) are responsible for enforcing the approval-status coupling
// invariants before calling this.
func (s *Store) UpdateTool(ctx context.Context, t *Tool) error {
	t.UpdatedAt = time.Now().UTC()
	depsJSON, err := json.Marshal(t.CodeDependencies)
	if err != nil {
		return fmt.Errorf("marshal code_dependencies: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tools SET
			name = ?, description = ?, enabled = ?, timeout_ms = ?, tool_type = ?,
			python_code = ?, external_source_id = ?, external_tool_name = ?,
			input_schema = ?, code_dependencies = ?, current_version = ?,
			approval_status = ?, approval_requested_at = ?, approved_at = ?,
			approved_by = ?, rejection_reason = ?, publish_notes = ?, updated_at = ?
		WHERE id = ?
	`,
		t.Name, t.Description, t.Enabled, t.TimeoutMs, t.ToolType,
		t.PythonCode, nullableString(t.ExternalSourceID), t.ExternalToolName,
		t.InputSchema, string(depsJSON), t.CurrentVersion,
		t.ApprovalStatus, t.ApprovalRequestedAt, t.ApprovedAt,
		t.ApprovedBy, t.RejectionReason, t.PublishNotes, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update tool: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTool removes a Tool. Foreign keys cascade to its ToolVersions, its
// execution logs, and its module/network requests whatever their status.
func (s *Store) DeleteTool(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tool: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- ToolVersion ---

// CreateToolVersion inserts an immutable version snapshot.
func (s *Store) CreateToolVersion(ctx context.Context, v *ToolVersion) (*ToolVersion, error) {
	v.ID = uuid.NewString()
	v.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_versions (id, tool_id, version_number, name, description, enabled,
			timeout_ms, python_code, input_schema, change_summary, change_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.ToolID, v.VersionNumber, v.Name, v.Description, v.Enabled,
		v.TimeoutMs, v.PythonCode, v.InputSchema, v.ChangeSummary, v.ChangeSource, v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create tool version: %w", err)
	}
	return v, nil
}

func scanToolVersion(row interface{ Scan(dest ...any) error }) (*ToolVersion, error) {
	var v ToolVersion
	err := row.Scan(&v.ID, &v.ToolID, &v.VersionNumber, &v.Name, &v.Description, &v.Enabled,
		&v.TimeoutMs, &v.PythonCode, &v.InputSchema, &v.ChangeSummary, &v.ChangeSource, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tool version: %w", err)
	}
	return &v, nil
}

// ListToolVersions returns all versions of a tool, oldest first.
func (s *Store) ListToolVersions(ctx context.Context, toolID string) ([]*ToolVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, version_number, name, description, enabled, timeout_ms,
			python_code, input_schema, change_summary, change_source, created_at
		FROM tool_versions WHERE tool_id = ? ORDER BY version_number
	`, toolID)
	if err != nil {
		return nil, fmt.Errorf("list tool versions: %w", err)
	}
	defer rows.Close()
	var out []*ToolVersion
	for rows.Next() {
		v, err := scanToolVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetToolVersion fetches a single version by (tool_id, version_number).
func (s *Store) GetToolVersion(ctx context.Context, toolID string, versionNumber int) (*ToolVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_id, version_number, name, description, enabled, timeout_ms,
			python_code, input_schema, change_summary, change_source, created_at
		FROM tool_versions WHERE tool_id = ? AND version_number = ?
	`, toolID, versionNumber)
	return scanToolVersion(row)
}

// CountToolVersions returns the number of versions recorded for a tool — used
// to check the invariant current_version == count(ToolVersion).
func (s *Store) CountToolVersions(ctx context.Context, toolID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_versions WHERE tool_id = ?`, toolID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tool versions: %w", err)
	}
	return n, nil
}

// CountToolsByApprovalStatus returns the number of tools currently in the
// given approval_status, across all servers — used by the approvals
// dashboard's pending-count tiles.
func (s *Store) CountToolsByApprovalStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools WHERE approval_status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tools by approval status: %w", err)
	}
	return n, nil
}

// ListToolsApprovedSince returns tools approved at or after since, newest
// first — the dashboard's "recently approved" feed.
func (s *Store) ListToolsApprovedSince(ctx context.Context, since time.Time) ([]*Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+toolColumns+` FROM tools WHERE approved_at IS NOT NULL AND approved_at >= ?
		ORDER BY approved_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list tools approved since: %w", err)
	}
	defer rows.Close()
	var out []*Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListToolsRejectedSince returns tools currently rejected and last updated at
// or after since — the dashboard's "recently rejected" feed.
func (s *Store) ListToolsRejectedSince(ctx context.Context, since time.Time) ([]*Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+toolColumns+` FROM tools WHERE approval_status = 'rejected' AND updated_at >= ?
		ORDER BY updated_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list tools rejected since: %w", err)
	}
	defer rows.Close()
	var out []*Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
