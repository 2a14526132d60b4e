package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertToolExecutionLog records the outcome of a tool run.
func (s *Store) InsertToolExecutionLog(ctx context.Context, l *ToolExecutionLog) (*ToolExecutionLog, error) {
	l.ID = uuid.NewString()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_execution_logs (id, tool_id, server_id, tool_name, input_args, result, error,
			stdout, duration_ms, success, is_test, executed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.ToolID, l.ServerID, l.ToolName, l.InputArgs, l.Result, l.Error,
		l.Stdout, l.DurationMs, l.Success, l.IsTest, l.ExecutedBy, l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tool execution log: %w", err)
	}
	return l, nil
}

func scanExecutionLog(row interface{ Scan(dest ...any) error }) (*ToolExecutionLog, error) {
	var l ToolExecutionLog
	var toolID, serverID sql.NullString
	err := row.Scan(&l.ID, &toolID, &serverID, &l.ToolName, &l.InputArgs, &l.Result, &l.Error,
		&l.Stdout, &l.DurationMs, &l.Success, &l.IsTest, &l.ExecutedBy, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tool execution log: %w", err)
	}
	if toolID.Valid {
		v := toolID.String
		l.ToolID = &v
	}
	if serverID.Valid {
		v := serverID.String
		l.ServerID = &v
	}
	return &l, nil
}

// ListToolExecutionLogs returns execution log rows for a tool, newest first.
func (s *Store) ListToolExecutionLogs(ctx context.Context, toolID string, limit int) ([]*ToolExecutionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, server_id, tool_name, input_args, result, error, stdout,
			duration_ms, success, is_test, executed_by, created_at
		FROM tool_execution_logs WHERE tool_id = ? ORDER BY created_at DESC LIMIT ?
	`, toolID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tool execution logs: %w", err)
	}
	defer rows.Close()
	var out []*ToolExecutionLog
	for rows.Next() {
		l, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CleanupOldToolExecutionLogs deletes execution log rows older than the
// retention cutoff and returns the number of rows removed.
func (s *Store) CleanupOldToolExecutionLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_execution_logs WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup tool execution logs: %w", err)
	}
	return res.RowsAffected()
}
