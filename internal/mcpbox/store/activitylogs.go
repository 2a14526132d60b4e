package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertActivityLog writes a single ActivityLog row.
func (s *Store) InsertActivityLog(ctx context.Context, l *ActivityLog) (*ActivityLog, error) {
	l.ID = uuid.NewString()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.Details == "" {
		l.Details = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, server_id, log_type, level, message, details, request_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.ServerID, l.LogType, l.Level, l.Message, l.Details, l.RequestID, l.DurationMs, l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert activity log: %w", err)
	}
	return l, nil
}

// InsertActivityLogBatch writes many ActivityLog rows in a single
// transaction. Used by the activity logger's periodic flush.
func (s *Store) InsertActivityLogBatch(ctx context.Context, logs []*ActivityLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activity log batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_logs (id, server_id, log_type, level, message, details, request_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare activity log batch: %w", err)
	}
	defer stmt.Close()

	for _, l := range logs {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = time.Now().UTC()
		}
		if l.Details == "" {
			l.Details = "{}"
		}
		if _, err := stmt.ExecContext(ctx, l.ID, l.ServerID, l.LogType, l.Level, l.Message, l.Details, l.RequestID, l.DurationMs, l.CreatedAt); err != nil {
			return fmt.Errorf("insert activity log in batch: %w", err)
		}
	}
	return tx.Commit()
}

func scanActivityLog(row interface{ Scan(dest ...any) error }) (*ActivityLog, error) {
	var l ActivityLog
	var serverID sql.NullString
	var durationMs sql.NullInt64
	err := row.Scan(&l.ID, &serverID, &l.LogType, &l.Level, &l.Message, &l.Details, &l.RequestID, &durationMs, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan activity log: %w", err)
	}
	if serverID.Valid {
		v := serverID.String
		l.ServerID = &v
	}
	if durationMs.Valid {
		v := int(durationMs.Int64)
		l.DurationMs = &v
	}
	return &l, nil
}

// ActivityLogFilter narrows ListActivityLogs. Zero-valued fields are ignored.
type ActivityLogFilter struct {
	ServerID string
	LogType  string
	Level    string
	Since    time.Time
	Limit    int
	Offset   int
}

// ListActivityLogs returns activity log rows matching filter, newest first.
func (s *Store) ListActivityLogs(ctx context.Context, filter ActivityLogFilter) ([]*ActivityLog, error) {
	query := `SELECT id, server_id, log_type, level, message, details, request_id, duration_ms, created_at FROM activity_logs WHERE 1=1`
	var args []any
	if filter.ServerID != "" {
		query += ` AND server_id = ?`
		args = append(args, filter.ServerID)
	}
	if filter.LogType != "" {
		query += ` AND log_type = ?`
		args = append(args, filter.LogType)
	}
	if filter.Level != "" {
		query += ` AND level = ?`
		args = append(args, filter.Level)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()
	var out []*ActivityLog
	for rows.Next() {
		l, err := scanActivityLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ActivityLogStats summarizes counts for the dashboard.
type ActivityLogStats struct {
	TotalCount int
	ErrorCount int
	AlertCount int
}

// GetActivityLogStats returns aggregate counts since the given time.
func (s *Store) GetActivityLogStats(ctx context.Context, since time.Time) (*ActivityLogStats, error) {
	var stats ActivityLogStats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs WHERE created_at >= ?`, since).Scan(&stats.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("count activity logs: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs WHERE created_at >= ? AND level = 'error'`, since).Scan(&stats.ErrorCount)
	if err != nil {
		return nil, fmt.Errorf("count error logs: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs WHERE created_at >= ? AND log_type = 'alert'`, since).Scan(&stats.AlertCount)
	if err != nil {
		return nil, fmt.Errorf("count alert logs: %w", err)
	}
	return &stats, nil
}

// CleanupOldActivityLogs deletes activity log rows older than the retention
// cutoff and returns the number of rows removed.
func (s *Store) CleanupOldActivityLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_logs WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup activity logs: %w", err)
	}
	return res.RowsAffected()
}
