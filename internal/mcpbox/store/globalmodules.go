package store

import (
	"context"
	"fmt"
	"time"
)

// AddGlobalAllowedModule idempotently adds a module name to the
// process-wide Python import whitelist.
func (s *Store) AddGlobalAllowedModule(ctx context.Context, module string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_allowed_modules (module_name, created_at) VALUES (?, ?)
		ON CONFLICT(module_name) DO NOTHING
	`, module, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add global allowed module: %w", err)
	}
	return nil
}

// RemoveGlobalAllowedModule removes a module name from the whitelist. It is
// not an error to remove a module that isn't present.
func (s *Store) RemoveGlobalAllowedModule(ctx context.Context, module string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM global_allowed_modules WHERE module_name = ?`, module)
	if err != nil {
		return fmt.Errorf("remove global allowed module: %w", err)
	}
	return nil
}

// ListGlobalAllowedModules returns every globally whitelisted module name.
func (s *Store) ListGlobalAllowedModules(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module_name FROM global_allowed_modules ORDER BY module_name`)
	if err != nil {
		return nil, fmt.Errorf("list global allowed modules: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan global allowed module: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IsGlobalAllowedModule reports whether module is on the whitelist.
func (s *Store) IsGlobalAllowedModule(ctx context.Context, module string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM global_allowed_modules WHERE module_name = ?`, module).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check global allowed module: %w", err)
	}
	return n > 0, nil
}
