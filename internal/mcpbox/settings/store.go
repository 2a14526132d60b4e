// Package settings provides a key/value configuration store backed by a
// SQLite table. It holds operator-tunable knobs (rate limits, auth policy,
// retention windows) alongside a few entries whose value is itself an
// encrypted blob (e.g. the service token hash), distinguished by the
// encrypted flag so callers know whether to run it through common/crypto
// before use.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("settings: key not found")

// Entry is a single setting row.
type Entry struct {
	Key       string
	Value     string
	Encrypted bool
	UpdatedAt time.Time
}

// Store is the read/write interface for the runtime settings table.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value associated with key. Returns ErrNotFound when the
	// key has not been set.
	Get(ctx context.Context, key string) (string, error)

	// GetEntry returns the full Entry (value plus the encrypted flag).
	GetEntry(ctx context.Context, key string) (*Entry, error)

	// Set stores value under key, creating or overwriting the entry.
	Set(ctx context.Context, key, value string) error

	// SetEncrypted stores value under key and marks it encrypted, so
	// readers know to run it through common/crypto.Decrypt before use.
	SetEncrypted(ctx context.Context, key, value string) error

	// Delete removes key. It is a no-op (no error) when the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns a snapshot of all settings currently in the store.
	List(ctx context.Context) (map[string]*Entry, error)
}

type sqliteStore struct {
	db *store.Store
}

// New creates a Store backed by the application SQLite database. The
// migration that creates the settings table must have been applied before
// New is called (guaranteed by store.New running all migrations on startup).
func New(db *store.Store) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	e, err := s.GetEntry(ctx, key)
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

func (s *sqliteStore) GetEntry(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	var encrypted int
	e.Key = key
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT value, encrypted, updated_at FROM settings WHERE key = ?`, key,
	).Scan(&e.Value, &encrypted, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get %q: %w", key, err)
	}
	e.Encrypted = encrypted != 0
	return &e, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	return s.upsert(ctx, key, value, false)
}

func (s *sqliteStore) SetEncrypted(ctx context.Context, key, value string) error {
	return s.upsert(ctx, key, value, true)
}

func (s *sqliteStore) upsert(ctx context.Context, key, value string, encrypted bool) error {
	now := time.Now().UTC()
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			encrypted  = excluded.encrypted,
			updated_at = excluded.updated_at
	`, key, value, encrypted, now)
	if err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("settings: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) (map[string]*Entry, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT key, value, encrypted, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Entry)
	for rows.Next() {
		var e Entry
		var encrypted int
		if err := rows.Scan(&e.Key, &e.Value, &encrypted, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("settings: list scan: %w", err)
		}
		e.Encrypted = encrypted != 0
		result[e.Key] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list rows: %w", err)
	}
	return result, nil
}
