package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateServerSecret inserts a placeholder ServerSecret. Per §4.7 the
// management surface only ever creates placeholders (EncryptedValue is nil
// until the sandbox operator sets it out of band); UpdateServerSecretValue
// is the only path that writes a value.
func (s *Store) CreateServerSecret(ctx context.Context, secret *ServerSecret) (*ServerSecret, error) {
	now := time.Now().UTC()
	secret.ID = uuid.NewString()
	secret.CreatedAt = now
	secret.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_secrets (id, server_id, key_name, encrypted_value, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, secret.ID, secret.ServerID, secret.KeyName, secret.EncryptedValue, secret.Description, secret.CreatedAt, secret.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create server secret: %w", err)
	}
	return secret, nil
}

func scanServerSecret(row interface{ Scan(dest ...any) error }) (*ServerSecret, error) {
	var sec ServerSecret
	var encValue sql.NullString
	err := row.Scan(&sec.ID, &sec.ServerID, &sec.KeyName, &encValue, &sec.Description, &sec.CreatedAt, &sec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan server secret: %w", err)
	}
	if encValue.Valid {
		v := encValue.String
		sec.EncryptedValue = &v
	}
	return &sec, nil
}

// GetServerSecret fetches a ServerSecret by ID.
func (s *Store) GetServerSecret(ctx context.Context, id string) (*ServerSecret, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, server_id, key_name, encrypted_value, description, created_at, updated_at
		FROM server_secrets WHERE id = ?
	`, id)
	return scanServerSecret(row)
}

// GetServerSecretByKey fetches a ServerSecret by (server_id, key_name).
func (s *Store) GetServerSecretByKey(ctx context.Context, serverID, keyName string) (*ServerSecret, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, server_id, key_name, encrypted_value, description, created_at, updated_at
		FROM server_secrets WHERE server_id = ? AND key_name = ?
	`, serverID, keyName)
	return scanServerSecret(row)
}

// ListServerSecrets returns all secrets (placeholder metadata only — callers
// must never surface EncryptedValue to the LLM-facing management layer).
func (s *Store) ListServerSecrets(ctx context.Context, serverID string) ([]*ServerSecret, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_id, key_name, encrypted_value, description, created_at, updated_at
		FROM server_secrets WHERE server_id = ? ORDER BY key_name
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list server secrets: %w", err)
	}
	defer rows.Close()
	var out []*ServerSecret
	for rows.Next() {
		sec, err := scanServerSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// UpdateServerSecretValue overwrites the encrypted value and description of a
// secret. This is the only mutation path that touches EncryptedValue.
func (s *Store) UpdateServerSecretValue(ctx context.Context, id string, encryptedValue *string, description string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE server_secrets SET encrypted_value = ?, description = ?, updated_at = ?
		WHERE id = ?
	`, encryptedValue, description, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update server secret: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteServerSecret removes a ServerSecret.
func (s *Store) DeleteServerSecret(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM server_secrets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete server secret: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
