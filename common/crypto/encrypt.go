// Package crypto provides AES-GCM encryption helpers for secrets at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the GCM standard nonce size (12 bytes).
	NonceSize = 12
	// KeySize is the required key length for AES-256-GCM (32 bytes).
	KeySize = 32
)

var (
	ErrInvalidKeySize     = fmt.Errorf("key must be exactly %d bytes", KeySize)
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	// ErrDecryptFailed is returned when GCM authentication fails — either the
	// ciphertext was tampered with, the wrong key was used, or the associated
	// data does not match the domain the ciphertext was sealed under. Callers
	// must treat this differently from "no value present": a policy cache
	// that sees ErrDecryptFailed enters fail-closed mode, while an absent
	// value is simply "nothing to decrypt".
	ErrDecryptFailed = errors.New("decrypt: authentication failed")
)

// Encrypt encrypts plaintext with AES-256-GCM using the given 32-byte key.
// aad (associated data) binds the ciphertext to a domain — e.g. "oauth_tokens"
// or "server_secret" — so a blob produced for one domain cannot be replayed
// as valid ciphertext in another; pass nil for no domain separation.
// The returned ciphertext has the nonce prepended: [nonce(12)] + [ciphertext].
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, aad)
	return ciphertext, nil
}

// Decrypt decrypts a ciphertext produced by Encrypt using the same key and aad.
// Using a different aad than the one passed to Encrypt returns ErrDecryptFailed,
// same as a tampered ciphertext or wrong key.
func Decrypt(key, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	if len(ciphertext) < NonceSize {
		return nil, ErrCiphertextTooShort
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce, data := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}

// EncryptString encrypts plaintext and returns the ciphertext base64-encoded,
// suitable for storing in a text column.
func EncryptString(key []byte, plaintext string, aad []byte) (string, error) {
	ct, err := Encrypt(key, []byte(plaintext), aad)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString decodes a base64 ciphertext produced by EncryptString and
// decrypts it.
func DecryptString(key []byte, encoded string, aad []byte) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	pt, err := Decrypt(key, ct, aad)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Domain-separating AAD values used across MCPbox. Binding a ciphertext to
// one of these prevents a blob encrypted for one purpose (e.g. an OAuth
// token bundle) from being substituted where a different kind of secret
// (e.g. a server secret value) is expected.
var (
	AADServerSecret  = []byte("server_secret")
	AADOAuthTokens   = []byte("oauth_tokens")
	AADServiceToken  = []byte("service_token")
	AADTunnelToken   = []byte("tunnel_token")
)
