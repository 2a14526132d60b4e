package authpolicy_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JGtHb/MCPbox-sub000/common/crypto"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/authpolicy"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
	appstore "github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

func newTestSettings(t *testing.T) settings.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mcpbox-authpolicy-test-*.db")
	if err != nil {
		t.Fatalf("create temp db file: %v", err)
	}
	f.Close()

	s, err := appstore.New(f.Name())
	if err != nil {
		t.Fatalf("appstore.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return settings.New(s)
}

func testKey() []byte {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestServiceTokenCache_NoRowMeansLocalMode(t *testing.T) {
	store := newTestSettings(t)
	cache := authpolicy.NewServiceTokenCache(store, testKey())

	if cache.AuthEnabled(context.Background()) {
		t.Fatal("expected auth disabled (local mode) with no token row configured")
	}
}

func TestServiceTokenCache_ConfiguredTokenEnablesAuth(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	encoded, err := crypto.EncryptString(testKey(), "super-secret-token", crypto.AADServiceToken)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if err := store.SetEncrypted(ctx, authpolicy.ServiceTokenSettingKey, encoded); err != nil {
		t.Fatalf("SetEncrypted: %v", err)
	}

	cache := authpolicy.NewServiceTokenCache(store, testKey())
	if !cache.AuthEnabled(ctx) {
		t.Fatal("expected auth enabled once a token is configured")
	}
	if !cache.Check(ctx, "super-secret-token") {
		t.Error("expected matching token to pass Check")
	}
	if cache.Check(ctx, "wrong-token") {
		t.Error("expected mismatched token to fail Check")
	}
	if cache.Check(ctx, "") {
		t.Error("expected empty presented token to fail Check")
	}
}

func TestServiceTokenCache_DecryptFailureFailsClosed(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	// Encrypt under a different key than the cache will use to decrypt.
	wrongKey := make([]byte, crypto.KeySize)
	for i := range wrongKey {
		wrongKey[i] = byte(255 - i)
	}
	encoded, err := crypto.EncryptString(wrongKey, "token", crypto.AADServiceToken)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if err := store.SetEncrypted(ctx, authpolicy.ServiceTokenSettingKey, encoded); err != nil {
		t.Fatalf("SetEncrypted: %v", err)
	}

	cache := authpolicy.NewServiceTokenCache(store, testKey())
	if !cache.AuthEnabled(ctx) {
		t.Fatal("expected auth enabled (fail-closed) when decryption fails")
	}
	if cache.Check(ctx, "token") {
		t.Error("expected Check to fail when the cached token could not be decrypted")
	}
}

func TestServiceTokenCache_Invalidate(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	encoded, err := crypto.EncryptString(testKey(), "tok-1", crypto.AADServiceToken)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if err := store.SetEncrypted(ctx, authpolicy.ServiceTokenSettingKey, encoded); err != nil {
		t.Fatalf("SetEncrypted: %v", err)
	}

	cache := authpolicy.NewServiceTokenCache(store, testKey())
	if !cache.Check(ctx, "tok-1") {
		t.Fatal("expected initial token to match")
	}

	if err := store.Delete(ctx, authpolicy.ServiceTokenSettingKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	cache.Invalidate()

	if cache.AuthEnabled(ctx) {
		t.Error("expected auth disabled after invalidate + row deletion reloads local mode")
	}
}

func TestServiceTokenCache_TTLSuppressesReloadUntilElapsed(t *testing.T) {
	store := newTestSettings(t)
	ctx := context.Background()

	cache := authpolicy.NewServiceTokenCacheWithTTL(store, testKey(), 20*time.Millisecond)
	if cache.AuthEnabled(ctx) {
		t.Fatal("expected local mode initially")
	}

	encoded, err := crypto.EncryptString(testKey(), "tok", crypto.AADServiceToken)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if err := store.SetEncrypted(ctx, authpolicy.ServiceTokenSettingKey, encoded); err != nil {
		t.Fatalf("SetEncrypted: %v", err)
	}

	// Within the TTL window the cache should still report the stale value.
	if cache.AuthEnabled(ctx) {
		t.Error("expected stale cached value (local mode) to persist within the TTL window")
	}

	time.Sleep(30 * time.Millisecond)
	if !cache.AuthEnabled(ctx) {
		t.Error("expected the configured token to surface once the TTL elapsed")
	}
}
