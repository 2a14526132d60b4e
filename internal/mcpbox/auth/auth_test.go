package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/JGtHb/MCPbox-sub000/common/crypto"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/auth"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/authpolicy"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
	appstore "github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

func newTestSettings(t *testing.T) settings.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mcpbox-auth-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
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

func newRequest(remoteAddr string, token, email string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.RemoteAddr = remoteAddr
	if token != "" {
		r.Header.Set(auth.ServiceTokenHeader, token)
	}
	if email != "" {
		r.Header.Set(auth.UserEmailHeader, email)
	}
	return r
}

func TestClassify_LocalModeWhenNoTokenConfigured(t *testing.T) {
	store := newTestSettings(t)
	tokens := authpolicy.NewServiceTokenCache(store, testKey())
	emails := authpolicy.NewEmailPolicyCache(store)
	p := auth.New(tokens, emails, auth.Config{})

	req, decision := p.Classify(context.Background(), newRequest("1.2.3.4:5555", "", ""))
	if !decision.Allowed {
		t.Fatalf("expected local mode to always be allowed, got %+v", decision)
	}
	if req.Source != auth.SourceLocal {
		t.Errorf("expected SourceLocal, got %q", req.Source)
	}
}

func setupRemote(t *testing.T) (settings.Store, []byte) {
	t.Helper()
	store := newTestSettings(t)
	key := testKey()
	encoded, err := crypto.EncryptString(key, "svc-token", crypto.AADServiceToken)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if err := store.SetEncrypted(context.Background(), authpolicy.ServiceTokenSettingKey, encoded); err != nil {
		t.Fatalf("SetEncrypted: %v", err)
	}
	return store, key
}

func TestClassify_MissingTokenDenied403(t *testing.T) {
	store, key := setupRemote(t)
	p := auth.New(authpolicy.NewServiceTokenCache(store, key), authpolicy.NewEmailPolicyCache(store), auth.Config{})

	_, decision := p.Classify(context.Background(), newRequest("9.9.9.9:1", "", ""))
	if decision.Allowed || decision.HTTPStatus != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", decision)
	}
}

func TestClassify_ValidTokenAnonymousRemote(t *testing.T) {
	store, key := setupRemote(t)
	p := auth.New(authpolicy.NewServiceTokenCache(store, key), authpolicy.NewEmailPolicyCache(store), auth.Config{})

	req, decision := p.Classify(context.Background(), newRequest("9.9.9.9:1", "svc-token", ""))
	if !decision.Allowed {
		t.Fatalf("expected valid token to be allowed, got %+v", decision)
	}
	if req.Source != auth.SourceWorker || req.VerifiedUser {
		t.Errorf("expected anonymous remote worker, got %+v", req)
	}
}

func TestClassify_ValidTokenVerifiedUser(t *testing.T) {
	store, key := setupRemote(t)
	ctx := context.Background()
	if err := store.Set(ctx, authpolicy.PolicyTypeKey, "emails"); err != nil {
		t.Fatalf("Set policy_type: %v", err)
	}
	if err := store.Set(ctx, authpolicy.AllowedEmailsKey, "alice@example.com"); err != nil {
		t.Fatalf("Set allowed_emails: %v", err)
	}
	p := auth.New(authpolicy.NewServiceTokenCache(store, key), authpolicy.NewEmailPolicyCache(store), auth.Config{})

	req, decision := p.Classify(ctx, newRequest("9.9.9.9:1", "svc-token", "alice@example.com"))
	if !decision.Allowed {
		t.Fatalf("expected allowed, got %+v", decision)
	}
	if !req.VerifiedUser || req.Email != "alice@example.com" {
		t.Errorf("expected verified user alice, got %+v", req)
	}
}

func TestClassify_ValidTokenUnverifiedEmailStaysAnonymous(t *testing.T) {
	store, key := setupRemote(t)
	ctx := context.Background()
	if err := store.Set(ctx, authpolicy.PolicyTypeKey, "emails"); err != nil {
		t.Fatalf("Set policy_type: %v", err)
	}
	if err := store.Set(ctx, authpolicy.AllowedEmailsKey, "alice@example.com"); err != nil {
		t.Fatalf("Set allowed_emails: %v", err)
	}
	p := auth.New(authpolicy.NewServiceTokenCache(store, key), authpolicy.NewEmailPolicyCache(store), auth.Config{})

	req, decision := p.Classify(ctx, newRequest("9.9.9.9:1", "svc-token", "mallory@example.com"))
	if !decision.Allowed {
		t.Fatalf("expected allowed (token valid), got %+v", decision)
	}
	if req.VerifiedUser {
		t.Error("expected a disallowed email to remain anonymous, not verified")
	}
}

func TestClassify_RateLimitedAfterRepeatedFailures(t *testing.T) {
	store, key := setupRemote(t)
	p := auth.New(authpolicy.NewServiceTokenCache(store, key), authpolicy.NewEmailPolicyCache(store), auth.Config{FailedAuthMax: 2, Window: 60})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, d := p.Classify(ctx, newRequest("7.7.7.7:1", "wrong", ""))
		if d.HTTPStatus != http.StatusForbidden {
			t.Fatalf("attempt %d: expected 403, got %+v", i, d)
		}
	}

	_, d := p.Classify(ctx, newRequest("7.7.7.7:1", "wrong", ""))
	if d.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding FailedAuthMax, got %+v", d)
	}
}

func TestAuthorize_AnonymousRemoteTable(t *testing.T) {
	store, key := setupRemote(t)
	p := auth.New(authpolicy.NewServiceTokenCache(store, key), authpolicy.NewEmailPolicyCache(store), auth.Config{})

	anon := auth.Request{Source: auth.SourceWorker, VerifiedUser: false}

	cases := []struct {
		method string
		allow  bool
	}{
		{"initialize", true},
		{"notifications/progress", true},
		{"tools/list", false},
		{"tools/call", false},
		{"some/other", false},
	}
	for _, tc := range cases {
		d := p.Authorize(anon, tc.method)
		if d.Allowed != tc.allow {
			t.Errorf("method %q: expected allowed=%v, got %v", tc.method, tc.allow, d.Allowed)
		}
		if !tc.allow && d.JSONRPCCode != -32600 {
			t.Errorf("method %q: expected JSON-RPC code -32600, got %d", tc.method, d.JSONRPCCode)
		}
	}
}

func TestAuthorize_VerifiedUserAndLocalAllowEverything(t *testing.T) {
	store, key := setupRemote(t)
	p := auth.New(authpolicy.NewServiceTokenCache(store, key), authpolicy.NewEmailPolicyCache(store), auth.Config{})

	verified := auth.Request{Source: auth.SourceWorker, VerifiedUser: true}
	local := auth.Request{Source: auth.SourceLocal}

	for _, method := range []string{"tools/list", "tools/call", "anything"} {
		if !p.Authorize(verified, method).Allowed {
			t.Errorf("verified user should be allowed to call %q", method)
		}
		if !p.Authorize(local, method).Allowed {
			t.Errorf("local caller should be allowed to call %q", method)
		}
	}
}
