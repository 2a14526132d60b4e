package oauthsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// fakeStore is an in-memory stand-in for oauthsource.Store.
type fakeStore struct {
	sources map[string]*store.ExternalMCPSource
}

func newFakeStore(src *store.ExternalMCPSource) *fakeStore {
	return &fakeStore{sources: map[string]*store.ExternalMCPSource{src.ID: src}}
}

func (f *fakeStore) GetExternalMCPSource(ctx context.Context, id string) (*store.ExternalMCPSource, error) {
	src, ok := f.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %q not found", id)
	}
	cp := *src
	return &cp, nil
}

func (f *fakeStore) UpdateExternalMCPSource(ctx context.Context, src *store.ExternalMCPSource) error {
	f.sources[src.ID] = src
	return nil
}

func makeKey() []byte {
	return make([]byte, 32)
}

// newMockAuthServer wires up a source HTTP server (401 + WWW-Authenticate),
// a protected resource metadata endpoint, an authorization server metadata
// endpoint, and a token endpoint, mimicking the §4.9 discovery chain.
func newMockAuthServer(t *testing.T) (sourceURL string, tokenHits *int) {
	t.Helper()
	mux := http.NewServeMux()
	hits := 0
	tokenHits = &hits

	var baseURL string

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+baseURL+`/.well-known/oauth-protected-resource"`)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"resource":              baseURL + "/mcp",
			"authorization_servers": []string{baseURL},
		})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 baseURL,
			"authorization_endpoint": baseURL + "/authorize",
			"token_endpoint":         baseURL + "/token",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		*tokenHits++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-token-value",
			"refresh_token": "refresh-token-value",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	baseURL = srv.URL
	return srv.URL + "/mcp", tokenHits
}

func TestBeginAuthorize_BuildsAuthCodeURL(t *testing.T) {
	sourceURL, _ := newMockAuthServer(t)
	src := &store.ExternalMCPSource{ID: "src-1", Name: "weather-upstream", URL: sourceURL, OAuthClientID: "preconfigured-client"}
	svc := New(newFakeStore(src), makeKey(), "https://mcpbox.example.com")

	authURL, err := svc.BeginAuthorize(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("BeginAuthorize: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse returned url: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "preconfigured-client" {
		t.Errorf("expected client_id to be preconfigured, got %q", q.Get("client_id"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Error("expected a PKCE S256 code_challenge to be present")
	}
	if q.Get("resource") == "" {
		t.Error("expected a resource parameter per RFC 8707")
	}
	if q.Get("state") == "" {
		t.Error("expected a state parameter")
	}
}

func TestBeginAuthorize_NoClientIDAndNoRegistrationEndpointFails(t *testing.T) {
	sourceURL, _ := newMockAuthServer(t)
	src := &store.ExternalMCPSource{ID: "src-1", Name: "weather-upstream", URL: sourceURL}
	svc := New(newFakeStore(src), makeKey(), "https://mcpbox.example.com")

	if _, err := svc.BeginAuthorize(context.Background(), src.ID); err == nil {
		t.Fatal("expected an error when no client_id is configured and dynamic registration is unavailable")
	}
}

func TestHandleCallback_ExchangesCodeAndPersistsTokens(t *testing.T) {
	sourceURL, tokenHits := newMockAuthServer(t)
	src := &store.ExternalMCPSource{ID: "src-1", Name: "weather-upstream", URL: sourceURL, OAuthClientID: "preconfigured-client"}
	fs := newFakeStore(src)
	svc := New(fs, makeKey(), "https://mcpbox.example.com")

	authURL, err := svc.BeginAuthorize(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("BeginAuthorize: %v", err)
	}
	state := mustQueryParam(t, authURL, "state")

	if err := svc.HandleCallback(context.Background(), state, "auth-code-value"); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if *tokenHits != 1 {
		t.Errorf("expected exactly one token endpoint hit, got %d", *tokenHits)
	}

	updated := fs.sources[src.ID]
	if updated.OAuthTokensEncrypted == "" {
		t.Fatal("expected encrypted token bundle to be persisted")
	}
	if updated.Status != store.SourceActive {
		t.Errorf("expected source status %q after successful auth, got %q", store.SourceActive, updated.Status)
	}
}

func TestHandleCallback_UnknownStateFails(t *testing.T) {
	sourceURL, _ := newMockAuthServer(t)
	src := &store.ExternalMCPSource{ID: "src-1", Name: "weather-upstream", URL: sourceURL, OAuthClientID: "c"}
	svc := New(newFakeStore(src), makeKey(), "https://mcpbox.example.com")

	if err := svc.HandleCallback(context.Background(), "never-issued-state", "code"); err == nil {
		t.Fatal("expected an error for an unknown/expired state")
	}
}

func TestEnsureFreshToken_ReturnsCachedTokenWhenFarFromExpiry(t *testing.T) {
	sourceURL, tokenHits := newMockAuthServer(t)
	src := &store.ExternalMCPSource{ID: "src-1", Name: "weather-upstream", URL: sourceURL, OAuthClientID: "c"}
	fs := newFakeStore(src)
	svc := New(fs, makeKey(), "https://mcpbox.example.com")

	authURL, err := svc.BeginAuthorize(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("BeginAuthorize: %v", err)
	}
	state := mustQueryParam(t, authURL, "state")
	if err := svc.HandleCallback(context.Background(), state, "auth-code-value"); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	hitsAfterExchange := *tokenHits
	token, err := svc.EnsureFreshToken(context.Background(), fs.sources[src.ID])
	if err != nil {
		t.Fatalf("EnsureFreshToken: %v", err)
	}
	if token != "access-token-value" {
		t.Errorf("expected cached access token, got %q", token)
	}
	if *tokenHits != hitsAfterExchange {
		t.Error("expected EnsureFreshToken not to hit the token endpoint when the token is fresh")
	}
}

func mustQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	v := parsed.Query().Get(key)
	if v == "" {
		t.Fatalf("expected query parameter %q in %q", key, rawURL)
	}
	return v
}
