package internalapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/internalapi"
)

type fakeTokenSource struct {
	token string
	ok    bool
}

func (f fakeTokenSource) Current(ctx context.Context) (string, bool) { return f.token, f.ok }

func newHandler(t *testing.T, src internalapi.ServiceTokenSource, bearer string) http.Handler {
	t.Helper()
	h := internalapi.NewHandler(src, bearer)
	mux := http.NewServeMux()
	h.Mount(mux)
	return mux
}

func TestActiveServiceToken_MissingAuthReturns403(t *testing.T) {
	mux := newHandler(t, fakeTokenSource{}, "internal-secret")
	req := httptest.NewRequest(http.MethodGet, "/internal/active-service-token", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestActiveServiceToken_WrongTokenReturns403(t *testing.T) {
	mux := newHandler(t, fakeTokenSource{}, "internal-secret")
	req := httptest.NewRequest(http.MethodGet, "/internal/active-service-token", nil)
	req.Header.Set("Authorization", "Bearer wrong-value")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestActiveServiceToken_NonBearerSchemeReturns403(t *testing.T) {
	mux := newHandler(t, fakeTokenSource{token: "svc-tok", ok: true}, "internal-secret")
	req := httptest.NewRequest(http.MethodGet, "/internal/active-service-token", nil)
	req.Header.Set("Authorization", "Basic internal-secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestActiveServiceToken_NoConfiguredBearerFailsClosed(t *testing.T) {
	mux := newHandler(t, fakeTokenSource{token: "svc-tok", ok: true}, "")
	req := httptest.NewRequest(http.MethodGet, "/internal/active-service-token", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 when no internal bearer secret is configured", w.Code)
	}
}

func TestActiveServiceToken_ReturnsTokenWhenConfigured(t *testing.T) {
	mux := newHandler(t, fakeTokenSource{token: "svc-tok", ok: true}, "internal-secret")
	req := httptest.NewRequest(http.MethodGet, "/internal/active-service-token", nil)
	req.Header.Set("Authorization", "Bearer internal-secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["token"] != "svc-tok" {
		t.Fatalf("token = %v, want svc-tok", body["token"])
	}
}

func TestActiveServiceToken_ReturnsNullWhenNoneConfigured(t *testing.T) {
	mux := newHandler(t, fakeTokenSource{}, "internal-secret")
	req := httptest.NewRequest(http.MethodGet, "/internal/active-service-token", nil)
	req.Header.Set("Authorization", "Bearer internal-secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["token"] != nil {
		t.Fatalf("token = %v, want nil", body["token"])
	}
	if _, hasErr := body["error"]; !hasErr {
		t.Fatal("expected an error field when no service token is configured")
	}
}

func TestActiveServiceToken_RejectsNonGET(t *testing.T) {
	mux := newHandler(t, fakeTokenSource{token: "svc-tok", ok: true}, "internal-secret")
	req := httptest.NewRequest(http.MethodPost, "/internal/active-service-token", nil)
	req.Header.Set("Authorization", "Bearer internal-secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}
