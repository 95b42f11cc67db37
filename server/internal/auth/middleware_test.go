package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// okHandler answers 200 "ok".
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func call(t *testing.T, h http.Handler, path, header, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyMiddleware_ModeNone_PassesThrough(t *testing.T) {
	h := APIKeyMiddleware("none", "X-API-Key", "secret")(okHandler)
	// No key on the request; should still pass because mode != "apikey".
	rec := call(t, h, "/api/v1/rules", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKeyMiddleware_EmptyKey_PassesThrough(t *testing.T) {
	// key="" means auth is not configured: allow all.
	h := APIKeyMiddleware("apikey", "X-API-Key", "")(okHandler)
	if rec := call(t, h, "/api/v1/rules", "", ""); rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKeyMiddleware_ValidKey(t *testing.T) {
	h := APIKeyMiddleware("apikey", "X-API-Key", "secret")(okHandler)
	rec := call(t, h, "/api/v1/rules", "X-API-Key", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body: got %q, want ok", rec.Body.String())
	}
}

func TestAPIKeyMiddleware_HeaderCaseInsensitive(t *testing.T) {
	h := APIKeyMiddleware("apikey", "x-api-key", "secret")(okHandler)
	if rec := call(t, h, "/api/v1/rules", "X-Api-Key", "secret"); rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKeyMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"missing key", ""},
		{"wrong key", "wrong"},
		{"prefix of key", "secre"},
	}
	h := APIKeyMiddleware("apikey", "X-API-Key", "secret")(okHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h, "/api/v1/rules", "X-API-Key", tt.key)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status: got %d, want 401", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: got %q", ct)
			}
		})
	}
}

func TestAPIKeyMiddleware_OpenPaths(t *testing.T) {
	h := APIKeyMiddleware("apikey", "X-API-Key", "secret", "/api/v1/health")(okHandler)
	if rec := call(t, h, "/api/v1/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health: got %d, want 200", rec.Code)
	}
	if rec := call(t, h, "/api/v1/rules", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("rules: got %d, want 401", rec.Code)
	}
}
