package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/salephoto/genflow-core/internal/config"
)

const testSecret = "test-secret-key-for-hmac-signing"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		Enabled:   true,
		JWTSecret: testSecret,
		Issuer:    "genflow",
		Audience:  "genflow-api",
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"iss": "genflow",
		"aud": "genflow-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

// protectedEcho returns a handler wrapped in the auth middleware that
// records whether the inner handler ran and what claims it saw.
func protectedEcho(cfg config.AuthConfig) (http.Handler, *bool, **Claims) {
	called := false
	var seen *Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if c, ok := r.Context().Value(ClaimsKey).(*Claims); ok {
			seen = c
		}
		w.WriteHeader(http.StatusOK)
	})
	requiresAuth := func(path string) bool { return strings.HasPrefix(path, "/v1/") }
	return Middleware(cfg, requiresAuth, testLogger())(inner), &called, &seen
}

func doRequest(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ValidToken(t *testing.T) {
	h, called, seen := protectedEcho(testAuthConfig())

	rec := doRequest(h, "/v1/batches", signToken(t, testSecret, validClaims()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !*called {
		t.Fatal("inner handler was not called")
	}
	if *seen == nil || (*seen).Subject != "user-1" {
		t.Errorf("claims = %+v", *seen)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	h, called, _ := protectedEcho(testAuthConfig())

	rec := doRequest(h, "/v1/batches", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "GENFLOW_AUTH_MISSING_TOKEN") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if *called {
		t.Error("inner handler should not run without a token")
	}
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	h, _, _ := protectedEcho(testAuthConfig())

	for _, header := range []string{"Basic abc123", "Bearer", "Bearer "} {
		req := httptest.NewRequest(http.MethodPost, "/v1/batches", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	h, _, _ := protectedEcho(testAuthConfig())

	rec := doRequest(h, "/v1/batches", signToken(t, "wrong-secret", validClaims()))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "GENFLOW_AUTH_INVALID_TOKEN") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	h, _, _ := protectedEcho(testAuthConfig())

	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	rec := doRequest(h, "/v1/batches", signToken(t, testSecret, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for expired token", rec.Code)
	}
}

func TestMiddleware_WrongIssuer(t *testing.T) {
	h, _, _ := protectedEcho(testAuthConfig())

	claims := validClaims()
	claims["iss"] = "someone-else"
	rec := doRequest(h, "/v1/batches", signToken(t, testSecret, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for wrong issuer", rec.Code)
	}
}

func TestMiddleware_WrongAudience(t *testing.T) {
	h, _, _ := protectedEcho(testAuthConfig())

	claims := validClaims()
	claims["aud"] = "other-api"
	rec := doRequest(h, "/v1/batches", signToken(t, testSecret, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for wrong audience", rec.Code)
	}
}

func TestMiddleware_MissingExpiry(t *testing.T) {
	h, _, _ := protectedEcho(testAuthConfig())

	claims := validClaims()
	delete(claims, "exp")
	rec := doRequest(h, "/v1/batches", signToken(t, testSecret, claims))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for token without expiry", rec.Code)
	}
}

func TestMiddleware_UnprotectedPathPassesThrough(t *testing.T) {
	h, called, _ := protectedEcho(testAuthConfig())

	rec := doRequest(h, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for unprotected path", rec.Code)
	}
	if !*called {
		t.Error("inner handler should run for unprotected paths")
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	cfg := testAuthConfig()
	cfg.Enabled = false
	h, called, _ := protectedEcho(cfg)

	rec := doRequest(h, "/v1/batches", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rec.Code)
	}
	if !*called {
		t.Error("inner handler should run with auth disabled")
	}
}

func TestMiddleware_AudienceAsArray(t *testing.T) {
	h, _, seen := protectedEcho(testAuthConfig())

	claims := validClaims()
	claims["aud"] = []string{"genflow-api", "other"}
	rec := doRequest(h, "/v1/batches", signToken(t, testSecret, claims))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if *seen == nil || (*seen).Audience != "genflow-api" {
		t.Errorf("claims = %+v", *seen)
	}
}
