// Package auth provides JWT Bearer token validation middleware for the
// generation API.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/salephoto/genflow-core/internal/apierror"
	"github.com/salephoto/genflow-core/internal/config"
	"github.com/salephoto/genflow-core/internal/metrics"
)

type contextKey string

// ClaimsKey is the context key used to store validated JWT claims.
const ClaimsKey contextKey = "jwt_claims"

// Claims represents the validated JWT claims injected into the request context.
type Claims struct {
	Subject  string `json:"sub"`
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
}

// Middleware validates JWT Bearer tokens on paths for which requiresAuth
// reports true; everything else passes through. Tokens must be HS256-signed
// with the configured secret, carry the configured issuer and audience, and
// have an expiry.
func Middleware(cfg config.AuthConfig, requiresAuth func(path string) bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || !requiresAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				metrics.AuthFailures.WithLabelValues("missing_token").Inc()
				apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthMissingToken, "missing or malformed Authorization header")
				return
			}

			claims, err := validateToken(raw, cfg)
			if err != nil {
				logger.Warn("auth failure", "error", err, "path", r.URL.Path)
				metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
				apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidToken, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme comparison is case-insensitive per RFC 7235.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func validateToken(raw string, cfg config.AuthConfig) (*Claims, error) {
	keyFn := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}

	token, err := jwt.Parse(raw, keyFn,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, _ := mc["sub"].(string)
	iss, _ := mc["iss"].(string)

	// "aud" may be a bare string or an array, issuer-dependent.
	var aud string
	switch v := mc["aud"].(type) {
	case string:
		aud = v
	case []interface{}:
		if len(v) > 0 {
			aud, _ = v[0].(string)
		}
	}

	return &Claims{Subject: sub, Issuer: iss, Audience: aud}, nil
}
