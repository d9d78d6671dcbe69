package middleware

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
)

type ctxKey string

// RequestIDKey is the context key under which the request ID is stored.
const RequestIDKey ctxKey = "request_id"

const requestIDHeader = "X-Request-ID"

// RequestID ensures every request carries an X-Request-ID, either the one
// the client sent or a freshly generated UUID v4. The ID is mirrored on the
// response header and placed in the request context so handlers, error
// bodies, and log lines can correlate a batch across systems.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = newRequestID()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)

		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stored in ctx, or "" when absent.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// newRequestID produces a random UUID v4 string.
func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
