// Package middleware holds the HTTP middleware shared by the content and
// client-sync RPC surfaces: request-ID propagation and structured access
// logging. Request metrics are served directly by pkg/metrics.HTTPMetrics.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	// RequestIDContextKey is the context key for the request ID.
	RequestIDContextKey contextKey = "request_id"

	// RequestIDHeader is the header name carrying the request ID both ways.
	RequestIDHeader = "X-Request-ID"
)

// RequestID extracts the request ID from an incoming header, or generates
// one, and makes it available both in the request context and on the
// response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		r = r.WithContext(ctx)

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r)
	})
}

// GetRequestID extracts the request ID from ctx, or "" if none is set.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}
