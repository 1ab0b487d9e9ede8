package logger

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type (
	loggerCtxKey    struct{}
	requestIDCtxKey struct{}
)

// WithLogger returns a copy of ctx carrying l.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, l)
}

// FromContext returns the logger stored in ctx, or a NullLogger.
func FromContext(ctx context.Context) Logger {
	l, _ := ctx.Value(loggerCtxKey{}).(Logger)
	return OrNull(l)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, requestID)
}

// GetRequestID returns the id set by RequestLoggerMiddleware, if any.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

// WithRequest scopes l to a single control request.
func WithRequest(l Logger, r *http.Request, requestID string) Logger {
	return l.WithFields(Fields{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote_ip":  getRemoteIP(r),
	})
}

// RequestLoggerMiddleware assigns every request an id (keeping one the
// caller sent) and stores a request-scoped logger in its context.
func RequestLoggerMiddleware(l Logger) func(http.Handler) http.Handler {
	l = OrNull(l)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(RequestIDHeader, id)
			}
			w.Header().Set(RequestIDHeader, id)

			reqLog := WithRequest(l, r, id)
			reqLog.Debug("Request started")

			ctx := WithRequestID(WithLogger(r.Context(), reqLog), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getRemoteIP prefers the first hop of X-Forwarded-For, then X-Real-IP.
func getRemoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
