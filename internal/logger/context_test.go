package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	assert.IsType(t, &NullLogger{}, FromContext(context.Background()))

	var buf bytes.Buffer
	l := FromLogrus(newBufferLogger(&buf))
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestContextRequestID(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	ctx := WithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", GetRequestID(ctx))
}

func TestRequestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	l := FromLogrus(newBufferLogger(&buf))

	var seenID string
	var seenLogger Logger
	h := RequestLoggerMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		seenLogger = FromContext(r.Context())
	}))

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/player/play", nil))
		require.NotEmpty(t, seenID)
		assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))
		assert.IsType(t, &LogrusAdapter{}, seenLogger)
		assert.Contains(t, buf.String(), "/api/v1/player/play")
	})

	t.Run("keeps caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/player/status", nil)
		req.Header.Set("X-Request-ID", "given")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "given", seenID)
	})
}

func TestGetRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", getRemoteIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getRemoteIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3")
	assert.Equal(t, "10.0.0.3", getRemoteIP(req))
}

func TestGetRemoteIPForwardedChain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1, 10.0.0.2")
	assert.Equal(t, "203.0.113.7", getRemoteIP(req))
}

func TestRequestLoggerMiddlewareNilLogger(t *testing.T) {
	h := RequestLoggerMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.IsType(t, &NullLogger{}, FromContext(r.Context()))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
