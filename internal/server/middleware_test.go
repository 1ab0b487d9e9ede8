package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/playback/internal/config"
	apperrors "github.com/zsiec/playback/internal/errors"
	"github.com/zsiec/playback/internal/logger"
)

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := do(t, s, "GET", "/api/v1/player/status", "")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/api/v1/player/status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))
}

func TestRequestLoggerInContext(t *testing.T) {
	s, _ := newTestServer(t, nil)
	var got string
	s.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/ctx", func(w http.ResponseWriter, r *http.Request) {
			got = logger.GetRequestID(r.Context())
		}).Methods("GET")
	})

	req := httptest.NewRequest("GET", "/ctx", nil)
	req.Header.Set("X-Request-ID", "abc")
	s.Router().ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc", got)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := do(t, s, "GET", "/api/v1/player/status", "")
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Server"), "playback/")

	rr = do(t, s, "OPTIONS", "/api/v1/player/seek", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestRecovery(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("render exploded")
		}).Methods("GET")
	})

	rr := do(t, s, "GET", "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, apperrors.ErrorTypeInternal, errorType(t, rr))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, "GET", "/api/v1/player/params/audio_volume", "")

	rr := do(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "playback_http_requests_total")
	assert.Contains(t, body, `route="/api/v1/player/params/{name}"`)
}

func TestMetricsPathOption(t *testing.T) {
	cfg := &config.ServerConfig{HTTPPort: 8080}
	s := New(cfg, logger.NewNullLogger(), newFakeSession(), WithMetricsPath("/prom"))
	rr := do(t, s, "GET", "/prom", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, s, "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := newStatusRecorder(rr)
	assert.Equal(t, http.StatusOK, rec.status)

	rec.WriteHeader(http.StatusTeapot)
	n, err := rec.Write([]byte("short and stout"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rec.status)
	assert.Equal(t, 15, n)
	assert.Equal(t, 15, rec.bytes)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
