package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/playback/internal/config"
	apperrors "github.com/zsiec/playback/internal/errors"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/player"
	"github.com/zsiec/playback/internal/render"
	"github.com/zsiec/playback/internal/source"
	"github.com/zsiec/playback/pkg/version"
)

type seekCall struct {
	ms   int64
	mode player.SeekMode
}

type snapshotCall struct {
	path string
	w, h int
	wait time.Duration
}

type fakeSession struct {
	mu        sync.Mutex
	err       error
	state     player.State
	seeks     []seekCall
	rects     [][5]int
	snapshots []snapshotCall
	params    map[media.Param]any
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state:  player.State{SessionID: "s1", URL: "file:///a.ts", Opened: true, Playing: true, Duration: 60000},
		params: map[media.Param]any{media.ParamAudioVolume: 255},
	}
}

func (f *fakeSession) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.state.Paused, f.state.Playing = false, true
	return nil
}

func (f *fakeSession) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.state.Paused, f.state.Playing = true, false
	return nil
}

func (f *fakeSession) Seek(ms int64, mode player.SeekMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.seeks = append(f.seeks, seekCall{ms, mode})
	return nil
}

func (f *fakeSession) SetRect(kind, x, y, w, h int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rects = append(f.rects, [5]int{kind, x, y, w, h})
	return nil
}

func (f *fakeSession) Snapshot(path string, w, h int, wait time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.snapshots = append(f.snapshots, snapshotCall{path, w, h, wait})
	return nil
}

func (f *fakeSession) SetParam(id media.Param, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.params[id] = v
	return nil
}

func (f *fakeSession) GetParam(id media.Param) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.params[id], nil
}

func (f *fakeSession) State() player.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestServer(t *testing.T, cfg *config.ServerConfig) (*Server, *fakeSession) {
	t.Helper()
	if cfg == nil {
		cfg = &config.ServerConfig{HTTPPort: 8080}
	}
	sess := newFakeSession()
	return New(cfg, logger.NewNullLogger(), sess), sess
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, r)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) apperrors.ErrorType {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp.Error.Type
}

func TestPlayPause(t *testing.T) {
	s, sess := newTestServer(t, nil)

	rr := do(t, s, "POST", "/api/v1/player/pause", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st player.State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.True(t, st.Paused)
	assert.False(t, st.Playing)

	rr = do(t, s, "POST", "/api/v1/player/play", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, sess.State().Playing)
}

func TestSeek(t *testing.T) {
	s, sess := newTestServer(t, nil)

	rr := do(t, s, "POST", "/api/v1/player/seek", `{"ms": 30000}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(t, s, "POST", "/api/v1/player/seek", `{"mode": "step_backward"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(t, s, "POST", "/api/v1/player/seek", `{"mode": "STEP_FORWARD"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	assert.Equal(t, []seekCall{
		{30000, player.SeekAbsolute},
		{0, player.SeekStepBackward},
		{0, player.SeekStepForward},
	}, sess.seeks)
}

func TestSeekValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"ms": 1, "mode": "rewind"}`},
		{"negative target", `{"ms": -5}`},
		{"unknown field", `{"ms": 1, "speed": 2}`},
		{"malformed", `{"ms":`},
	}

	s, sess := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, "POST", "/api/v1/player/seek", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, apperrors.ErrorTypeValidation, errorType(t, rr))
		})
	}
	assert.Empty(t, sess.seeks)
}

func TestSessionErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{"closed", player.ErrClosed, http.StatusGone, apperrors.ErrorTypeClosed},
		{"pending seek", player.ErrSeekInProgress, http.StatusConflict, apperrors.ErrorTypeConflict},
		{"not open", player.ErrNotOpen, http.StatusConflict, apperrors.ErrorTypeInvalidState},
		{"live source", source.ErrNotSeekable, http.StatusConflict, apperrors.ErrorTypeInvalidState},
		{"wrapped", errors.Join(errors.New("step backward"), player.ErrNotOpen), http.StatusConflict, apperrors.ErrorTypeInvalidState},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sess := newTestServer(t, nil)
			sess.fail(tt.err)

			rr := do(t, s, "POST", "/api/v1/player/seek", `{"ms": 1000}`)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantType, errorType(t, rr))
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestParams(t *testing.T) {
	s, sess := newTestServer(t, nil)

	rr := do(t, s, "GET", "/api/v1/player/params/audio_volume", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got paramValue
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "audio_volume", got.Name)
	assert.EqualValues(t, 255, got.Value)

	rr = do(t, s, "PUT", "/api/v1/player/params/audio_volume", `{"value": 200}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.EqualValues(t, 200, sess.params[media.ParamAudioVolume])

	rr = do(t, s, "PUT", "/api/v1/player/params/play_speed_value", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, "GET", "/api/v1/player/params/no_such_param", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apperrors.ErrorTypeNotFound, errorType(t, rr))

	sess.fail(player.ErrReadOnlyParam)
	rr = do(t, s, "PUT", "/api/v1/player/params/media_duration", `{"value": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperrors.ErrorTypeValidation, errorType(t, rr))
}

func TestRect(t *testing.T) {
	s, sess := newTestServer(t, nil)

	rr := do(t, s, "POST", "/api/v1/player/rect", `{"kind": 0, "x": 10, "y": 20, "w": 640, "h": 360}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, [][5]int{{0, 10, 20, 640, 360}}, sess.rects)

	rr = do(t, s, "POST", "/api/v1/player/rect", `{"kind": 2, "w": 1, "h": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, "POST", "/api/v1/player/rect", `{"kind": 1, "w": -1, "h": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, sess.rects, 1)
}

func TestSnapshot(t *testing.T) {
	s, sess := newTestServer(t, nil)

	rr := do(t, s, "POST", "/api/v1/player/snapshot", `{"path": "/tmp/a.png"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(t, s, "POST", "/api/v1/player/snapshot", `{"path": "/tmp/b.jpg", "w": 320, "h": 180, "wait": 500}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []snapshotCall{
		{"/tmp/a.png", 0, 0, 0},
		{"/tmp/b.jpg", 320, 180, 500 * time.Millisecond},
	}, sess.snapshots)

	rr = do(t, s, "POST", "/api/v1/player/snapshot", `{"w": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	sess.fail(render.ErrSnapshotPending)
	rr = do(t, s, "POST", "/api/v1/player/snapshot", `{"path": "/tmp/c.png"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apperrors.ErrorTypeConflict, errorType(t, rr))

	sess.fail(render.ErrSnapshotTimeout)
	rr = do(t, s, "POST", "/api/v1/player/snapshot", `{"path": "/tmp/d.png", "wait": 10}`)
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	assert.Equal(t, apperrors.ErrorTypeTimeout, errorType(t, rr))

	sess.fail(fmt.Errorf("convert: %w", render.ErrUnsupportedFormat))
	rr = do(t, s, "POST", "/api/v1/player/snapshot", `{"path": "/tmp/e.png", "wait": 10}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, apperrors.ErrorTypeDevice, errorType(t, rr))
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := do(t, s, "GET", "/api/v1/player/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st player.State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, int64(60000), st.Duration)
}

func TestHealthReflectsSession(t *testing.T) {
	s, sess := newTestServer(t, nil)

	rr := do(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	sess.mu.Lock()
	sess.state.Closed = true
	sess.mu.Unlock()

	rr = do(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "session closed")

	rr = do(t, s, "GET", "/live", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVersion(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := do(t, s, "GET", "/version", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var info version.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := do(t, s, "GET", "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apperrors.ErrorTypeNotFound, errorType(t, rr))

	rr = do(t, s, "GET", "/api/v1/player/play", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestDebugEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s, "GET", "/debug/info", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	s, _ = newTestServer(t, &config.ServerConfig{HTTPPort: 8080, DebugEndpoints: true})
	rr = do(t, s, "GET", "/debug/info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"session_id":"s1"`)
}

func TestRegisterRoutes(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/custom", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}).Methods("GET")
	})

	rr := do(t, s, "GET", "/custom", "")
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, nil)
	big := `{"path": "` + string(bytes.Repeat([]byte("a"), 1<<17)) + `"}`

	rr := do(t, s, "POST", "/api/v1/player/snapshot", big)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
