package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/playback/internal/errors"
	"github.com/zsiec/playback/internal/device"
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/player"
	"github.com/zsiec/playback/internal/render"
	"github.com/zsiec/playback/internal/source"
	"github.com/zsiec/playback/pkg/version"
)

// Session is the control surface of a playback session. *player.Player
// implements it.
type Session interface {
	Play() error
	Pause() error
	Seek(ms int64, mode player.SeekMode) error
	SetRect(kind, x, y, w, h int) error
	Snapshot(path string, w, h int, wait time.Duration) error
	SetParam(id media.Param, v any) error
	GetParam(id media.Param) (any, error)
	State() player.State
}

var errorRules = []apperrors.Rule{
	{Target: player.ErrClosed, Type: apperrors.ErrorTypeClosed, Status: http.StatusGone},
	{Target: player.ErrSeekInProgress, Type: apperrors.ErrorTypeConflict, Status: http.StatusConflict},
	{Target: player.ErrNotOpen, Type: apperrors.ErrorTypeInvalidState, Status: http.StatusConflict},
	{Target: player.ErrReadOnlyParam, Type: apperrors.ErrorTypeValidation, Status: http.StatusBadRequest},
	{Target: media.ErrInvalidValue, Type: apperrors.ErrorTypeValidation, Status: http.StatusBadRequest},
	{Target: source.ErrNotSeekable, Type: apperrors.ErrorTypeInvalidState, Status: http.StatusConflict},
	{Target: render.ErrSnapshotPending, Type: apperrors.ErrorTypeConflict, Status: http.StatusConflict},
	{Target: render.ErrSnapshotTimeout, Type: apperrors.ErrorTypeTimeout, Status: http.StatusGatewayTimeout},
	{Target: render.ErrClosed, Type: apperrors.ErrorTypeClosed, Status: http.StatusGone},
	{Target: render.ErrUnsupportedFormat, Type: apperrors.ErrorTypeDevice, Status: http.StatusUnprocessableEntity},
	{Target: device.ErrUnsupported, Type: apperrors.ErrorTypeDevice, Status: http.StatusBadRequest},
	{Target: device.ErrClosed, Type: apperrors.ErrorTypeDevice, Status: http.StatusGone},
}

var seekModes = map[string]player.SeekMode{
	"":              player.SeekAbsolute,
	"absolute":      player.SeekAbsolute,
	"step_forward":  player.SeekStepForward,
	"step_backward": player.SeekStepBackward,
}

type seekRequest struct {
	MS   int64  `json:"ms"`
	Mode string `json:"mode"`
}

type rectRequest struct {
	Kind int `json:"kind"`
	X    int `json:"x"`
	Y    int `json:"y"`
	W    int `json:"w"`
	H    int `json:"h"`
}

type snapshotRequest struct {
	Path string `json:"path"`
	W    int    `json:"w"`
	H    int    `json:"h"`
	// Wait is in milliseconds; 0 returns as soon as the request is queued.
	Wait int64 `json:"wait"`
}

type paramValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (s *Server) registerPlayerRoutes(r *mux.Router) {
	r.HandleFunc("/play", s.handlePlay).Methods("POST")
	r.HandleFunc("/pause", s.handlePause).Methods("POST")
	r.HandleFunc("/seek", s.handleSeek).Methods("POST")
	r.HandleFunc("/rect", s.handleRect).Methods("POST")
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods("POST")
	r.HandleFunc("/params/{name}", s.handleGetParam).Methods("GET")
	r.HandleFunc("/params/{name}", s.handleSetParam).Methods("PUT")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Play(); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Pause(); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode, ok := seekModes[strings.ToLower(req.Mode)]
	if !ok {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError(fmt.Sprintf("unknown seek mode %q", req.Mode)))
		return
	}
	if mode == player.SeekAbsolute && req.MS < 0 {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("seek target must not be negative"))
		return
	}
	if err := s.session.Seek(req.MS, mode); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	// the seek is carried out asynchronously
	s.writeJSON(w, http.StatusAccepted, s.session.State())
}

func (s *Server) handleRect(w http.ResponseWriter, r *http.Request) {
	var req rectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Kind != 0 && req.Kind != 1 {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("rect kind must be 0 (video) or 1 (visual effect)"))
		return
	}
	if req.W < 0 || req.H < 0 {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("rect size must not be negative"))
		return
	}
	if err := s.session.SetRect(req.Kind, req.X, req.Y, req.W, req.H); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("snapshot path is required"))
		return
	}
	if req.W < 0 || req.H < 0 || req.Wait < 0 {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("snapshot size and wait must not be negative"))
		return
	}
	wait := time.Duration(req.Wait) * time.Millisecond
	if err := s.session.Snapshot(req.Path, req.W, req.H, wait); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if wait > 0 {
		status = http.StatusOK
	}
	s.writeJSON(w, status, map[string]string{"path": req.Path})
}

func (s *Server) handleGetParam(w http.ResponseWriter, r *http.Request) {
	id, ok := s.param(w, r)
	if !ok {
		return
	}
	v, err := s.session.GetParam(id)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, paramValue{Name: id.String(), Value: v})
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	id, ok := s.param(w, r)
	if !ok {
		return
	}
	var req paramValue
	if !s.decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("value is required"))
		return
	}
	if err := s.session.SetParam(id, req.Value); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) param(w http.ResponseWriter, r *http.Request) (media.Param, bool) {
	name := mux.Vars(r)["name"]
	id, ok := media.ParseParam(name)
	if !ok {
		s.errorHandler.HandleError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("parameter %q", name)))
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into v. It writes the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return false
	}
	return true
}
