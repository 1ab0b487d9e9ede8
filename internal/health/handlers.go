package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zsiec/playback/pkg/version"
)

// Response is the /health body.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Commit    string            `json:"commit,omitempty"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

type probe struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves the health, readiness and liveness probes of the
// control server.
type Handler struct {
	manager *Manager
	started time.Time
	timeout time.Duration
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager: manager,
		started: time.Now(),
		timeout: 2 * checkTimeout,
	}
}

// HandleHealth runs every check. A degraded session still answers 200 so
// orchestrators do not restart a player that is reconnecting.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	status := h.manager.GetOverallStatus()
	info := version.GetInfo()

	h.respond(w, status, Response{
		Status:    status,
		Timestamp: time.Now(),
		Version:   info.Version,
		Commit:    info.GitCommit,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    checks,
	})
}

// HandleReady answers from the last check run. Before the first run the
// session counts as not ready.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.manager.GetOverallStatus()
	h.respond(w, status, probe{Status: string(status), Timestamp: time.Now()})
}

func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	h.respond(w, StatusOK, probe{Status: "alive", Timestamp: time.Now()})
}

func (h *Handler) respond(w http.ResponseWriter, status Status, body interface{}) {
	code := http.StatusOK
	if status == StatusDown {
		code = http.StatusServiceUnavailable
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}
