// Package server exposes a playback session over HTTP: transport controls,
// runtime parameters, health and metrics.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/playback/internal/config"
	apperrors "github.com/zsiec/playback/internal/errors"
	"github.com/zsiec/playback/internal/health"
	"github.com/zsiec/playback/internal/logger"
)

const (
	healthInterval = 30 * time.Second
	stallAfter     = 5 * time.Second
)

// Server serves the control API for one session.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       logger.Logger
	session      Session
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	metricsPath  string
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsPath serves the Prometheus registry at path instead of /metrics.
// An empty path disables it.
func WithMetricsPath(path string) Option {
	return func(s *Server) { s.metricsPath = path }
}

// New creates a server controlling session. Routes are installed here so the
// router can be exercised without listening.
func New(cfg *config.ServerConfig, log logger.Logger, session Session, opts ...Option) *Server {
	log = logger.WithComponent(logger.OrNull(log), "server")
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		session:      session,
		healthMgr:    health.NewManager(log),
		errorHandler: apperrors.NewErrorHandler(log, errorRules...),
		metricsPath:  "/metrics",
	}
	for _, o := range opts {
		o(s)
	}

	s.healthMgr.Register(health.NewPlayerChecker(session, stallAfter))
	s.setupRoutes()
	return s
}

// Start listens until ctx is cancelled, then shuts down gracefully. The
// HTTP/3 listener runs alongside when TLS material is configured.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.HTTPPort))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.healthMgr.StartPeriodicChecks(ctx, healthInterval)

	errCh := make(chan error, 2)
	go func() {
		s.logger.WithField("addr", addr).Info("Starting control server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.config.HTTP3Enabled() {
		if err := s.startHTTP3(errCh); err != nil {
			_ = s.httpServer.Close()
			return err
		}
	}

	select {
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

func (s *Server) startHTTP3(errCh chan<- error) error {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	addr := net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.HTTP3Port))
	s.http3Server = &http3.Server{
		Addr:    addr,
		Handler: s.router,
		TLSConfig: &tls.Config{
			MinVersion:   tls.VersionTLS13,
			NextProtos:   []string{"h3"},
			Certificates: []tls.Certificate{cert},
		},
		QUICConfig: &quic.Config{
			MaxIncomingStreams: s.config.MaxIncomingStreams,
			MaxIdleTimeout:     s.config.MaxIdleTimeout,
		},
	}

	go func() {
		s.logger.WithField("addr", addr).Info("Starting HTTP/3 control server")
		if err := s.http3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http3 server: %w", err)
		}
	}()
	return nil
}

// Shutdown stops both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down control server")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	// http3.Server.Close does not take a context
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("http3 shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")
	if s.metricsPath != "" {
		s.router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")
	}

	s.registerPlayerRoutes(s.router.PathPrefix("/api/v1/player").Subrouter())

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	// preflight requests only need the CORS headers
	preflight := func(r *http.Request, _ *mux.RouteMatch) bool { return r.Method == http.MethodOptions }
	s.router.MatcherFunc(preflight).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]interface{}{
			"protocols": map[string]bool{
				"http11": true,
				"http3":  s.config.HTTP3Enabled(),
			},
			"ports": map[string]int{
				"http":  s.config.HTTPPort,
				"http3": s.config.HTTP3Port,
			},
			"session": s.session.State(),
		}
		s.writeJSON(w, http.StatusOK, info)
	}).Methods("GET")
}

// RegisterRoutes adds route handlers. It must be called before Start.
func (s *Server) RegisterRoutes(register func(*mux.Router)) {
	register(s.router)
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// HealthManager returns the manager so hosts can register more checks.
func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
