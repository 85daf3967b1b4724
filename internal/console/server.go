// Package console serves the local HTTP console. It exposes the session
// operations, guarded scan submission, the current results and exports as JSON,
// plus a WebSocket feed of session state changes.
package console

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/scanconsole/internal/config"
	"github.com/anstrom/scanconsole/internal/guard"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/metrics"
	"github.com/anstrom/scanconsole/internal/scan"
	"github.com/anstrom/scanconsole/internal/session"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	idleTimeout           = 60 * time.Second
	maxHeaderBytes        = 1 << 20
)

// SessionService is the session side of the console.
type SessionService interface {
	Login(ctx context.Context, identity, secret string) (session.State, error)
	Register(ctx context.Context, identity, secret string) session.Outcome
	Verify(ctx context.Context, identity, code string) session.Outcome
	Logout(ctx context.Context) error
	State() session.State
	IsAuthenticated() bool
	Subscribe(fn func(session.State)) func()
}

// ScanService submits scans and exposes the current slots.
type ScanService interface {
	SubmitForm(ctx context.Context, f scan.Form) (scan.Result, error)
	Slots() scan.Slots
}

// Server is the console HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     config.ConsoleConfig
	session    SessionService
	scans      ScanService
	guard      *guard.Guard
	hub        *Hub
	recorder   metrics.Recorder
	metrics    http.Handler
	logger     *logging.Logger
	now        func() time.Time
	startTime  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder records per-route request metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides the time source used for export names.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a console server. The session feed starts immediately; call
// Start to listen.
func New(cfg config.ConsoleConfig, sess SessionService, scans ScanService, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		session:   sess,
		scans:     scans,
		guard:     guard.New(sess),
		recorder:  metrics.Noop{},
		logger:    logging.Default(),
		now:       time.Now,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("console")
	s.hub = NewHub(sess, s.logger)

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	return s
}

// Start listens until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting console server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("console server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		s.hub.Close()
		return err
	}
}

// Stop gracefully stops the server and closes WebSocket clients.
func (s *Server) Stop() error {
	s.logger.Info("Stopping console server")
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Console server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session operations are public
	api.HandleFunc("/login", s.loginHandler).Methods(http.MethodPost)
	api.HandleFunc("/register", s.registerHandler).Methods(http.MethodPost)
	api.HandleFunc("/verify-otp", s.verifyHandler).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.logoutHandler).Methods(http.MethodPost)
	api.HandleFunc("/session", s.sessionHandler).Methods(http.MethodGet)

	// Authenticated-only API
	api.Handle("/scan/{scanType}", s.guard.API(http.HandlerFunc(s.scanHandler))).Methods(http.MethodPost)
	api.Handle("/results", s.guard.API(http.HandlerFunc(s.resultsHandler))).Methods(http.MethodGet)
	api.Handle("/export/{format}", s.guard.API(http.HandlerFunc(s.exportHandler))).Methods(http.MethodPost)

	// Authenticated-only views
	s.router.Handle("/", s.guard.Views(http.HandlerFunc(s.catalogHandler))).Methods(http.MethodGet)
	s.router.Handle("/scan/{scanType}", s.guard.Views(http.HandlerFunc(s.formHandler))).Methods(http.MethodGet)

	// Public
	s.router.HandleFunc(guard.LoginPath, s.loginViewHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/session", s.hub.ServeHTTP).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(s.config.CORSOrigins),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		))
	}

	s.router.Use(s.contentTypeMiddleware)
}
