// Package server implements the admin HTTP server: REST API, auth, and SSE
// event streaming.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/dispatch/comms"
	"github.com/GoCodeAlone/dispatch/config"
	"github.com/GoCodeAlone/dispatch/server/api"
	"github.com/GoCodeAlone/dispatch/server/ws"
	"github.com/GoCodeAlone/dispatch/task"
)

// Server is the admin HTTP server.
type Server struct {
	cfg     config.AdminConfig
	mux    *http.ServeMux
	logger *slog.Logger

	srvMu   sync.Mutex
	httpSrv *http.Server

	dispatcher api.Dispatcher
	bus        comms.Bus
	journal    task.Journal
	hub        *ws.Hub
	detach     func()
	routesOnce sync.Once

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.AdminConfig, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		hub:       ws.NewHub(logger),
		startTime: time.Now(),
		version:   ver,
	}
}

// SetDispatcher attaches the dispatcher the API reads and feeds.
func (s *Server) SetDispatcher(d api.Dispatcher) {
	s.dispatcher = d
}

// SetBus attaches the event bus backing /api/events and the SSE stream.
func (s *Server) SetBus(bus comms.Bus) {
	s.bus = bus
}

// SetJournal attaches the task journal backing /api/journal.
func (s *Server) SetJournal(j task.Journal) {
	s.journal = j
}

// Handler returns the server's routes. Call after the Set methods.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":9090"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves the admin API on ln until Stop. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.srvMu.Lock()
	s.httpSrv = srv
	s.srvMu.Unlock()

	s.logger.Info("admin server listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	// Waits for a concurrent registerRoutes and blocks any later one.
	s.routesOnce.Do(func() {})
	if s.detach != nil {
		s.detach()
	}
	s.srvMu.Lock()
	srv := s.httpSrv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Dispatcher: s.dispatcher,
		Bus:        s.bus,
		Journal:    s.journal,
		Logger:     s.logger,
		Version:    s.version,
		StartAt:    s.startTime,
	}
	if s.bus != nil {
		s.detach = s.hub.Attach(s.bus)
	}

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// SSE accepts the token as a query parameter because EventSource can't
	// set headers.
	s.mux.Handle("GET /events", s.authMiddleware(http.HandlerFunc(s.hub.ServeSSE)))

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
