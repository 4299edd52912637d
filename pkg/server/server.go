package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iddaa-lens/redpacket/pkg/handlers/events"
	"github.com/iddaa-lens/redpacket/pkg/handlers/health"
	"github.com/iddaa-lens/redpacket/pkg/handlers/lifecycle"
	settingshandler "github.com/iddaa-lens/redpacket/pkg/handlers/settings"
	"github.com/iddaa-lens/redpacket/pkg/handlers/status"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/middleware"
	"github.com/iddaa-lens/redpacket/pkg/settings"
)

// Dependencies are the service components the bridge exposes
type Dependencies struct {
	Lifecycle  lifecycle.Service
	Listener   lifecycle.Listener
	Services   lifecycle.ServiceList
	Dispatcher events.Dispatcher
	Status     status.Snapshotter
	Settings   settings.Store
}

// Server is the local HTTP bridge between the OS subsystem and the service
type Server struct {
	router     *http.ServeMux
	httpServer *http.Server
	addr       string
	logger     *logger.Logger
	handlers   struct {
		health    *health.Handler
		status    *status.Handler
		events    *events.Handler
		lifecycle *lifecycle.Handler
		settings  *settingshandler.Handler
	}
}

// New creates a new server instance listening on addr
func New(addr string, deps Dependencies, log *logger.Logger) (*Server, error) {
	if deps.Lifecycle == nil || deps.Listener == nil || deps.Services == nil ||
		deps.Dispatcher == nil || deps.Status == nil || deps.Settings == nil {
		return nil, errors.New("server dependencies are incomplete")
	}
	if log == nil {
		log = logger.New("bridge-server")
	}

	server := &Server{
		router: http.NewServeMux(),
		addr:   addr,
		logger: log,
	}

	server.handlers.health = health.NewHandler(deps.Lifecycle, log)
	server.handlers.status = status.NewHandler(deps.Status, log)
	server.handlers.events = events.NewHandler(deps.Dispatcher, log)
	server.handlers.lifecycle = lifecycle.NewHandler(deps.Lifecycle, deps.Listener, deps.Services, log)
	server.handlers.settings = settingshandler.NewHandler(deps.Settings, log)

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return server, nil
}

// setupRoutes configures all the bridge routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handlers.health.HealthCheck)
	s.router.HandleFunc("GET /status", s.handlers.status.Status)

	// Events forwarded from the OS subsystem
	s.router.HandleFunc("POST /events/ui", s.handlers.events.UI)
	s.router.HandleFunc("POST /events/notification", s.handlers.events.Notification)

	// Lifecycle callbacks
	s.router.HandleFunc("POST /lifecycle/create", s.handlers.lifecycle.Create)
	s.router.HandleFunc("POST /lifecycle/connect", s.handlers.lifecycle.Connect)
	s.router.HandleFunc("POST /lifecycle/interrupt", s.handlers.lifecycle.Interrupt)
	s.router.HandleFunc("POST /lifecycle/destroy", s.handlers.lifecycle.Destroy)
	s.router.HandleFunc("POST /listener/connect", s.handlers.lifecycle.ListenerConnect)
	s.router.HandleFunc("POST /listener/disconnect", s.handlers.lifecycle.ListenerDisconnect)
	s.router.HandleFunc("PUT /subsystem/enabled-services", s.handlers.lifecycle.EnabledServices)

	// Preference flags
	s.router.HandleFunc("GET /settings/{key}", s.handlers.settings.GetFlag)
	s.router.HandleFunc("PUT /settings/{key}", s.handlers.settings.PutFlag)
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return middleware.CORS(middleware.RequestLogger(s.logger)(s.router))
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("action", "server_start").
		Str("addr", s.addr).
		Msg("Starting bridge server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed on %s: %w", s.addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info().Str("action", "server_stopped").Msg("Bridge server stopped")
	return nil
}
