package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/panelsync/internal/audit"
	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/engine"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/infrastructure/config"
	"github.com/nerrad567/panelsync/internal/infrastructure/logging"
	"github.com/nerrad567/panelsync/internal/panel"
	"github.com/nerrad567/panelsync/internal/slots"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   *engine.Engine
	Brokers  *broker.Registry
	Slots    *slots.Store
	Hub      *hub.Registry
	Panels   *panel.Manager
	// WSHub is shared with the engine and the flow dispatcher; one is
	// created when nil.
	WSHub *Hub
	// Audit records admin changes; nil disables the trail.
	Audit   *audit.Trail
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	engine  *engine.Engine
	brokers *broker.Registry
	slots   *slots.Store
	hub     *hub.Registry
	panels  *panel.Manager
	audit   *audit.Trail
	version string
	tickets *ticketStore
	now     func() time.Time
	started time.Time

	ws       *Hub
	server   *http.Server
	cancel   context.CancelFunc
	unsubHub func()
}

// New creates a new API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Engine == nil:
		return nil, errors.New("engine is required")
	case deps.Brokers == nil || deps.Slots == nil || deps.Hub == nil || deps.Panels == nil:
		return nil, errors.New("broker, slot, hub and panel registries are required")
	}
	ws := deps.WSHub
	if ws == nil {
		ws = NewHub(deps.WS, deps.Logger)
	}
	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		engine:  deps.Engine,
		brokers: deps.Brokers,
		slots:   deps.Slots,
		hub:     deps.Hub,
		panels:  deps.Panels,
		audit:   deps.Audit,
		version: deps.Version,
		tickets: newTicketStore(),
		now:     time.Now,
		started: time.Now(),
		ws:      ws,
	}, nil
}

// WSHub returns the websocket hub so other components can broadcast.
func (s *Server) WSHub() *Hub {
	return s.ws
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start runs the websocket hub and begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.ws.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	s.unsubHub = s.hub.Subscribe(func(ch hub.Change) {
		s.ws.Broadcast(ChannelHub, ch)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.unsubHub != nil {
		s.unsubHub()
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
