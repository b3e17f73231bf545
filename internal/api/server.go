package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/cuebox/internal/engine"
	"github.com/nerrad567/cuebox/internal/infrastructure/config"
	"github.com/nerrad567/cuebox/internal/infrastructure/logging"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// HealthChecker reports the health of one dependency.
// *mqtt.Client, *influxdb.Client and *database.DB implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps wires a Server to the rest of the process.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   *engine.Engine

	// Checks are reported by the health endpoint, keyed by name (may be nil).
	Checks map[string]HealthChecker

	Version string
}

// Server serves the REST routes and the WebSocket hub.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	engine  *engine.Engine
	checks  map[string]HealthChecker
	version string
	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc
}

// New builds a server. The hub observes the engine from here on, so events
// raised while the library loads already reach it.
//
// Returns:
//   - error: If Logger or Engine is missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Engine == nil:
		return nil, errors.New("api: engine is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger.Component("api"),
		engine:  deps.Engine,
		checks:  deps.Checks,
		version: deps.Version,
		tickets: newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetSnapshotter(engineSnapshots{s.engine})
	s.engine.Observe(s.hub)

	if !s.authEnabled() {
		s.logger.Warn("API authentication disabled: no JWT secret configured")
	}
	return s, nil
}

// engineSnapshots answers subscribe-time snapshots from the engine.
type engineSnapshots struct {
	e *engine.Engine
}

func (s engineSnapshots) Snapshot(channel string) (string, any, bool) {
	switch channel {
	case engine.ChannelStateChanged:
		return WSEventStateSnapshot, s.e.Graph().Snapshot(), true
	case engine.ChannelProfilesChanged:
		return WSEventProfilesSnapshot, s.e.Profiles().Status(), true
	default:
		return "", nil, false
	}
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background until Close.
//
// Binding happens before Start returns, so a port already in use is
// reported here rather than in the log.
//
// Parameters:
//   - ctx: Parent of the hub and ticket cleanup goroutines
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	bg, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(bg)
	go s.cleanTicketsLoop(bg)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}
	s.logger.Info("API listening", "address", ln.Addr().String(), "tls", s.cfg.TLS.Enabled)

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Close stops the background goroutines and drains in-flight requests for
// up to shutdownGrace. Closing a server that never started is a no-op.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API stopped")
	return nil
}

// HealthCheck fails until Start has succeeded.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
