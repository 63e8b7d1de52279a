// Package api serves the REST and WebSocket interface of the controller.
//
// Dashboards switch outlets, edit schedules, read the last telemetry
// reading and the broker connection through /api/v1; /api/v1/ws streams
// core events to subscribed clients.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nerrad567/domotic-core/internal/controller"
	"github.com/nerrad567/domotic-core/internal/events"
	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
	"github.com/nerrad567/domotic-core/internal/infrastructure/logging"
)

const shutdownGrace = 10 * time.Second

// EventSource is where the server picks up core events for WebSocket
// clients. *events.Bus satisfies it.
type EventSource interface {
	Subscribe(h events.Handler) (unsubscribe func())
}

// Deps are the server's collaborators. Logger and Controller are required.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Controller *controller.Controller
	Events     EventSource // optional; without it WebSocket clients receive nothing
	Version    string
}

// Server owns the HTTP listener and the WebSocket hub.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	ctrl    *controller.Controller
	events  EventSource
	version string
	hub     *Hub

	server      *http.Server
	addr        atomic.Value // string, set once listening
	cancel      context.CancelFunc
	unsubscribe func()
}

// New validates deps and builds a server that is not yet listening.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Controller == nil:
		return nil, errors.New("api: controller is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		ctrl:    deps.Controller,
		events:  deps.Events,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start binds the listener and serves in the background. Only a bind
// failure is returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	s.addr.Store(ln.Addr().String())

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)
	if s.events != nil {
		s.unsubscribe = s.events.Subscribe(s.relayEvent)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	s.logger.Info("API server listening", "address", s.Addr())
	go func() {
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	a, _ := s.addr.Load().(string) //nolint:errcheck // unset before Start
	return a
}

func (s *Server) relayEvent(e events.Event) {
	s.hub.Publish(e)
}

// Close stops relaying events, disconnects WebSocket clients and drains
// in-flight requests for up to shutdownGrace.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has bound the listener.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.Addr() == "" {
		return errors.New("api server not started")
	}
	return nil
}
