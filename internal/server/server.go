// Package server hosts the probe HTTP surface described by the lifecycle
// specification's external-interfaces section over an Echo router, the same
// configure*-method-chain constructor shape the teacher repository uses for
// its own HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/cfg"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/metrics"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/orchestrator"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/tracker"
	"github.com/matthisholleville/lifecycle-orchestrator/pkg/logger"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"
)

//	@title			Lifecycle Orchestrator Probe API
//	@version		1.0
//	@description	Startup, readiness, and liveness probes for a pod-managed service.

//	@BasePath	/
//	@schemes	http

type connCtxKey struct{}

// Server hosts the probe surface plus a tracked demo HTTP listener.
type Server struct {
	Router       *echo.Echo
	Logger       logger.Logger
	Config       *cfg.Config
	Orchestrator *orchestrator.Orchestrator
	Tracker      *tracker.ServerTracker

	httpServer *http.Server
	listening  atomic.Bool
}

// New builds a Server wired to orch, following the teacher's configure*
// chain: router, tracker, metrics, swagger docs, probe routes.
func New(log logger.Logger, config *cfg.Config, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		Router:       echo.New(),
		Logger:       log,
		Config:       config,
		Orchestrator: orch,
	}

	s.configureRouter()
	s.configureTracker()
	s.configureMetrics()
	s.configureSwaggerRoutes()
	s.registerProbeRoutes()

	orch.AddServer(s.Tracker)
	return s
}

func (s *Server) configureRouter() {
	s.Router.HideBanner = true
	s.Router.HidePort = true
}

// configureTracker wires the tracker's health-check path set from the
// configured probe paths and installs the request-tracking middleware.
func (s *Server) configureTracker() {
	var healthPaths []string
	for _, p := range []string{s.Config.ReadyPath, s.Config.LivePath} {
		if p != "" {
			healthPaths = append(healthPaths, p)
		}
	}

	s.Tracker = tracker.New(s, healthPaths, func(context string, err error) {
		s.Logger.Warn(context, zap.Error(err))
	})

	s.Router.Use(s.trackingMiddleware)
}

func (s *Server) configureMetrics() {
	if err := metrics.Register(nil); err != nil {
		s.Logger.Warn("metrics already registered", zap.Error(err))
	}
	s.Router.GET("/metrics", echoprometheus.NewHandler())
}

func (s *Server) configureSwaggerRoutes() {
	s.Router.GET("/swagger/*", echoSwagger.WrapHandler)
}

// registerProbeRoutes registers the three probe endpoints from the
// specification's external-interfaces table. A path configured to the empty
// string is never registered, and is therefore never matched as a health
// check either.
func (s *Server) registerProbeRoutes() {
	if s.Config.ReadyPath != "" {
		s.Router.GET(s.Config.ReadyPath, s.handleReady)
	}
	if s.Config.LivePath != "" {
		s.Router.GET(s.Config.LivePath, s.handleLive)
	}
	if s.Config.TestPath != "" {
		s.Router.GET(s.Config.TestPath, s.handleTest)
	}
}

//	@Summary	Readiness probe
//	@Success	200	{string}	string	"ready"
//	@Failure	503	{string}	string	"not ready"
//	@Router		/api/probe/ready [get]
func (s *Server) handleReady(c echo.Context) error {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("readiness probe panicked", zap.Any("panic", r))
			_ = c.String(http.StatusInternalServerError, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()
	result := s.Orchestrator.CheckReadiness()
	if !result.Ready {
		return c.String(result.StatusCode, result.Reason)
	}
	return c.String(http.StatusOK, "ready")
}

//	@Summary	Liveness probe
//	@Success	200	{string}	string	"alive"
//	@Failure	503	{string}	string	"unrecoverable error"
//	@Router		/api/probe/live [get]
func (s *Server) handleLive(c echo.Context) error {
	result := s.Orchestrator.CheckLiveness()
	if !result.Healthy {
		return c.String(result.StatusCode, result.Message)
	}
	return c.String(http.StatusOK, "alive")
}

const defaultTestWaitMs = 10000

//	@Summary	Long-poll test endpoint
//	@Param		t	query	int	false	"milliseconds to wait"
//	@Success	200	{string}	string	"Done"
//	@Router		/api/probe/test [get]
func (s *Server) handleTest(c echo.Context) error {
	waitMs := defaultTestWaitMs
	if q := c.QueryParam("t"); q != "" {
		if parsed, err := time.ParseDuration(q + "ms"); err == nil {
			waitMs = int(parsed.Milliseconds())
		}
	}

	if _, err := c.Response().Write([]byte(fmt.Sprintf("Waiting for %d ...\n", waitMs))); err != nil {
		return err
	}
	c.Response().Flush()

	select {
	case <-time.After(time.Duration(waitMs) * time.Millisecond):
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}

	_, err := c.Response().Write([]byte("Done"))
	return err
}

// ListenAndServe starts the HTTP listener. It installs a ConnState hook so
// the tracker observes every connection open/close event, and a
// ConnContext hook so request-tracking middleware can recover the
// connection a request arrived on.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:    s.Config.HTTPAddr,
		Handler: s.Router,
		ConnState: func(conn net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				s.Tracker.OnConnection(conn, func() { _ = conn.Close() })
			case http.StateClosed, http.StateHijacked:
				s.Tracker.OnClose(conn)
			}
		},
		ConnContext: func(ctx context.Context, conn net.Conn) context.Context {
			return context.WithValue(ctx, connCtxKey{}, conn)
		},
	}

	s.listening.Store(true)
	s.Logger.Info("starting server", zap.String("addr", s.Config.HTTPAddr))
	err := s.httpServer.ListenAndServe()
	s.listening.Store(false)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Listening implements tracker.TrackedServer.
func (s *Server) Listening() bool {
	return s.listening.Load()
}

// Close implements tracker.TrackedServer: it stops accepting new
// connections without waiting for in-flight requests (the tracker itself
// drains those).
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}
