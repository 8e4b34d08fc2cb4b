package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/cfg"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/clock"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/orchestrator"
	"github.com/matthisholleville/lifecycle-orchestrator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *cfg.Config {
	return &cfg.Config{
		ReadyProbeIntervalSeconds: 30,
		ShutdownTimeoutSeconds:    540,
		ConnectionPollMs:          1000,
		ForceExitGraceMs:          5000,
		HTTPAddr:                  "127.0.0.1:0",
		ReadyPath:                 "/api/probe/ready",
		LivePath:                  "/api/probe/live",
		TestPath:                  "/api/probe/test",
	}
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	c := testConfig()
	v := clock.NewVirtual(time.Unix(0, 0))
	orch := orchestrator.New(c.OrchestratorConfig(), v, logger.NewNoopLogger(), func(int) {})
	require.NotNil(t, orch)
	s := New(logger.NewNoopLogger(), c, orch)
	s.listening.Store(true) // simulate a running listener without binding a real socket
	return s, orch
}

func TestReadyProbeReturns503BeforeServerMarkedListening(t *testing.T) {
	s, _ := newTestServer(t)
	s.listening.Store(false)

	req := httptest.NewRequest(http.MethodGet, "/api/probe/ready", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "HTTP server not ready", rec.Body.String())
}

func TestReadyProbeReturns200WhenReady(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/probe/ready", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestReadyProbeReturns503AfterShutdown(t *testing.T) {
	s, orch := newTestServer(t)
	orch.StartShutdown()

	req := httptest.NewRequest(http.MethodGet, "/api/probe/ready", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Service is closing", rec.Body.String())
}

func TestLiveProbeReturns503AfterUnrecoverableError(t *testing.T) {
	s, orch := newTestServer(t)
	orch.SetUnrecoverableError(assertAnError{})

	req := httptest.NewRequest(http.MethodGet, "/api/probe/live", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unrecoverable error")
}

func TestDisabledProbePathIsNotRegistered(t *testing.T) {
	c := testConfig()
	c.TestPath = ""
	v := clock.NewVirtual(time.Unix(0, 0))
	orch := orchestrator.New(c.OrchestratorConfig(), v, logger.NewNoopLogger(), func(int) {})
	s := New(logger.NewNoopLogger(), c, orch)

	req := httptest.NewRequest(http.MethodGet, "/api/probe/test", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNonHealthRequestRejectedDuringShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	s.Router.GET("/work", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.Tracker.RequestShutdown()

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Closing", rec.Body.String())
	assert.Equal(t, "close", rec.Header().Get("Connection"))
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }
