// Package orchestrator is the authoritative lifecycle state machine for a
// long-running network service: the phase state machine, the probe
// evaluator, and the multi-phase shutdown sequencer described by the
// lifecycle specification this module implements. It coordinates with
// internal/tracker (per-connection accounting) and internal/clock (virtual
// time in tests) to uphold one invariant above all others: no request is
// ever refused before the orchestrator has stopped advertising readiness
// long enough for the load balancer to drop the pod from rotation, and no
// in-flight request is cut off prematurely.
package orchestrator

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/matthisholleville/lifecycle-orchestrator/internal/clock"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/metrics"
	"github.com/matthisholleville/lifecycle-orchestrator/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServerTracker is the subset of *tracker.ServerTracker the orchestrator
// depends on, kept as an interface so tests can supply fakes.
type ServerTracker interface {
	ActiveConnectionCount() int
	Listening() bool
	RequestShutdown()
	// ForceClose destroys every remaining connection unconditionally and
	// returns how many of them were not idle — connections cut off by the
	// drain deadline rather than closed voluntarily.
	ForceClose() int
	// StateCounts reports the current connection breakdown, for the
	// connections gauge.
	StateCounts() (idle, active, healthCheck int)
}

// Check is a user-supplied async predicate: a ready-check or a
// shutdown-ready-check. It returns (passed, error); a non-nil error is
// treated the same as a false result, downgraded rather than propagated.
type Check func() (bool, error)

// ShutdownHandler is a user-registered shutdown callback.
type ShutdownHandler func() error

// ProcessExiter abstracts process termination so tests never actually exit.
type ProcessExiter func(code int)

// Config carries every tunable named in the lifecycle specification's
// configuration table.
type Config struct {
	// Phase1DurationMs is how long the orchestrator stays in
	// ShutdownRequested before entering Draining. Defaults to
	// 1.5 * ReadyProbeIntervalSeconds * 1000.
	Phase1DurationMs int64
	// DrainTimeoutMs is the hard deadline for Phase 2; default 540000.
	DrainTimeoutMs int64
	// ConnectionPollMs is the drain-poll interval; default 1000.
	ConnectionPollMs int64
	// ForceExitGraceMs is how long shutdown callbacks get to run in Phase 3
	// before the process is terminated unconditionally; default 5000.
	ForceExitGraceMs int64
	// DevMode mirrors NODE_ENV != "production": setUnrecoverableError exits
	// the process immediately instead of only failing liveness.
	DevMode bool
}

// DefaultConfig returns the specification's defaults, derived from a
// readiness-probe interval of readyProbeIntervalSeconds seconds.
func DefaultConfig(readyProbeIntervalSeconds int64) Config {
	return Config{
		Phase1DurationMs: int64(1.5 * float64(readyProbeIntervalSeconds) * 1000),
		DrainTimeoutMs:   540000,
		ConnectionPollMs: 1000,
		ForceExitGraceMs: 5000,
	}
}

// Orchestrator is the process-wide lifecycle singleton. Construct exactly
// one and pass it to every registration call; see New.
type Orchestrator struct {
	mu sync.Mutex

	phase             Phase
	fault             error
	shutdownRequested bool

	servers               []ServerTracker
	readyChecks           []Check
	shutdownCallbacks     []ShutdownHandler
	shutdownReadyChecks   []Check
	stateChangeListeners  []StateChangeListener

	config Config
	clock  clock.Clock
	logger logger.Logger
	exit   ProcessExiter

	shutdownStarted  bool
	drainPollTimer   clock.Timer
	finishOnce       sync.Once
	shutdownStartAt  time.Time
}

// New constructs an Orchestrator. c is the clock every timer is scheduled
// against (clock.New() in production, a clock.Virtual in tests). log is the
// default exception sink; exit defaults to os.Exit when nil.
func New(cfg Config, c clock.Clock, log logger.Logger, exit ProcessExiter) *Orchestrator {
	if exit == nil {
		exit = defaultExiter
	}
	return &Orchestrator{
		phase:  Startup,
		config: cfg,
		clock:  c,
		logger: log,
		exit:   exit,
	}
}

func field(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

// runAllSettle runs fn concurrently for i in [0,n), logging (not
// propagating) each failure tagged with label and its index. It never
// aborts a peer because one invocation failed or panicked.
func (o *Orchestrator) runAllSettle(n int, fn func(i int) error, label string) {
	if n == 0 {
		return
	}
	var g errgroup.Group
	for i := 0; i < n; i++ {
		idx := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error(label+" panicked", field("index", idx), field("panic", r))
				}
			}()
			if err := fn(idx); err != nil {
				o.logger.Warn(label+" failed", field("index", idx), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// AddServer begins tracking server for the purposes of readiness and drain.
func (o *Orchestrator) AddServer(s ServerTracker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.servers = append(o.servers, s)
}

// OnReadyCheck appends a user readiness predicate, run on every isReady().
func (o *Orchestrator) OnReadyCheck(c Check) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readyChecks = append(o.readyChecks, c)
}

// OnShutdown appends a shutdown handler, invoked (all-settle) in Phase 3.
func (o *Orchestrator) OnShutdown(h ShutdownHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shutdownCallbacks = append(o.shutdownCallbacks, h)
}

// AddShutdownReadyCheck appends a predicate that must pass, alongside zero
// active connections, before Phase 2 may conclude.
func (o *Orchestrator) AddShutdownReadyCheck(c Check) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shutdownReadyChecks = append(o.shutdownReadyChecks, c)
}

// OnStateChange appends a phase-transition listener, invoked in registration
// order (completion order is not guaranteed) for every subsequent
// transition.
func (o *Orchestrator) OnStateChange(l StateChangeListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateChangeListeners = append(o.stateChangeListeners, l)
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// observeConnections updates ConnectionsGauge from every tracked server's
// current state breakdown. Servers are labeled by their index since a
// ServerTracker has no identity of its own.
func (o *Orchestrator) observeConnections(servers []ServerTracker) {
	for i, s := range servers {
		label := fmt.Sprintf("server_%d", i)
		idle, active, healthCheck := s.StateCounts()
		metrics.ConnectionsGauge.WithLabelValues(label, "idle").Set(float64(idle))
		metrics.ConnectionsGauge.WithLabelValues(label, "active").Set(float64(active))
		metrics.ConnectionsGauge.WithLabelValues(label, "health_check").Set(float64(healthCheck))
	}
}

func defaultExiter(code int) {
	os.Exit(code)
}
