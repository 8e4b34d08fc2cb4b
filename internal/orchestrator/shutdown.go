package orchestrator

import (
	"github.com/matthisholleville/lifecycle-orchestrator/internal/metrics"
	"go.uber.org/zap"
)

// secondSignalExitCode is the process exit code ForceExitNow uses; the
// process's own signal handler calls ForceExitNow on a second termination
// signal ("force-exit now"), since a second StartShutdown call is a no-op.
const secondSignalExitCode = -127

// StartShutdown begins the shutdown sequence. It is idempotent after the
// first call: shutdownRequested flips readiness immediately, Phase 1 begins,
// and a timer schedules Phase 2. A caller that needs "second invocation
// means force-exit now" (the process signal handler) should track its own
// invocation count and call ForceExitNow instead of calling StartShutdown
// twice; see pkg/signals.
func (o *Orchestrator) StartShutdown() {
	o.mu.Lock()
	if o.shutdownStarted {
		o.mu.Unlock()
		return
	}
	o.shutdownStarted = true
	o.shutdownRequested = true
	o.shutdownStartAt = o.clock.Now()
	phase1Duration := o.config.Phase1DurationMs
	o.mu.Unlock()

	o.logger.Info("shutdown requested")
	o.updatePhase(ShutdownRequested)

	o.clock.AfterFunc(msToDuration(phase1Duration), o.enterDraining)
}

// ForceExitNow terminates the process immediately with the exit code the
// specification assigns to a second termination signal arriving while
// shutdown is already underway.
func (o *Orchestrator) ForceExitNow() {
	o.logger.Warn("second termination signal received, forcing exit")
	o.exit(secondSignalExitCode)
}

// enterDraining is Phase 2: every tracker starts refusing non-health
// traffic and destroying idle connections; the drain poll and the hard
// deadline timer both start here.
func (o *Orchestrator) enterDraining() {
	o.updatePhase(Draining)

	o.mu.Lock()
	servers := make([]ServerTracker, len(o.servers))
	copy(servers, o.servers)
	pollMs := o.config.ConnectionPollMs
	drainTimeoutMs := o.config.DrainTimeoutMs
	o.mu.Unlock()

	for _, s := range servers {
		s.RequestShutdown()
	}

	o.mu.Lock()
	o.drainPollTimer = o.clock.AfterFunc(msToDuration(pollMs), o.drainPoll)
	o.mu.Unlock()

	o.clock.AfterFunc(msToDuration(drainTimeoutMs), func() {
		o.logger.Warn("close timeout reached, forcing to close")
		o.finishShutdown()
	})
}

// drainPoll is Phase 2's recurring gate check: drain completes once every
// tracker reports zero active connections and every shutdown-ready check
// passes.
func (o *Orchestrator) drainPoll() {
	o.mu.Lock()
	servers := make([]ServerTracker, len(o.servers))
	copy(servers, o.servers)
	checks := make([]Check, len(o.shutdownReadyChecks))
	copy(checks, o.shutdownReadyChecks)
	pollMs := o.config.ConnectionPollMs
	o.mu.Unlock()

	active := 0
	for _, s := range servers {
		active += s.ActiveConnectionCount()
	}

	gatesPass := o.runAllChecksPass(checks)

	if active == 0 && gatesPass {
		o.finishShutdown()
		return
	}

	o.logger.Debug("drain still held",
		field("active_connections", active),
		field("shutdown_ready_checks_passed", gatesPass))

	o.mu.Lock()
	o.drainPollTimer = o.clock.AfterFunc(msToDuration(pollMs), o.drainPoll)
	o.mu.Unlock()
}

// finishShutdown is Phase 3. It is safe to call from both the drain poll and
// the hard-deadline timer: the sync.Once ensures its effects run exactly
// once regardless of which caller wins the race.
func (o *Orchestrator) finishShutdown() {
	o.finishOnce.Do(func() {
		o.mu.Lock()
		if o.drainPollTimer != nil {
			o.drainPollTimer.Stop()
		}
		servers := make([]ServerTracker, len(o.servers))
		copy(servers, o.servers)
		handlers := make([]ShutdownHandler, len(o.shutdownCallbacks))
		copy(handlers, o.shutdownCallbacks)
		graceMs := o.config.ForceExitGraceMs
		shutdownStartAt := o.shutdownStartAt
		o.mu.Unlock()

		o.updatePhase(Final)
		metrics.ShutdownDurationSeconds.Observe(o.clock.Now().Sub(shutdownStartAt).Seconds())

		forced := 0
		for _, s := range servers {
			forced += s.ForceClose()
		}
		if forced > 0 {
			metrics.ForceCloseTotal.Add(float64(forced))
		}

		o.logger.Info("running shutdown handlers, force exit scheduled", zap.Int64("grace_ms", graceMs))
		o.clock.AfterFunc(msToDuration(graceMs), func() {
			o.exit(0)
		})

		o.runAllSettle(len(handlers), func(i int) error {
			return handlers[i]()
		}, "shutdown_handler")
	})
}
