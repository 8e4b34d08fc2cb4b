package orchestrator

import "github.com/matthisholleville/lifecycle-orchestrator/internal/metrics"

// Phase is the lifecycle state the orchestrator exposes to probes. Phases
// are ordinally monotonic: updatePhase only ever moves forward.
type Phase int

const (
	// Startup is the initial phase, before the first successful readiness
	// evaluation.
	Startup Phase = iota
	// Running is entered the first time isReady() succeeds.
	Running
	// ShutdownRequested is entered the instant StartShutdown is called;
	// readiness starts failing immediately.
	ShutdownRequested
	// Draining is Phase 2: idle connections are closed, non-health requests
	// are refused, active requests are allowed to finish.
	Draining
	// Final is Phase 3: every tracker has been force-closed and shutdown
	// callbacks have run (or are running against the force-exit deadline).
	Final
)

func (p Phase) String() string {
	switch p {
	case Startup:
		return "startup"
	case Running:
		return "running"
	case ShutdownRequested:
		return "shutdown_requested"
	case Draining:
		return "draining"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// StateChangeListener observes a phase transition. newPhase always differs
// from oldPhase.
type StateChangeListener func(newPhase, oldPhase Phase)

// updatePhase is a no-op if phase already equals target, and rejects any
// target ordinally behind the current phase: phase only ever moves forward
// (spec "no backward transitions"). This guards against a stale readiness
// snapshot racing a concurrent StartShutdown — see probe.go's
// checkReadinessLocked — from clobbering a later phase with an earlier one.
// Otherwise it advances phase and fans the transition out to every
// registered listener, all-settle: every listener runs, failures are logged
// and never abort a peer listener or the transition itself.
func (o *Orchestrator) updatePhase(target Phase) {
	o.mu.Lock()
	old := o.phase
	if old == target {
		o.mu.Unlock()
		return
	}
	if target < old {
		o.mu.Unlock()
		o.logger.Warn("rejected backward phase transition",
			field("from", old.String()), field("rejected_target", target.String()))
		return
	}
	o.phase = target
	listeners := make([]StateChangeListener, len(o.stateChangeListeners))
	copy(listeners, o.stateChangeListeners)
	o.mu.Unlock()

	metrics.ObservePhase(target.String())

	o.runAllSettle(len(listeners), func(i int) error {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("state change listener panicked",
					field("listener_index", i), field("panic", r))
			}
		}()
		listeners[i](target, old)
		return nil
	}, "state_change_listener")
}
