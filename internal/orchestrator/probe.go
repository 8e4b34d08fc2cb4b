package orchestrator

import "go.uber.org/zap"

// ReadinessResult is the probe evaluator's answer to "should the load
// balancer send this pod traffic", along with the fixed reason/status pair
// the HTTP adapter needs no translation table for.
type ReadinessResult struct {
	Ready      bool
	Reason     string
	StatusCode int
}

// LivenessResult is the probe evaluator's answer to "should this pod keep
// running".
type LivenessResult struct {
	Healthy    bool
	Message    string
	StatusCode int
}

const (
	reasonReady           = "ready"
	reasonClosing         = "Service is closing"
	reasonServerNotReady  = "Server not ready"
	reasonReadyCheckFail  = "Ready check(s) failed"
	reasonHTTPServerNotUp = "HTTP server not ready"

	livenessAlive = "alive"
)

// IsReady runs the full readiness evaluation and, as a side effect,
// transitions Startup -> Running the first time it succeeds. Safe to call
// concurrently with everything else; it never observes an inconsistent
// composite of shutdownRequested and phase.
func (o *Orchestrator) IsReady() bool {
	return o.checkReadinessLocked().Ready
}

// CheckReadiness returns the full readiness decision: boolean, human reason,
// and canonical status code, per the specification's probe table.
func (o *Orchestrator) CheckReadiness() ReadinessResult {
	return o.checkReadinessLocked()
}

func (o *Orchestrator) checkReadinessLocked() ReadinessResult {
	o.mu.Lock()
	fault := o.fault
	shutdownRequested := o.shutdownRequested
	servers := make([]ServerTracker, len(o.servers))
	copy(servers, o.servers)
	checks := make([]Check, len(o.readyChecks))
	copy(checks, o.readyChecks)
	phase := o.phase
	o.mu.Unlock()

	o.observeConnections(servers)

	if fault != nil || shutdownRequested {
		return ReadinessResult{Ready: false, Reason: reasonClosing, StatusCode: 503}
	}

	if len(servers) == 0 {
		return ReadinessResult{Ready: false, Reason: reasonServerNotReady, StatusCode: 503}
	}

	if !o.runAllChecksPass(checks) {
		return ReadinessResult{Ready: false, Reason: reasonReadyCheckFail, StatusCode: 503}
	}

	for _, s := range servers {
		if !s.Listening() {
			return ReadinessResult{Ready: false, Reason: reasonHTTPServerNotUp, StatusCode: 503}
		}
	}

	if phase == Startup {
		// phase was snapshotted before runAllChecksPass's concurrent-
		// suspending fan-out; a StartShutdown landing in between could have
		// already advanced the real phase past Startup. updatePhase rejects
		// any backward target, so a stale Running here can never clobber a
		// later phase.
		o.updatePhase(Running)
	}

	return ReadinessResult{Ready: true, Reason: reasonReady, StatusCode: 200}
}

// runAllChecksPass runs every check concurrently, all-settle: it passes only
// if every check both completed without error and returned true. A
// rejected/erroring check is downgraded to a false result, never propagated.
func (o *Orchestrator) runAllChecksPass(checks []Check) bool {
	if len(checks) == 0 {
		return true
	}
	results := make([]bool, len(checks))
	o.runAllSettle(len(checks), func(i int) error {
		ok, err := checks[i]()
		if err != nil {
			results[i] = false
			return err
		}
		results[i] = ok
		return nil
	}, "ready_check")

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// IsHealthy reports whether an unrecoverable fault has ever been set.
func (o *Orchestrator) IsHealthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fault == nil
}

// CheckLiveness returns the full liveness decision.
func (o *Orchestrator) CheckLiveness() LivenessResult {
	o.mu.Lock()
	fault := o.fault
	o.mu.Unlock()

	if fault != nil {
		return LivenessResult{
			Healthy:    false,
			Message:    "Unrecoverable error: " + fault.Error(),
			StatusCode: 503,
		}
	}
	return LivenessResult{Healthy: true, Message: livenessAlive, StatusCode: 200}
}

// SetUnrecoverableError latches an unrecoverable fault. The fault is never
// cleared. In dev mode the process exits immediately; otherwise the fault is
// reflected only through the liveness probe, and it is the cluster
// controller's job to act on a failing liveness probe.
func (o *Orchestrator) SetUnrecoverableError(err error) {
	o.mu.Lock()
	if o.fault == nil {
		o.fault = err
	}
	devMode := o.config.DevMode
	o.mu.Unlock()

	o.logger.Error("unrecoverable error set", zap.Error(err))

	if devMode {
		o.exit(1)
	}
}
