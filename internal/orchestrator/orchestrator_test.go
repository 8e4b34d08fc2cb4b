package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/matthisholleville/lifecycle-orchestrator/internal/clock"
	"github.com/matthisholleville/lifecycle-orchestrator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	listening      bool
	active         int
	shutdownCalled bool
	forceClosed    bool
}

func (f *fakeTracker) ActiveConnectionCount() int { return f.active }
func (f *fakeTracker) Listening() bool            { return f.listening }
func (f *fakeTracker) RequestShutdown()           { f.shutdownCalled = true }

func (f *fakeTracker) ForceClose() int {
	f.forceClosed = true
	forced := f.active
	f.active = 0
	return forced
}

func (f *fakeTracker) StateCounts() (idle, active, healthCheck int) {
	return 0, f.active, 0
}

func newTestOrchestrator(readyProbeIntervalSeconds int64) (*Orchestrator, *clock.Virtual, *[]int) {
	v := clock.NewVirtual(time.Unix(0, 0))
	exitCodes := []int{}
	o := New(DefaultConfig(readyProbeIntervalSeconds), v, logger.NewNoopLogger(), func(code int) {
		exitCodes = append(exitCodes, code)
	})
	return o, v, &exitCodes
}

func TestHappyReadinessTransitionsStartupToRunning(t *testing.T) {
	o, _, _ := newTestOrchestrator(30)
	o.AddServer(&fakeTracker{listening: true})
	o.OnReadyCheck(func() (bool, error) { return true, nil })

	result := o.CheckReadiness()

	assert.True(t, result.Ready)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, "ready", result.Reason)
	assert.Equal(t, Running, o.Phase())
}

func TestShutdownFlipsReadinessInstantly(t *testing.T) {
	o, _, _ := newTestOrchestrator(30)
	o.AddServer(&fakeTracker{listening: true})
	o.OnReadyCheck(func() (bool, error) { return true, nil })
	require.True(t, o.IsReady())

	o.StartShutdown()

	result := o.CheckReadiness()
	assert.False(t, result.Ready)
	assert.Equal(t, "Service is closing", result.Reason)
	assert.Equal(t, 503, result.StatusCode)

	liveness := o.CheckLiveness()
	assert.True(t, liveness.Healthy)
	assert.Equal(t, "alive", liveness.Message)
}

func TestThreePhaseDrainWithIdleOnly(t *testing.T) {
	o, v, _ := newTestOrchestrator(10)
	tr := &fakeTracker{listening: true, active: 0}
	o.AddServer(tr)

	var order []int
	o.OnShutdown(func() error { order = append(order, 0); return nil })
	o.OnShutdown(func() error { order = append(order, 1); return nil })

	o.StartShutdown()

	v.Advance(14999 * time.Millisecond)
	assert.Equal(t, ShutdownRequested, o.Phase())

	v.Advance(1 * time.Millisecond) // total 15000ms
	assert.Equal(t, Draining, o.Phase())
	assert.True(t, tr.shutdownCalled)

	v.Advance(1000 * time.Millisecond) // one connectionPollMs poll
	assert.Equal(t, Final, o.Phase())
	assert.Equal(t, []int{0, 1}, order)
}

func TestGateHoldsDrainUntilFlipped(t *testing.T) {
	o, v, _ := newTestOrchestrator(10)
	o.AddServer(&fakeTracker{listening: true, active: 0})

	holdGate := true
	o.AddShutdownReadyCheck(func() (bool, error) { return !holdGate, nil })

	o.StartShutdown()
	v.Advance(15000 * time.Millisecond) // enter Draining

	v.Advance(msToDuration(o.config.DrainTimeoutMs) - time.Millisecond)
	assert.Equal(t, Draining, o.Phase())

	holdGate = false
	v.Advance(1000 * time.Millisecond)
	assert.Equal(t, Final, o.Phase())
}

func TestDeadlineForceClosesStuckConnection(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	cfg := DefaultConfig(10)
	cfg.DrainTimeoutMs = 1000
	o := New(cfg, v, logger.NewNoopLogger(), func(int) {})
	tr := &fakeTracker{listening: true, active: 1}
	o.AddServer(tr)

	o.StartShutdown()
	v.Advance(15000 * time.Millisecond) // Phase1DurationMs for interval=10 is 15000ms

	v.Advance(1000 * time.Millisecond) // drainTimeoutMs elapses with active still 1
	assert.Equal(t, Final, o.Phase())
	assert.True(t, tr.forceClosed)
}

func TestFailingShutdownHandlerDoesNotBlockPeers(t *testing.T) {
	o, v, _ := newTestOrchestrator(10)
	o.AddServer(&fakeTracker{listening: true})

	secondRan := false
	o.OnShutdown(func() error { return errors.New("db") })
	o.OnShutdown(func() error { secondRan = true; return nil })

	o.StartShutdown()
	v.Advance(15000 * time.Millisecond)
	v.Advance(1000 * time.Millisecond)

	assert.Equal(t, Final, o.Phase())
	assert.True(t, secondRan)
}

func TestStartShutdownTwiceDoesNotReenterPhase1(t *testing.T) {
	o, v, _ := newTestOrchestrator(10)
	o.AddServer(&fakeTracker{listening: true})

	o.StartShutdown()
	o.StartShutdown() // must be a no-op, not a second Phase 1 entry

	v.Advance(15000 * time.Millisecond)
	assert.Equal(t, Draining, o.Phase())
}

func TestUpdatePhaseSamePhaseFiresListenersOnce(t *testing.T) {
	o, _, _ := newTestOrchestrator(30)
	calls := 0
	o.OnStateChange(func(newPhase, oldPhase Phase) { calls++ })

	o.updatePhase(Running)
	o.updatePhase(Running)

	assert.Equal(t, 1, calls)
}

func TestSetUnrecoverableErrorFailsLivenessForever(t *testing.T) {
	o, _, exitCodes := newTestOrchestrator(30)

	assert.True(t, o.IsHealthy())
	o.SetUnrecoverableError(errors.New("boom"))

	assert.False(t, o.IsHealthy())
	result := o.CheckLiveness()
	assert.Equal(t, 503, result.StatusCode)
	assert.Equal(t, "Unrecoverable error: boom", result.Message)
	assert.Empty(t, *exitCodes, "non-dev mode never exits on its own")
}

func TestSetUnrecoverableErrorExitsInDevMode(t *testing.T) {
	v := clock.NewVirtual(time.Unix(0, 0))
	cfg := DefaultConfig(30)
	cfg.DevMode = true
	exitCodes := []int{}
	o := New(cfg, v, logger.NewNoopLogger(), func(code int) { exitCodes = append(exitCodes, code) })

	o.SetUnrecoverableError(errors.New("boom"))

	require.Len(t, exitCodes, 1)
	assert.Equal(t, 1, exitCodes[0])
}

func TestCheckReadinessReasonsMatchEvaluationOrder(t *testing.T) {
	o, _, _ := newTestOrchestrator(30)

	// No servers registered yet.
	result := o.CheckReadiness()
	assert.Equal(t, "Server not ready", result.Reason)

	o.AddServer(&fakeTracker{listening: true})
	o.OnReadyCheck(func() (bool, error) { return false, nil })
	result = o.CheckReadiness()
	assert.Equal(t, "Ready check(s) failed", result.Reason)

	o2, _, _ := newTestOrchestrator(30)
	o2.AddServer(&fakeTracker{listening: false})
	result = o2.CheckReadiness()
	assert.Equal(t, "HTTP server not ready", result.Reason)
}

func TestReadyCheckErrorIsDowngradedNotPropagated(t *testing.T) {
	o, _, _ := newTestOrchestrator(30)
	o.AddServer(&fakeTracker{listening: true})
	o.OnReadyCheck(func() (bool, error) { return false, errors.New("boom") })

	result := o.CheckReadiness()
	assert.False(t, result.Ready)
	assert.Equal(t, "Ready check(s) failed", result.Reason)
}
