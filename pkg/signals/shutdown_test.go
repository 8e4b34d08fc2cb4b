package signals

import (
	"syscall"
	"testing"
	"time"

	"github.com/matthisholleville/lifecycle-orchestrator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSequencer struct {
	startCalls    chan struct{}
	forceExitCall chan struct{}
}

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{
		startCalls:    make(chan struct{}, 4),
		forceExitCall: make(chan struct{}, 4),
	}
}

func (f *fakeSequencer) StartShutdown() { f.startCalls <- struct{}{} }
func (f *fakeSequencer) ForceExitNow()  { f.forceExitCall <- struct{}{} }

func TestFirstSignalStartsShutdownSecondForcesExit(t *testing.T) {
	h := NewHandler(logger.NewNoopLogger())
	seq := newFakeSequencer()
	h.Listen(seq)
	defer h.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	select {
	case <-seq.startCalls:
	case <-time.After(time.Second):
		t.Fatal("StartShutdown was not called after first signal")
	}

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	select {
	case <-seq.forceExitCall:
	case <-time.After(time.Second):
		t.Fatal("ForceExitNow was not called after second signal")
	}

	assert.Empty(t, seq.startCalls)
}
