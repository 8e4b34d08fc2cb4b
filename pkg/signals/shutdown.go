// Package signals adapts the host process's termination signals into the
// orchestrator's shutdown sequencer, per the specification's "Signals"
// requirement: the first SIGTERM/SIGINT starts shutdown, a second forces an
// immediate exit.
package signals

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/matthisholleville/lifecycle-orchestrator/pkg/logger"
)

// Sequencer is the subset of *orchestrator.Orchestrator the signal handler
// depends on.
type Sequencer interface {
	StartShutdown()
	ForceExitNow()
}

// Handler wires os/signal notifications to a Sequencer.
type Handler struct {
	logger  logger.Logger
	signals chan os.Signal
	count   atomic.Int32
}

// NewHandler builds a signal Handler. Call Listen to start watching.
func NewHandler(log logger.Logger) *Handler {
	return &Handler{
		logger:  log,
		signals: make(chan os.Signal, 2),
	}
}

// Listen registers for SIGTERM and SIGINT and runs a goroutine that calls
// seq.StartShutdown() on the first signal and seq.ForceExitNow() on the
// second. It returns immediately; call Stop to unregister.
func (h *Handler) Listen(seq Sequencer) {
	signal.Notify(h.signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for range h.signals {
			if h.count.Add(1) > 1 {
				h.logger.Warn("second termination signal received")
				seq.ForceExitNow()
				continue
			}
			h.logger.Info("termination signal received, starting graceful shutdown")
			seq.StartShutdown()
		}
	}()
}

// Stop unregisters the signal handler.
func (h *Handler) Stop() {
	signal.Stop(h.signals)
}
