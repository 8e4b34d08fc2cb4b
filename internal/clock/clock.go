// Package clock provides the monotonic time source used by the orchestrator.
//
// Every time-dependent component (the shutdown sequencer, including its
// drain poll and deadlines) reads the current time and
// schedules delays exclusively through a Clock. Nothing in this module calls
// time.Now or time.AfterFunc directly, so tests can swap in a VirtualClock
// and drive every timeout deterministically.
package clock

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback. Stop cancels it; a Timer that
// already fired or was already stopped returns false on a second Stop.
type Timer interface {
	Stop() bool
}

// Clock is the timing abstraction every other component depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc schedules f to run after d elapses and returns a handle that
	// cancels the callback if it hasn't fired yet. Scheduled callbacks are
	// non-retaining: they never keep a process alive on their own.
	AfterFunc(d time.Duration, f func()) Timer
}

// Real wraps the platform clock.
type Real struct{}

// New returns the real, wall-clock-backed Clock.
func New() Clock {
	return Real{}
}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	t := time.AfterFunc(d, f)
	return realTimer{t}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool { return r.t.Stop() }

// Virtual is a manually-advanced clock for deterministic tests. Scheduled
// callbacks run synchronously, in due-time order, when Advance passes their
// deadline; callbacks due at the same instant run in scheduling order.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	pending []*virtualTimer
	seq     uint64
}

type virtualTimer struct {
	due     time.Time
	seq     uint64
	f       func()
	fired   bool
	stopped bool
}

func (t *virtualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewVirtual creates a Virtual clock starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTimer{due: v.now.Add(d), seq: v.seq, f: f}
	v.pending = append(v.pending, t)
	return t
}

// Advance moves virtual time forward by d, synchronously firing every timer
// whose deadline falls at or before the new time, in (due, registration
// order). Callbacks fired during Advance may themselves schedule new timers;
// those are eligible to fire within the same Advance call if their deadline
// is still covered.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		var due *virtualTimer
		dueIdx := -1
		for i, t := range v.pending {
			if t.fired || t.stopped {
				continue
			}
			if t.due.After(target) {
				continue
			}
			if due == nil || t.due.Before(due.due) || (t.due.Equal(due.due) && t.seq < due.seq) {
				due = t
				dueIdx = i
			}
		}
		if due == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		due.fired = true
		v.now = due.due
		v.pending = append(v.pending[:dueIdx], v.pending[dueIdx+1:]...)
		v.mu.Unlock()

		due.f()
	}
}
