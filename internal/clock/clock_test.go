package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualAdvanceFiresDueTimers(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	var fired []string
	v.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
	v.AfterFunc(50*time.Millisecond, func() { fired = append(fired, "b") })
	v.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "c") })

	v.Advance(150 * time.Millisecond)

	assert.Equal(t, []string{"b", "a"}, fired)
	assert.Equal(t, time.Unix(0, 0).Add(150*time.Millisecond), v.Now())
}

func TestVirtualAdvanceNeverFiresTimerTwice(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	count := 0
	v.AfterFunc(10*time.Millisecond, func() { count++ })

	v.Advance(20 * time.Millisecond)
	v.Advance(20 * time.Millisecond)

	assert.Equal(t, 1, count)
}

func TestVirtualStopCancelsPendingTimer(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	fired := false
	timer := v.AfterFunc(10*time.Millisecond, func() { fired = true })

	ok := timer.Stop()
	require.True(t, ok)

	v.Advance(20 * time.Millisecond)
	assert.False(t, fired)

	ok = timer.Stop()
	assert.False(t, ok, "stopping an already-stopped timer returns false")
}

func TestVirtualRescheduleWithinAdvance(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))

	polls := 0
	var poll func()
	poll = func() {
		polls++
		if polls < 3 {
			v.AfterFunc(10*time.Millisecond, poll)
		}
	}
	v.AfterFunc(10*time.Millisecond, poll)

	v.Advance(100 * time.Millisecond)

	assert.Equal(t, 3, polls)
}
