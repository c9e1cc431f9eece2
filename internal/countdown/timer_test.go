package countdown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTimerIdleWithoutDeadline(t *testing.T) {
	var ticks atomic.Int32
	timer := NewTimer(Options{Interval: time.Millisecond, OnTick: func(State) { ticks.Add(1) }})

	timer.SetDeadline(0)

	assert.False(t, timer.Running())
	assert.Equal(t, Inactive, timer.State().Phase)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ticks.Load(), "only the immediate recompute should fire")
}

func TestTimerRecomputesImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var last atomic.Value
	timer := NewTimer(Options{Interval: time.Hour, Now: clock.Now, OnTick: func(st State) { last.Store(st) }})
	defer timer.Stop()

	timer.SetDeadline(clock.Now().Unix() + 125)

	st := timer.State()
	assert.Equal(t, "00:02:05", st.Clock())
	assert.Equal(t, st, last.Load().(State))
	assert.True(t, timer.Running())
}

func TestTimerTicks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	timer := NewTimer(Options{Interval: 5 * time.Millisecond, Now: clock.Now})
	defer timer.Stop()

	timer.SetDeadline(clock.Now().Unix() + 45)
	require.Equal(t, "00:00:45", timer.State().Clock())

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return timer.State().Clock() == "00:00:40"
	}, time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return timer.State().Phase == Expired
	}, time.Second, time.Millisecond)
	assert.True(t, timer.Running(), "timer keeps running while the deadline is set")
}

func TestTimerDeadlineChangeReplacesTicker(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	timer := NewTimer(Options{Interval: 5 * time.Millisecond, Now: clock.Now})
	defer timer.Stop()

	timer.SetDeadline(clock.Now().Unix() + 30)
	timer.SetDeadline(clock.Now().Unix() + 7200)

	assert.Equal(t, Counting, timer.State().Phase)
	assert.Equal(t, clock.Now().Unix()+7200, timer.Deadline())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "02:00:00", timer.State().Clock(), "the old ticker must not overwrite the new deadline")

	timer.SetDeadline(0)
	assert.False(t, timer.Running())
	assert.Equal(t, Inactive, timer.State().Phase)
}

func TestTimerStopReleasesTicker(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var ticks atomic.Int32
	timer := NewTimer(Options{Interval: 2 * time.Millisecond, Now: clock.Now, OnTick: func(State) { ticks.Add(1) }})

	timer.SetDeadline(clock.Now().Unix() + 600)
	timer.Stop()
	assert.False(t, timer.Running())

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}
