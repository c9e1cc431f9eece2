package countdown

import (
	"sync"
	"time"
)

// DefaultInterval is the recompute cadence of a running timer.
const DefaultInterval = time.Second

// Options tune a Timer.
type Options struct {
	Interval time.Duration
	Now      func() time.Time
	// OnTick receives every recomputed state. It runs outside the timer lock.
	OnTick func(State)
}

// Timer recomputes a countdown on a fixed interval while a deadline is set.
// No goroutine or ticker is held while the deadline is zero.
type Timer struct {
	interval time.Duration
	now      func() time.Time
	onTick   func(State)

	mu       sync.Mutex
	deadline int64
	state    State
	gen      uint64
	stop     chan struct{}
}

// NewTimer constructs an idle timer.
func NewTimer(opts Options) *Timer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Timer{
		interval: opts.Interval,
		now:      opts.Now,
		onTick:   opts.OnTick,
		state:    State{Phase: Inactive},
	}
}

// SetDeadline recomputes immediately and restarts ticking for the new deadline.
// Any previously scheduled tick is discarded.
func (t *Timer) SetDeadline(deadline int64) {
	t.mu.Lock()
	t.gen++
	t.halt()
	t.deadline = deadline
	t.state = Compute(deadline, t.now().Unix())
	st := t.state
	if deadline != 0 {
		stop := make(chan struct{})
		t.stop = stop
		go t.run(t.gen, stop)
	}
	t.mu.Unlock()

	t.emit(st)
}

// Stop releases the ticker. The last state stays readable.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.halt()
}

// State returns the last computed state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Deadline returns the deadline currently counted towards.
func (t *Timer) Deadline() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Running reports whether a ticker is held.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) halt() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Timer) run(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.gen != gen {
				t.mu.Unlock()
				return
			}
			t.state = Compute(t.deadline, t.now().Unix())
			st := t.state
			t.mu.Unlock()

			t.emit(st)
		}
	}
}

func (t *Timer) emit(st State) {
	if t.onTick != nil {
		t.onTick(st)
	}
}
