// Package countdown derives the live countdown to a streak deadline.
package countdown

import "fmt"

// Phase enumerates the countdown states.
type Phase int

const (
	// Inactive means there is no deadline to count towards.
	Inactive Phase = iota
	// Counting means at least an hour remains.
	Counting
	// Expiring means less than an hour remains.
	Expiring
	// Expired means the deadline has passed.
	Expired
)

// ExpiringWindow is the remaining time, in seconds, below which a countdown is urgent.
const ExpiringWindow int64 = 3600

func (p Phase) String() string {
	switch p {
	case Inactive:
		return "inactive"
	case Counting:
		return "counting"
	case Expiring:
		return "expiring"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is one countdown observation. Hours, Minutes and Seconds are only set
// while Counting or Expiring.
type State struct {
	Phase     Phase
	Deadline  int64
	Remaining int64
	Hours     string
	Minutes   string
	Seconds   string
}

// Urgent reports whether less than an hour remains.
func (s State) Urgent() bool {
	return s.Phase == Expiring
}

// Active reports whether a countdown is displayed.
func (s State) Active() bool {
	return s.Phase == Counting || s.Phase == Expiring
}

// Clock renders the remaining time as HH:MM:SS, or an empty string when inactive.
func (s State) Clock() string {
	if !s.Active() {
		return ""
	}
	return s.Hours + ":" + s.Minutes + ":" + s.Seconds
}

// Compute derives the state for a deadline at now, both in Unix seconds.
func Compute(deadline, now int64) State {
	if deadline == 0 {
		return State{Phase: Inactive}
	}
	remaining := deadline - now
	if remaining <= 0 {
		return State{Phase: Expired, Deadline: deadline}
	}

	phase := Counting
	if remaining < ExpiringWindow {
		phase = Expiring
	}
	return State{
		Phase:     phase,
		Deadline:  deadline,
		Remaining: remaining,
		Hours:     pad(remaining / 3600),
		Minutes:   pad((remaining % 3600) / 60),
		Seconds:   pad(remaining % 60),
	}
}

func pad(v int64) string {
	return fmt.Sprintf("%02d", v)
}
