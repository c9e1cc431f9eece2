package telemetry

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCapacity is the number of events retained per account.
const DefaultCapacity = 10

// Feed is the deduplicated, ordered and capped event set of one account.
// Entries are kept ascending by ID and exposed most-recent-first.
type Feed struct {
	capacity  int
	maxFeeBps uint32

	mu       sync.Mutex
	account  common.Address
	events   []Event
	index    map[ID]struct{}
	arrivals uint64
}

// NewFeed builds an empty feed with no active account.
func NewFeed(capacity int, maxFeeBps uint32) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity:  capacity,
		maxFeeBps: maxFeeBps,
		index:     make(map[ID]struct{}, capacity),
	}
}

// Reset discards every retained event and switches to account.
func (f *Feed) Reset(account common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = account
	f.events = nil
	f.index = make(map[ID]struct{}, f.capacity)
	f.arrivals = 0
}

// Account returns the account the feed accepts entries for.
func (f *Feed) Account() common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

// Ingest adds raw to the feed. It returns the normalised event and true only when
// the retained set changed by inserting it.
func (f *Feed) Ingest(raw RawEntry) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ingestLocked(raw)
}

// IngestAll ingests a batch and returns the events that were inserted.
func (f *Feed) IngestAll(raws []RawEntry) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := make([]Event, 0, len(raws))
	for _, raw := range raws {
		if ev, ok := f.ingestLocked(raw); ok {
			added = append(added, ev)
		}
	}
	return added
}

func (f *Feed) ingestLocked(raw RawEntry) (Event, bool) {
	if f.account == (common.Address{}) || raw.User != f.account {
		return Event{}, false
	}

	id := raw.ID()
	if raw.Removed {
		f.removeLocked(id)
		return Event{}, false
	}
	if _, seen := f.index[id]; seen {
		return Event{}, false
	}
	if len(f.events) >= f.capacity && id.Less(f.events[0].ID) {
		// older than everything retained; it would be evicted straight away
		return Event{}, false
	}

	f.arrivals++
	ev := Normalize(raw, f.maxFeeBps, f.arrivals)

	pos := sort.Search(len(f.events), func(i int) bool { return id.Less(f.events[i].ID) })
	f.events = append(f.events, Event{})
	copy(f.events[pos+1:], f.events[pos:])
	f.events[pos] = ev
	f.index[id] = struct{}{}

	for len(f.events) > f.capacity {
		delete(f.index, f.events[0].ID)
		f.events = f.events[1:]
	}
	return ev, true
}

func (f *Feed) removeLocked(id ID) {
	if _, ok := f.index[id]; !ok {
		return
	}
	delete(f.index, id)
	for i, ev := range f.events {
		if ev.ID == id {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return
		}
	}
}

// Recent returns the retained events, most recent first.
func (f *Feed) Recent() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recentLocked()
}

func (f *Feed) recentLocked() []Event {
	out := make([]Event, len(f.events))
	for i, ev := range f.events {
		out[len(f.events)-1-i] = ev
	}
	return out
}

// RecentFor is Recent guarded by the active account: it returns nil when the
// feed belongs to another account.
func (f *Feed) RecentFor(account common.Address) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account != account {
		return nil
	}
	return f.recentLocked()
}

// Len returns the number of retained events.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// Capacity returns the retention cap.
func (f *Feed) Capacity() int {
	return f.capacity
}

// LatestBlock returns the highest retained block number, 0 when empty.
func (f *Feed) LatestBlock() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return 0
	}
	return f.events[len(f.events)-1].ID.Block
}
