package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakwatch/internal/alerting"
	"streakwatch/internal/countdown"
	"streakwatch/internal/loyalty"
	"streakwatch/internal/telemetry"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type account struct {
	streak   int64
	fee      uint64
	deadline int64
	events   []telemetry.RawEntry
	gate     chan struct{}
}

type fakeChain struct {
	mu       sync.Mutex
	accounts map[common.Address]*account
	reads    map[common.Address]int
	trades   atomic.Int32
	tradeErr error
	live     chan telemetry.RawEntry
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		accounts: make(map[common.Address]*account),
		reads:    make(map[common.Address]int),
		live:     make(chan telemetry.RawEntry, 4),
	}
}

func (f *fakeChain) set(addr common.Address, a *account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = a
}

func (f *fakeChain) get(addr common.Address) *account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[addr]; ok {
		return a
	}
	return &account{}
}

func (f *fakeChain) readCount(addr common.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[addr]
}

func (f *fakeChain) StreakInfo(ctx context.Context, user common.Address) (loyalty.StreakInfo, error) {
	a := f.get(user)
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return loyalty.StreakInfo{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.reads[user]++
	f.mu.Unlock()
	return loyalty.StreakInfo{
		LastTradeTimestamp: big.NewInt(1_700_000_000),
		CurrentStreak:      big.NewInt(a.streak),
		TotalVolume:        new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18)),
		LastTradeDay:       big.NewInt(19676),
		NextStreakDeadline: big.NewInt(a.deadline),
	}, nil
}

func (f *fakeChain) FeeForUser(_ context.Context, user common.Address) (uint64, error) {
	return f.get(user).fee, nil
}

func (f *fakeChain) SimulateTrade(_ context.Context, user common.Address, amount *big.Int) (loyalty.TxHandle, error) {
	f.trades.Add(1)
	if f.tradeErr != nil {
		return loyalty.TxHandle{}, f.tradeErr
	}
	return loyalty.TxHandle{Hash: common.HexToHash("0x01"), BlockNumber: 42}, nil
}

func (f *fakeChain) BackfillStreakEvents(_ context.Context, user common.Address, _ uint64) ([]telemetry.RawEntry, uint64, error) {
	return f.get(user).events, 100, nil
}

func (f *fakeChain) WatchStreakEvents(ctx context.Context, _ common.Address, _ uint64, sink func(telemetry.RawEntry)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-f.live:
			sink(entry)
		}
	}
}

type memRecorder struct {
	mu        sync.Mutex
	events    []telemetry.Event
	snapshots []loyalty.Snapshot
}

func (m *memRecorder) RecordEvent(_ context.Context, ev telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRecorder) RecordSnapshot(_ context.Context, snap loyalty.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *memRecorder) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), len(m.snapshots)
}

type countingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *countingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func entry(user common.Address, block uint64, idx uint, streak int64) telemetry.RawEntry {
	return telemetry.RawEntry{
		User:            user,
		BlockNumber:     block,
		LogIndex:        idx,
		HasLogIndex:     true,
		NewStreak:       big.NewInt(streak),
		DiscountApplied: big.NewInt(15),
	}
}

func newSession(t *testing.T, chain *fakeChain, deps Deps, opts Options) *Session {
	t.Helper()
	if deps.Source == nil {
		d := DepsFromChain(chain)
		d.Recorder = deps.Recorder
		d.Notifier = deps.Notifier
		deps = d
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 20 * time.Millisecond
	}
	s := New(context.Background(), deps, opts, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestDisconnectedShowsZeroState(t *testing.T) {
	chain := newFakeChain()
	s := newSession(t, chain, Deps{}, Options{})

	require.NoError(t, s.SetAccount(common.Address{}))
	view := s.View()

	assert.False(t, view.Connected())
	assert.False(t, view.Ready)
	assert.Equal(t, uint32(30), view.Snapshot.FeeBps)
	assert.Equal(t, countdown.Inactive, view.Countdown.Phase)
	assert.Empty(t, view.Events)
	assert.Zero(t, chain.readCount(common.Address{}))
}

func TestConnectLoadsSnapshotCountdownAndFeed(t *testing.T) {
	chain := newFakeChain()
	deadline := time.Now().Add(5 * time.Hour).Unix()
	chain.set(alice, &account{
		streak:   4,
		fee:      15,
		deadline: deadline,
		events:   []telemetry.RawEntry{entry(alice, 10, 0, 3), entry(alice, 12, 1, 4), entry(bob, 11, 0, 9)},
	})
	rec := &memRecorder{}
	s := newSession(t, chain, Deps{Recorder: rec}, Options{})

	require.NoError(t, s.SetAccount(alice))

	require.Eventually(t, func() bool {
		v := s.View()
		return v.Ready && len(v.Events) == 2
	}, 2*time.Second, 5*time.Millisecond)

	view := s.View()
	assert.Equal(t, uint64(4), view.Snapshot.StreakCount)
	assert.True(t, view.Tier.Hot)
	assert.True(t, view.Tier.Discounted)
	assert.Equal(t, countdown.Counting, view.Countdown.Phase)
	assert.Equal(t, deadline, view.Countdown.Deadline)
	assert.Equal(t, uint64(12), view.Events[0].ID.Block)

	chain.live <- entry(alice, 13, 0, 5)
	require.Eventually(t, func() bool { return len(s.View().Events) == 3 }, time.Second, 5*time.Millisecond)

	events, snapshots := rec.counts()
	assert.Equal(t, 3, events)
	assert.Equal(t, 1, snapshots)
}

func TestAccountSwitchDiscardsPreviousResults(t *testing.T) {
	chain := newFakeChain()
	gate := make(chan struct{})
	chain.set(alice, &account{streak: 7, fee: 15, deadline: time.Now().Add(time.Hour * 3).Unix(), gate: gate})
	chain.set(bob, &account{streak: 1, fee: 30, events: []telemetry.RawEntry{entry(bob, 5, 0, 1)}})
	s := newSession(t, chain, Deps{}, Options{})

	require.NoError(t, s.SetAccount(alice))
	require.NoError(t, s.SetAccount(bob))
	close(gate)

	require.Eventually(t, func() bool { return s.View().Ready }, 2*time.Second, 5*time.Millisecond)
	// give alice's late read a chance to land
	time.Sleep(30 * time.Millisecond)

	view := s.View()
	assert.Equal(t, bob, view.Account)
	assert.Equal(t, uint64(1), view.Snapshot.StreakCount)
	assert.Equal(t, countdown.Inactive, view.Countdown.Phase)
	for _, ev := range view.Events {
		assert.Equal(t, bob, ev.User)
	}
}

func TestViewNeverMixesAccountsDuringSwitches(t *testing.T) {
	chain := newFakeChain()
	chain.set(alice, &account{streak: 2, fee: 30, events: []telemetry.RawEntry{entry(alice, 10, 0, 1), entry(alice, 11, 0, 2)}})
	chain.set(bob, &account{streak: 5, fee: 15, events: []telemetry.RawEntry{entry(bob, 20, 0, 4), entry(bob, 21, 0, 5)}})
	s := newSession(t, chain, Deps{}, Options{})

	stop := make(chan struct{})
	var mixed atomic.Int32
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			view := s.View()
			for _, ev := range view.Events {
				if ev.User != view.Account {
					mixed.Add(1)
				}
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		next := alice
		if i%2 == 1 {
			next = bob
		}
		require.NoError(t, s.SetAccount(next))
	}
	close(stop)
	watcher.Wait()

	assert.Zero(t, mixed.Load(), "a view paired one account with another account's events")
}

func TestSharedDeadlineAlertsEachAccount(t *testing.T) {
	chain := newFakeChain()
	deadline := time.Now().Add(30 * time.Minute).Unix()
	chain.set(alice, &account{streak: 3, fee: 15, deadline: deadline})
	chain.set(bob, &account{streak: 6, fee: 15, deadline: deadline})
	notifier := &countingNotifier{}
	s := newSession(t, chain, Deps{Notifier: notifier}, Options{TimerInterval: 5 * time.Millisecond})

	require.NoError(t, s.SetAccount(alice))
	require.Eventually(t, func() bool { return notifier.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.SetAccount(bob))
	require.Eventually(t, func() bool { return notifier.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, alice, notifier.notes[0].Account)
	assert.Equal(t, bob, notifier.notes[1].Account)
	assert.Equal(t, notifier.notes[0].Deadline, notifier.notes[1].Deadline)
}

func TestSubmitSchedulesOneRefresh(t *testing.T) {
	chain := newFakeChain()
	chain.set(alice, &account{streak: 2, fee: 30})
	s := newSession(t, chain, Deps{}, Options{SettleDelay: 40 * time.Millisecond})

	require.NoError(t, s.SetAccount(alice))
	require.Eventually(t, func() bool { return s.View().Ready }, time.Second, 5*time.Millisecond)
	before := chain.readCount(alice)

	handle, err := s.Submit(context.Background(), "1.5", "ETH")
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.False(t, s.View().Busy)
	require.NotNil(t, s.View().LastTrade)

	require.Eventually(t, func() bool { return chain.readCount(alice) == before+1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, before+1, chain.readCount(alice))
}

func TestSubmitValidationNeverReachesChain(t *testing.T) {
	chain := newFakeChain()
	s := newSession(t, chain, Deps{}, Options{})
	require.NoError(t, s.SetAccount(alice))

	_, err := s.Submit(context.Background(), "abc", "")
	require.Error(t, err)
	assert.True(t, loyalty.IsValidation(err))
	assert.Zero(t, chain.trades.Load())
	assert.Error(t, s.View().TradeErr)
}

func TestSubmitFailureIsWriteError(t *testing.T) {
	chain := newFakeChain()
	chain.tradeErr = errors.New("reverted")
	s := newSession(t, chain, Deps{}, Options{})
	require.NoError(t, s.SetAccount(alice))

	_, err := s.Submit(context.Background(), "1", "")
	var writeErr *loyalty.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.False(t, s.View().Busy)
}

func TestExpiringDeadlineAlertsOnce(t *testing.T) {
	chain := newFakeChain()
	chain.set(alice, &account{streak: 3, fee: 15, deadline: time.Now().Add(30 * time.Minute).Unix()})
	notifier := &countingNotifier{}
	s := newSession(t, chain, Deps{Notifier: notifier}, Options{TimerInterval: 5 * time.Millisecond})

	require.NoError(t, s.SetAccount(alice))
	require.Eventually(t, func() bool { return notifier.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.View().Countdown.Urgent())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, notifier.count())
}

func TestCloseStopsEverything(t *testing.T) {
	chain := newFakeChain()
	chain.set(alice, &account{streak: 1, fee: 30, deadline: time.Now().Add(2 * time.Hour).Unix()})
	s := New(context.Background(), DepsFromChain(chain), Options{}, zerolog.Nop())

	require.NoError(t, s.SetAccount(alice))
	require.Eventually(t, func() bool { return s.View().Ready }, time.Second, 5*time.Millisecond)

	s.Close()
	s.Close()

	assert.ErrorIs(t, s.SetAccount(bob), loyalty.ErrClosed)
	_, err := s.Submit(context.Background(), "1", "")
	assert.ErrorIs(t, err, loyalty.ErrClosed)
}
