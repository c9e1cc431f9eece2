// Package session is the live state container of one connected wallet. It owns
// the active account and keeps the snapshot reader, countdown, event feed and
// trade orchestrator consistent with it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"streakwatch/internal/alerting"
	"streakwatch/internal/countdown"
	"streakwatch/internal/loyalty"
	"streakwatch/internal/reader"
	"streakwatch/internal/scheduler"
	"streakwatch/internal/telemetry"
	"streakwatch/internal/trade"
)

// EventSource delivers StreakUpdated logs for one account.
type EventSource interface {
	BackfillStreakEvents(ctx context.Context, user common.Address, fromBlock uint64) ([]telemetry.RawEntry, uint64, error)
	WatchStreakEvents(ctx context.Context, user common.Address, fromBlock uint64, sink func(telemetry.RawEntry)) error
}

// Chain is everything a session needs from the contract.
type Chain interface {
	reader.Source
	trade.Submitter
	EventSource
}

// Deps are the collaborators of a Session. Events, Recorder and Notifier are optional.
type Deps struct {
	Source    reader.Source
	Submitter trade.Submitter
	Events    EventSource
	Recorder  Recorder
	Notifier  alerting.Notifier
}

// DepsFromChain fills the chain-facing dependencies from one client.
func DepsFromChain(c Chain) Deps {
	return Deps{Source: c, Submitter: c, Events: c}
}

// Options tune a Session.
type Options struct {
	Policy           loyalty.Policy
	PollInterval     time.Duration
	ReadTimeout      time.Duration
	FeedCapacity     int
	StreamRetryDelay time.Duration
	StartBlock       uint64
	SettleDelay      time.Duration
	Tokens           map[string]int32
	DefaultToken     string
	TimerInterval    time.Duration
	AlertChannels    []string
	AlertTimeout     time.Duration
	Now              func() time.Time
}

// View is an immutable picture of the session at one instant.
type View struct {
	Account   common.Address
	Policy    loyalty.Policy
	Snapshot  loyalty.Snapshot
	Ready     bool
	Loading   bool
	ReadErr   error
	Tier      loyalty.Tier
	Countdown countdown.State
	Events    []telemetry.Event
	Busy      bool
	LastTrade *loyalty.TxHandle
	TradeErr  error
}

// Connected reports whether an account is active.
func (v View) Connected() bool {
	return v.Account != (common.Address{})
}

// Session wires Reader, Timer, Feed and Orchestrator around the active account.
type Session struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	reader *reader.Reader
	timer  *countdown.Timer
	feed   *telemetry.Feed
	trades *trade.Orchestrator

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	changes chan struct{}

	// switchMu serialises SetAccount calls; callbacks never take it.
	switchMu sync.Mutex

	mu         sync.Mutex
	account    common.Address
	epoch      uint64
	taskCancel context.CancelFunc
	lastSnap   *loyalty.Snapshot
	lastTrade  *loyalty.TxHandle
	tradeErr   error
	closed     bool

	// alerted is the last (account, deadline) an expiry alert went out for.
	alertMu sync.Mutex
	alerted alertKey
}

type alertKey struct {
	account  common.Address
	deadline int64
}

// New builds a disconnected session. Call SetAccount to start it.
func New(parent context.Context, deps Deps, opts Options, logger zerolog.Logger) *Session {
	if opts.Policy == (loyalty.Policy{}) {
		opts.Policy = loyalty.DefaultPolicy()
	}
	if opts.FeedCapacity <= 0 {
		opts.FeedCapacity = telemetry.DefaultCapacity
	}
	if opts.StreamRetryDelay <= 0 {
		opts.StreamRetryDelay = 5 * time.Second
	}
	if opts.AlertTimeout <= 0 {
		opts.AlertTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		deps:    deps,
		opts:    opts,
		logger:  logger.With().Str("component", "session").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		changes: make(chan struct{}, 1),
	}

	s.reader = reader.New(deps.Source, reader.Options{
		Policy:   opts.Policy,
		Timeout:  opts.ReadTimeout,
		Now:      opts.Now,
		OnUpdate: s.onReaderUpdate,
	}, logger)
	s.timer = countdown.NewTimer(countdown.Options{
		Interval: opts.TimerInterval,
		Now:      opts.Now,
		OnTick:   s.onTick,
	})
	s.feed = telemetry.NewFeed(opts.FeedCapacity, opts.Policy.MaxFeeBps)
	s.trades = trade.New(deps.Submitter, trade.Options{
		SettleDelay:  opts.SettleDelay,
		Tokens:       opts.Tokens,
		DefaultToken: opts.DefaultToken,
		Refresh:      s.onSettled,
		OnBusy:       func(common.Address, bool) { s.notify() },
		Now:          opts.Now,
	}, logger)
	return s
}

// Changes signals that View may have changed. Signals coalesce.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Account returns the active account.
func (s *Session) Account() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Tokens returns the tradeable token symbols and their decimals.
func (s *Session) Tokens() map[string]int32 {
	return s.trades.Tokens()
}

// SetAccount switches the active account. Everything derived from the previous
// account is discarded and its background tasks are cancelled. The zero address
// disconnects.
func (s *Session) SetAccount(account common.Address) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return loyalty.ErrClosed
	}
	if account == s.account && s.epoch != 0 {
		s.mu.Unlock()
		return nil
	}
	if s.taskCancel != nil {
		s.taskCancel()
		s.taskCancel = nil
	}
	s.account = account
	s.epoch = 0
	s.lastSnap = nil
	s.lastTrade = nil
	s.tradeErr = nil
	s.timer.SetDeadline(0)
	s.feed.Reset(account)
	s.mu.Unlock()

	epoch := s.reader.SetAccount(account)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return loyalty.ErrClosed
	}
	s.epoch = epoch
	if account != (common.Address{}) {
		taskCtx, cancel := context.WithCancel(s.ctx)
		s.taskCancel = cancel
		s.wg.Add(1)
		go s.pollLoop(taskCtx)
		if s.deps.Events != nil {
			s.wg.Add(1)
			go s.streamLoop(taskCtx, account)
		}
	}
	s.mu.Unlock()

	if account == (common.Address{}) {
		s.logger.Info().Msg("wallet disconnected")
	} else {
		s.logger.Info().Str("account", account.Hex()).Uint64("epoch", epoch).Msg("account activated")
	}
	s.notify()
	return nil
}

// Refresh re-reads the snapshot of the active account now.
func (s *Session) Refresh(ctx context.Context) error {
	err := s.reader.Refresh(ctx)
	if errors.Is(err, loyalty.ErrStaleAccount) {
		return nil
	}
	return err
}

// Submit sends a simulated trade for the active account. On success one
// snapshot refresh follows after the settle delay.
func (s *Session) Submit(ctx context.Context, amount, token string) (loyalty.TxHandle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return loyalty.TxHandle{}, loyalty.ErrClosed
	}
	account := s.account
	s.mu.Unlock()

	handle, err := s.trades.Submit(ctx, account, amount, token)

	s.mu.Lock()
	if s.account == account && !s.closed {
		if err == nil {
			h := handle
			s.lastTrade = &h
			s.tradeErr = nil
		} else if !errors.Is(err, loyalty.ErrClosed) {
			s.tradeErr = err
		}
	}
	s.mu.Unlock()
	s.notify()
	return handle, err
}

// View returns the current presentation state. With no snapshot the zero
// snapshot (fee at the maximum) is shown.
func (s *Session) View() View {
	s.mu.Lock()
	account := s.account
	lastTrade := s.lastTrade
	tradeErr := s.tradeErr
	events := s.feed.RecentFor(account)
	s.mu.Unlock()

	st := s.reader.State()
	ready := st.Snapshot != nil && st.Account == account
	snap := loyalty.ZeroSnapshot(account, s.opts.Policy)
	if ready {
		snap = *st.Snapshot
	}

	return View{
		Account:   account,
		Policy:    s.opts.Policy,
		Snapshot:  snap,
		Ready:     ready,
		Loading:   st.Loading,
		ReadErr:   st.Err,
		Tier:      s.opts.Policy.TierOf(snap),
		Countdown: s.timer.State(),
		Events:    events,
		Busy:      s.trades.Busy(account),
		LastTrade: lastTrade,
		TradeErr:  tradeErr,
	}
}

// Close stops the timer and every task, and cancels pending refreshes.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.taskCancel != nil {
		s.taskCancel()
		s.taskCancel = nil
	}
	s.mu.Unlock()

	s.trades.Close()
	s.reader.Close()
	s.timer.Stop()
	s.cancel()
	s.wg.Wait()
	s.logger.Debug().Msg("session closed")
}

func (s *Session) onReaderUpdate(epoch uint64, st reader.State) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	var deadline int64
	if st.Snapshot != nil {
		deadline = st.Snapshot.NextDeadline
	}
	if deadline != s.timer.Deadline() || (deadline != 0 && !s.timer.Running()) {
		s.timer.SetDeadline(deadline)
	}
	fresh := st.Snapshot != nil && st.Snapshot != s.lastSnap
	if fresh {
		s.lastSnap = st.Snapshot
	}
	s.mu.Unlock()

	if fresh {
		s.recordSnapshot(*st.Snapshot)
	}
	s.notify()
}

// onTick runs with s.mu possibly held by the caller of SetDeadline; it must not take it.
func (s *Session) onTick(st countdown.State) {
	s.notify()
	if st.Phase != countdown.Expiring || s.deps.Notifier == nil {
		return
	}

	snap := s.reader.Snapshot()
	if snap.NextDeadline != st.Deadline || snap.Account == (common.Address{}) {
		return
	}

	key := alertKey{account: snap.Account, deadline: st.Deadline}
	s.alertMu.Lock()
	if s.alerted == key {
		s.alertMu.Unlock()
		return
	}
	s.alerted = key
	s.alertMu.Unlock()

	note := alerting.Notification{
		Account:     snap.Account,
		StreakCount: snap.StreakCount,
		Deadline:    time.Unix(st.Deadline, 0),
		Remaining:   time.Duration(st.Remaining) * time.Second,
		FeePct:      loyalty.FeePercent(snap.FeeBps),
		DiscountPct: loyalty.FeePercent(s.opts.Policy.DiscountFeeBps),
		Channels:    s.opts.AlertChannels,
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.AlertTimeout)
		defer cancel()
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("account", note.Account.Hex()).Msg("failed to send expiry alert")
		}
	}()
}

func (s *Session) onSettled(account common.Address) {
	s.mu.Lock()
	live := !s.closed && s.account == account
	s.mu.Unlock()
	if !live {
		return
	}
	if err := s.Refresh(s.ctx); err != nil && !errors.Is(err, loyalty.ErrClosed) {
		s.logger.Warn().Err(err).Str("account", account.Hex()).Msg("post-trade refresh failed")
	}
}

func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	tick := func(ctx context.Context, _ time.Time) error {
		err := s.Refresh(ctx)
		var readErr *loyalty.ReadError
		if errors.As(err, &readErr) || errors.Is(err, loyalty.ErrClosed) {
			return nil
		}
		return err
	}

	if s.opts.PollInterval <= 0 {
		_ = tick(ctx, s.opts.Now())
		return
	}
	sched := scheduler.New(scheduler.Options{
		Name:           "snapshot_poller",
		Interval:       s.opts.PollInterval,
		RunImmediately: true,
	}, s.logger)
	_ = sched.Run(ctx, tick)
}

func (s *Session) streamLoop(ctx context.Context, account common.Address) {
	defer s.wg.Done()

	from := s.opts.StartBlock
	for {
		next, err := s.streamOnce(ctx, account, from)
		if next > from {
			from = next
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Str("account", account.Hex()).
			Uint64("resume_block", from).
			Dur("retry_in", s.opts.StreamRetryDelay).
			Msg("streak event stream interrupted")

		timer := time.NewTimer(s.opts.StreamRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// streamOnce backfills from `from`, then follows live logs. It returns the block
// to resume from.
func (s *Session) streamOnce(ctx context.Context, account common.Address, from uint64) (uint64, error) {
	entries, head, err := s.deps.Events.BackfillStreakEvents(ctx, account, from)
	if err != nil {
		return from, fmt.Errorf("backfill streak events: %w", err)
	}
	for _, entry := range entries {
		s.ingest(ctx, entry)
	}

	next := head + 1
	if next < from {
		next = from
	}
	err = s.deps.Events.WatchStreakEvents(ctx, account, next, func(entry telemetry.RawEntry) {
		s.ingest(ctx, entry)
	})
	if err == nil {
		err = errors.New("event stream closed")
	}
	return next, err
}

func (s *Session) ingest(ctx context.Context, entry telemetry.RawEntry) {
	if ctx.Err() != nil {
		return
	}
	ev, added := s.feed.Ingest(entry)
	if added {
		s.recordEvent(ctx, ev)
	}
	s.notify()
}

func (s *Session) recordEvent(ctx context.Context, ev telemetry.Event) {
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.RecordEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", ev.ID.String()).Msg("failed to persist streak event")
	}
}

func (s *Session) recordSnapshot(snap loyalty.Snapshot) {
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.RecordSnapshot(s.ctx, snap); err != nil {
		s.logger.Error().Err(err).Str("account", snap.Account.Hex()).Msg("failed to persist snapshot")
	}
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
