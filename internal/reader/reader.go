// Package reader turns the two loyalty hook reads into one snapshot per account.
package reader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"streakwatch/internal/loyalty"
)

// Source performs the read-only contract calls.
type Source interface {
	StreakInfo(ctx context.Context, user common.Address) (loyalty.StreakInfo, error)
	FeeForUser(ctx context.Context, user common.Address) (uint64, error)
}

// State is what consumers observe. Snapshot is nil until both reads for the
// current account have landed.
type State struct {
	Account  common.Address
	Snapshot *loyalty.Snapshot
	Err      error
	Loading  bool
}

// Ready reports whether a snapshot for the current account is available.
func (s State) Ready() bool {
	return s.Snapshot != nil
}

// Options tune a Reader.
type Options struct {
	Policy  loyalty.Policy
	Timeout time.Duration
	Now     func() time.Time
	// OnUpdate is called after every state change with the epoch it belongs to.
	OnUpdate func(epoch uint64, state State)
}

// Reader owns the snapshot of the active account.
type Reader struct {
	source   Source
	policy   loyalty.Policy
	timeout  time.Duration
	now      func() time.Time
	onUpdate func(uint64, State)
	logger   zerolog.Logger

	mu        sync.Mutex
	epoch     uint64
	seq       uint64
	committed uint64
	inflight  int
	closed    bool
	state     State
}

// New constructs a Reader with no account.
func New(source Source, opts Options, logger zerolog.Logger) *Reader {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == (loyalty.Policy{}) {
		opts.Policy = loyalty.DefaultPolicy()
	}
	return &Reader{
		source:   source,
		policy:   opts.Policy,
		timeout:  opts.Timeout,
		now:      opts.Now,
		onUpdate: opts.OnUpdate,
		logger:   logger.With().Str("component", "snapshot_reader").Logger(),
	}
}

// SetAccount switches the active account and drops the previous snapshot.
// The zero address means disconnected.
func (r *Reader) SetAccount(account common.Address) uint64 {
	r.mu.Lock()
	r.epoch++
	r.committed = r.seq
	r.inflight = 0
	r.state = State{Account: account}
	epoch, st := r.epoch, r.state
	r.mu.Unlock()

	r.notify(epoch, st)
	return epoch
}

// Epoch identifies the current account generation.
func (r *Reader) Epoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// State returns the current state.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns the current snapshot, or the zero snapshot when none has landed.
func (r *Reader) Snapshot() loyalty.Snapshot {
	st := r.State()
	if st.Snapshot == nil {
		return loyalty.ZeroSnapshot(st.Account, r.policy)
	}
	return *st.Snapshot
}

// Refresh re-issues both reads for the current account. It returns
// loyalty.ErrStaleAccount when the account changed while the reads were in flight.
func (r *Reader) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return loyalty.ErrClosed
	}
	account := r.state.Account
	if account == (common.Address{}) {
		r.mu.Unlock()
		return nil
	}
	r.seq++
	epoch, seq := r.epoch, r.seq
	r.inflight++
	r.state.Loading = true
	st := r.state
	r.mu.Unlock()
	r.notify(epoch, st)

	snap, err := r.fetch(ctx, account)

	r.mu.Lock()
	if r.closed || r.epoch != epoch {
		r.mu.Unlock()
		r.logger.Debug().Str("account", account.Hex()).Msg("discarding snapshot for previous account")
		return loyalty.ErrStaleAccount
	}
	r.inflight--
	r.state.Loading = r.inflight > 0
	switch {
	case err != nil:
		r.state.Err = err
	case seq > r.committed:
		r.committed = seq
		r.state.Snapshot = &snap
		r.state.Err = nil
	}
	st = r.state
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn().Err(err).Str("account", account.Hex()).Msg("snapshot refresh failed; keeping previous snapshot")
	} else {
		r.logger.Debug().Str("account", account.Hex()).
			Uint64("streak", snap.StreakCount).
			Uint32("fee_bps", snap.FeeBps).
			Int64("deadline", snap.NextDeadline).
			Msg("snapshot refreshed")
	}
	r.notify(epoch, st)
	return err
}

// Close makes every later or in-flight result a no-op.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.epoch++
}

func (r *Reader) fetch(ctx context.Context, account common.Address) (loyalty.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		info loyalty.StreakInfo
		fee  uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.source.StreakInfo(gctx, account)
		if err != nil {
			return &loyalty.ReadError{Op: "getUserStreakInfo", Err: err}
		}
		info = v
		return nil
	})
	g.Go(func() error {
		v, err := r.source.FeeForUser(gctx, account)
		if err != nil {
			return &loyalty.ReadError{Op: "getFeeForUser", Err: err}
		}
		fee = v
		return nil
	})
	if err := g.Wait(); err != nil {
		var readErr *loyalty.ReadError
		if !errors.As(err, &readErr) {
			err = &loyalty.ReadError{Op: "snapshot", Err: err}
		}
		return loyalty.Snapshot{}, err
	}

	return loyalty.NewSnapshot(account, info, fee, r.policy, r.now().UTC()), nil
}

func (r *Reader) notify(epoch uint64, st State) {
	if r.onUpdate != nil {
		r.onUpdate(epoch, st)
	}
}
