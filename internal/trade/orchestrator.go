// Package trade submits simulated trades and schedules the follow-up snapshot refresh.
package trade

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"streakwatch/internal/loyalty"
)

// DefaultSettleDelay is the wait between a confirmed write and the re-read.
const DefaultSettleDelay = 2 * time.Second

// Submitter sends the simulateTrade transaction.
type Submitter interface {
	SimulateTrade(ctx context.Context, user common.Address, amount *big.Int) (loyalty.TxHandle, error)
}

// Options tune an Orchestrator.
type Options struct {
	SettleDelay  time.Duration
	Tokens       map[string]int32
	DefaultToken string
	// Refresh runs once, SettleDelay after each successful submission.
	Refresh func(account common.Address)
	// OnBusy observes busy transitions.
	OnBusy func(account common.Address, busy bool)
	Now    func() time.Time
}

// Orchestrator allows at most one in-flight write per account.
type Orchestrator struct {
	submitter    Submitter
	settleDelay  time.Duration
	tokens       map[string]int32
	defaultToken string
	refresh      func(common.Address)
	onBusy       func(common.Address, bool)
	now          func() time.Time
	logger       zerolog.Logger

	mu       sync.Mutex
	inflight map[common.Address]bool
	pending  map[*time.Timer]struct{}
	closed   bool
}

// New constructs an Orchestrator.
func New(submitter Submitter, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	tokens := make(map[string]int32, len(opts.Tokens))
	for symbol, decimals := range opts.Tokens {
		tokens[strings.ToUpper(symbol)] = decimals
	}
	if len(tokens) == 0 {
		for symbol, decimals := range DefaultTokens {
			tokens[symbol] = decimals
		}
	}
	if opts.DefaultToken == "" {
		opts.DefaultToken = "ETH"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		submitter:    submitter,
		settleDelay:  opts.SettleDelay,
		tokens:       tokens,
		defaultToken: strings.ToUpper(opts.DefaultToken),
		refresh:      opts.Refresh,
		onBusy:       opts.OnBusy,
		now:          opts.Now,
		logger:       logger.With().Str("component", "trade_orchestrator").Logger(),
		inflight:     make(map[common.Address]bool),
		pending:      make(map[*time.Timer]struct{}),
	}
}

// Submit validates the input, sends the trade and schedules the deferred refresh.
// Validation failures never reach the network.
func (o *Orchestrator) Submit(ctx context.Context, account common.Address, amount, token string) (loyalty.TxHandle, error) {
	if account == (common.Address{}) {
		return loyalty.TxHandle{}, &loyalty.ValidationError{Field: "account", Reason: "no account connected"}
	}
	symbol, decimals, err := o.resolveToken(token)
	if err != nil {
		return loyalty.TxHandle{}, err
	}
	units, err := ParseAmount(amount, decimals)
	if err != nil {
		return loyalty.TxHandle{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return loyalty.TxHandle{}, loyalty.ErrClosed
	}
	if o.inflight[account] {
		o.mu.Unlock()
		return loyalty.TxHandle{}, loyalty.ErrBusy
	}
	o.inflight[account] = true
	o.mu.Unlock()
	o.setBusy(account, true)

	id := uuid.NewString()
	logger := o.logger.With().Str("trade_id", id).Str("account", account.Hex()).Str("token", symbol).Logger()
	logger.Info().Str("amount", FormatAmount(units, decimals)).Msg("submitting simulated trade")

	handle, err := o.submitter.SimulateTrade(ctx, account, units)

	o.mu.Lock()
	delete(o.inflight, account)
	scheduled := false
	if err == nil && !o.closed {
		o.scheduleLocked(account)
		scheduled = true
	}
	o.mu.Unlock()
	o.setBusy(account, false)

	if err != nil {
		logger.Error().Err(err).Msg("simulated trade failed")
		var writeErr *loyalty.WriteError
		if !errors.As(err, &writeErr) {
			err = &loyalty.WriteError{Err: err}
		}
		return loyalty.TxHandle{}, err
	}

	handle.ID = id
	handle.Account = account
	handle.Token = symbol
	handle.Amount = units
	if handle.SubmittedAt.IsZero() {
		handle.SubmittedAt = o.now().UTC()
	}
	logger.Info().Str("tx", handle.Hash.Hex()).Bool("refresh_scheduled", scheduled).Msg("simulated trade confirmed")
	return handle, nil
}

// Busy reports whether a write is in flight for account.
func (o *Orchestrator) Busy(account common.Address) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[account]
}

// Pending returns the number of deferred refreshes not yet fired.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Tokens returns the supported token symbols and decimals.
func (o *Orchestrator) Tokens() map[string]int32 {
	out := make(map[string]int32, len(o.tokens))
	for k, v := range o.tokens {
		out[k] = v
	}
	return out
}

// Close cancels pending refreshes. Submissions still in flight complete but
// schedule nothing.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for t := range o.pending {
		t.Stop()
	}
	o.pending = make(map[*time.Timer]struct{})
}

func (o *Orchestrator) scheduleLocked(account common.Address) {
	if o.refresh == nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(o.settleDelay, func() {
		o.mu.Lock()
		_, live := o.pending[t]
		delete(o.pending, t)
		closed := o.closed
		o.mu.Unlock()
		if !live || closed {
			return
		}
		o.refresh(account)
	})
	o.pending[t] = struct{}{}
}

func (o *Orchestrator) resolveToken(token string) (string, int32, error) {
	symbol := strings.ToUpper(strings.TrimSpace(token))
	if symbol == "" {
		symbol = o.defaultToken
	}
	decimals, ok := o.tokens[symbol]
	if !ok {
		return "", 0, &loyalty.ValidationError{Field: "token", Reason: "unsupported token " + symbol}
	}
	return symbol, decimals, nil
}

func (o *Orchestrator) setBusy(account common.Address, busy bool) {
	if o.onBusy != nil {
		o.onBusy(account, busy)
	}
}
