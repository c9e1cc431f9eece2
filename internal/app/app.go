package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"streakwatch/internal/alerting"
	"streakwatch/internal/chain"
	"streakwatch/internal/config"
	"streakwatch/internal/loyalty"
	"streakwatch/internal/render"
	"streakwatch/internal/session"
	"streakwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
	In     io.Reader
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		In:     os.Stdin,
	}
}

func (a *App) newChainClient() *chain.Client {
	eth := a.Config.Ethereum
	return chain.NewClient(chain.Options{
		RPCURL:            eth.RPCURL,
		WSURL:             eth.WSURL,
		HookAddress:       eth.HookAddress,
		ChainID:           eth.ChainID,
		PrivateKey:        eth.PrivateKey,
		Timeout:           eth.RequestTimeout,
		ConfirmTimeout:    eth.ConfirmTimeout,
		RequestsPerSecond: eth.RequestsPerSecond,
		LogChunkSize:      eth.LogChunkSize,
		PollInterval:      eth.LogPollInterval,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Enabled() {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRenderer() (*render.Renderer, error) {
	theme, err := render.ThemeByName(a.Config.Presentation.Theme)
	if err != nil {
		return nil, err
	}
	return render.New(a.Out, theme, a.Config.Presentation.Color), nil
}

func (a *App) policy() loyalty.Policy {
	s := a.Config.Session
	p := loyalty.DefaultPolicy()
	if s.MaxFeeBps > 0 {
		p.MaxFeeBps = s.MaxFeeBps
	}
	if s.DiscountFeeBps > 0 {
		p.DiscountFeeBps = s.DiscountFeeBps
	}
	if s.HotStreakThreshold > 0 {
		p.HotStreakThreshold = s.HotStreakThreshold
	}
	return p
}

func (a *App) sessionOptions() session.Options {
	cfg := a.Config
	return session.Options{
		Policy:           a.policy(),
		PollInterval:     cfg.Session.PollInterval,
		ReadTimeout:      cfg.Ethereum.RequestTimeout,
		FeedCapacity:     cfg.Session.FeedCapacity,
		StreamRetryDelay: cfg.Session.StreamRetryDelay,
		StartBlock:       cfg.Ethereum.StartBlock,
		SettleDelay:      cfg.Trade.SettleDelay,
		Tokens:           cfg.Trade.Tokens,
		DefaultToken:     cfg.Trade.DefaultToken,
		AlertChannels:    cfg.Alerting.Channels,
		AlertTimeout:     cfg.Alerting.Timeout,
	}
}

// newSession wires a session to the chain and the optional store and notifier.
func (a *App) newSession(ctx context.Context, client session.Chain, store *storage.Store, notifier alerting.Notifier, stream bool) *session.Session {
	deps := session.DepsFromChain(client)
	if !stream {
		deps.Events = nil
	}
	if store != nil {
		deps.Recorder = session.StoreRecorder{Events: store, Snapshots: store}
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	return session.New(ctx, deps, a.sessionOptions(), a.Logger)
}

type signer interface {
	SignerAddress() (common.Address, error)
}

// resolveAccount picks the flag, then session.account, then the signer address.
// The zero address is returned when none is available.
func (a *App) resolveAccount(flag string, s signer) (common.Address, error) {
	for _, candidate := range []string{flag, a.Config.Session.Account} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if !common.IsHexAddress(candidate) {
			return common.Address{}, &loyalty.ValidationError{Field: "account", Reason: fmt.Sprintf("%q is not a hex address", candidate)}
		}
		return common.HexToAddress(candidate), nil
	}
	if s != nil && a.Config.Ethereum.PrivateKey != "" {
		addr, err := s.SignerAddress()
		if err != nil {
			return common.Address{}, err
		}
		return addr, nil
	}
	return common.Address{}, nil
}

func (a *App) requireAccount(flag string, s signer) (common.Address, error) {
	account, err := a.resolveAccount(flag, s)
	if err != nil {
		return common.Address{}, err
	}
	if account == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: pass --account, set session.account or configure ethereum.private_key", loyalty.ErrNoAccount)
	}
	return account, nil
}

// waitLoaded blocks until the active account's first read has landed or failed.
func waitLoaded(ctx context.Context, sess *session.Session, timeout time.Duration) (session.View, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		view := sess.View()
		if view.Ready || (view.ReadErr != nil && !view.Loading) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return view, fmt.Errorf("timed out waiting for streak data")
			}
			return view, ctx.Err()
		case <-sess.Changes():
		}
	}
}

func (a *App) readTimeout() time.Duration {
	timeout := a.Config.Ethereum.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return 2 * timeout
}

// RunOptions configure the live dashboard.
type RunOptions struct {
	Account     string
	Interactive bool
}

// StatusOptions configure the one-shot status command.
type StatusOptions struct {
	Account string
}

// TradeOptions configure a simulated trade.
type TradeOptions struct {
	Account string
	Amount  string
	Token   string
}

// EventsOptions configure the chain backfill listing.
type EventsOptions struct {
	Account string
	Limit   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Account string
	Limit   int
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	Account   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
