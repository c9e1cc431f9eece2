package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"streakwatch/internal/loyalty"
	"streakwatch/internal/render"
	"streakwatch/internal/session"
)

// Run executes the live dashboard until interrupted or quit.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	renderer, err := a.newRenderer()
	if err != nil {
		return err
	}

	client := a.newChainClient()
	defer client.Close()

	account, err := a.resolveAccount(opts.Account, client)
	if err != nil {
		return err
	}

	sess := a.newSession(ctx, client, store, a.newNotifier(), true)
	defer sess.Close()

	if err := sess.SetAccount(account); err != nil {
		return err
	}

	var commands <-chan string
	hint := ""
	if opts.Interactive {
		commands = readLines(a.In)
		hint = render.Hint(sess.Tokens())
	}

	inflight := newCommandGroup(ctx)
	defer inflight.stop()

	interval := a.Config.Presentation.RedrawInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.Logger.Info().Str("account", account.Hex()).Bool("interactive", opts.Interactive).Msg("starting dashboard")

	dirty := true
	for {
		if dirty {
			if err := renderer.Dashboard(sess.View(), hint); err != nil {
				return fmt.Errorf("render dashboard: %w", err)
			}
			dirty = false
		}

		select {
		case <-ctx.Done():
			a.Logger.Info().Msg("dashboard stopped")
			return nil
		case <-ticker.C:
			dirty = true
		case <-sess.Changes():
			// coalesced into the next redraw tick
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				a.Logger.Warn().Err(err).Str("input", line).Msg("ignored command")
				continue
			}
			if cmd.kind == cmdQuit {
				return nil
			}
			a.dispatch(sess, cmd, inflight)
			dirty = true
		}
	}
}

func (a *App) dispatch(sess *session.Session, cmd command, inflight *commandGroup) {
	switch cmd.kind {
	case cmdAccount:
		if err := sess.SetAccount(cmd.account); err != nil {
			a.Logger.Error().Err(err).Msg("account switch failed")
		}
	case cmdRefresh:
		inflight.goRun(func(ctx context.Context) {
			_ = sess.Refresh(ctx)
		})
	case cmdTrade:
		inflight.goRun(func(ctx context.Context) {
			// failures surface in the view
			_, _ = sess.Submit(ctx, cmd.amount, cmd.token)
		})
	}
}

// commandGroup tracks interactive commands running in the background.
// stop cancels them before waiting, so quitting never blocks on a pending
// confirmation.
type commandGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCommandGroup(parent context.Context) *commandGroup {
	ctx, cancel := context.WithCancel(parent)
	return &commandGroup{ctx: ctx, cancel: cancel}
}

func (g *commandGroup) goRun(fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

func (g *commandGroup) stop() {
	g.cancel()
	g.wg.Wait()
}

type commandKind int

const (
	cmdTrade commandKind = iota + 1
	cmdAccount
	cmdRefresh
	cmdQuit
)

type command struct {
	kind    commandKind
	amount  string
	token   string
	account common.Address
}

var errUnknownCommand = errors.New("unknown command")

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errUnknownCommand
	}

	switch strings.ToLower(fields[0]) {
	case "trade", "t":
		if len(fields) < 2 || len(fields) > 3 {
			return command{}, &loyalty.ValidationError{Field: "trade", Reason: "usage: trade <amount> [token]"}
		}
		cmd := command{kind: cmdTrade, amount: fields[1]}
		if len(fields) == 3 {
			cmd.token = fields[2]
		}
		return cmd, nil
	case "account", "a":
		if len(fields) == 1 {
			return command{kind: cmdAccount}, nil
		}
		if len(fields) != 2 || !common.IsHexAddress(fields[1]) {
			return command{}, &loyalty.ValidationError{Field: "account", Reason: "usage: account <0x address>"}
		}
		return command{kind: cmdAccount, account: common.HexToAddress(fields[1])}, nil
	case "refresh", "r":
		return command{kind: cmdRefresh}, nil
	case "quit", "exit", "q":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("%w %q", errUnknownCommand, fields[0])
}

func readLines(in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}
