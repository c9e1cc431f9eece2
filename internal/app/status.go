package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streakwatch/internal/loyalty"
	"streakwatch/internal/session"
)

// Status reads the account once and prints snapshot, tier and countdown.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	client := a.newChainClient()
	defer client.Close()

	account, err := a.requireAccount(opts.Account, client)
	if err != nil {
		return err
	}

	renderer, err := a.newRenderer()
	if err != nil {
		return err
	}

	sess := a.newSession(ctx, client, nil, nil, false)
	defer sess.Close()
	if err := sess.SetAccount(account); err != nil {
		return err
	}

	view, err := waitLoaded(ctx, sess, a.readTimeout())
	if err != nil {
		return err
	}
	if err := renderer.Status(view); err != nil {
		return err
	}
	return view.ReadErr
}

// Trade submits one simulated trade, waits for the settle refresh and prints the result.
func (a *App) Trade(ctx context.Context, opts TradeOptions) error {
	client := a.newChainClient()
	defer client.Close()

	account, err := a.requireAccount(opts.Account, client)
	if err != nil {
		return err
	}

	renderer, err := a.newRenderer()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	sess := a.newSession(ctx, client, store, nil, false)
	defer sess.Close()
	if err := sess.SetAccount(account); err != nil {
		return err
	}
	if _, err := waitLoaded(ctx, sess, a.readTimeout()); err != nil {
		return err
	}

	handle, err := sess.Submit(ctx, opts.Amount, opts.Token)
	confirmedAt := time.Now()
	if err != nil {
		if loyalty.IsValidation(err) {
			return fmt.Errorf("invalid trade: %w", err)
		}
		return err
	}
	fmt.Fprintf(a.Out, "trade %s confirmed: tx %s block %d\n", handle.ID, handle.Hash.Hex(), handle.BlockNumber)

	view, err := waitRefreshedAfter(ctx, sess, confirmedAt, a.Config.Trade.SettleDelay+a.readTimeout())
	if err != nil {
		a.Logger.Warn().Err(err).Msg("post-trade snapshot not observed; showing last known state")
	}
	return renderer.Status(view)
}

// refreshedSince reports whether view holds a snapshot read strictly after t.
// Reads made while the transaction was mining do not count.
func refreshedSince(view session.View, t time.Time) bool {
	return view.Ready && view.Snapshot.FetchedAt.After(t)
}

func waitRefreshedAfter(ctx context.Context, sess *session.Session, after time.Time, timeout time.Duration) (session.View, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		view := sess.View()
		if refreshedSince(view, after) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return view, fmt.Errorf("timed out waiting for refreshed snapshot")
			}
			return view, ctx.Err()
		case <-sess.Changes():
		}
	}
}
