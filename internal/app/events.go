package app

import (
	"context"
	"fmt"

	"streakwatch/internal/session"
	"streakwatch/internal/telemetry"
)

// Events backfills StreakUpdated logs from chain and prints the most recent ones.
func (a *App) Events(ctx context.Context, opts EventsOptions) error {
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

	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.Session.FeedCapacity
	}

	entries, head, err := client.BackfillStreakEvents(ctx, account, a.Config.Ethereum.StartBlock)
	if err != nil {
		return fmt.Errorf("backfill streak events: %w", err)
	}

	feed := telemetry.NewFeed(limit, a.policy().MaxFeeBps)
	feed.Reset(account)
	added := feed.IngestAll(entries)
	a.Logger.Info().Str("account", account.Hex()).Uint64("head", head).Int("logs", len(entries)).Int("shown", feed.Len()).Msg("streak events loaded")

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store != nil {
		rec := session.StoreRecorder{Events: store}
		for _, ev := range added {
			if err := rec.RecordEvent(ctx, ev); err != nil {
				a.Logger.Error().Err(err).Str("event", ev.ID.String()).Msg("failed to persist streak event")
			}
		}
	}

	return renderer.Feed(feed.Recent())
}
