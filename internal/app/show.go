package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Show prints recent streak events stored in the database.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	client := a.newChainClient()
	defer client.Close()

	account, err := a.requireAccount(opts.Account, client)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show events")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentEvents(ctx, account.Hex(), opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no streak events stored")
		return nil
	}

	table := tablewriter.NewWriter(a.Out)
	table.Header("Block", "Log", "Streak", "Fee", "Block Time (UTC)", "Tx")
	for _, rec := range records {
		blockTime := "-"
		if rec.BlockTime != nil {
			blockTime = rec.BlockTime.UTC().Format(time.RFC3339)
		}
		if err := table.Append(
			fmt.Sprintf("%d", rec.BlockNumber),
			fmt.Sprintf("%d", rec.LogIndex),
			fmt.Sprintf("%d", rec.NewStreak),
			formatBps(rec.DiscountBps),
			blockTime,
			rec.TxHash,
		); err != nil {
			return err
		}
	}
	return table.Render()
}
