package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"streakwatch/internal/app"
)

var (
	showAccount   string
	showLimit     int
	eventsAccount string
	eventsLimit   int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display streak events stored in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Account: showAccount,
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Backfill StreakUpdated events from chain and print the latest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}
		return getApp().Events(cmd.Context(), app.EventsOptions{
			Account: eventsAccount,
			Limit:   eventsLimit,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showAccount, "account", "", "Wallet address")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of events to display")

	eventsCmd.Flags().StringVar(&eventsAccount, "account", "", "Wallet address")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "Number of events to display (defaults to session.feed_capacity)")
}
