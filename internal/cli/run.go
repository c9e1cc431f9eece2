package cli

import (
	"github.com/spf13/cobra"

	"streakwatch/internal/app"
)

var (
	runAccount     string
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Show the live streak dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{
			Account:     runAccount,
			Interactive: runInteractive,
		})
	},
}

var statusAccount string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the streak, fee tier and deadline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context(), app.StatusOptions{Account: statusAccount})
	},
}

func init() {
	runCmd.Flags().StringVar(&runAccount, "account", "", "Wallet address to watch (defaults to session.account or the signer)")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Read trade/account/refresh/quit commands from stdin")

	statusCmd.Flags().StringVar(&statusAccount, "account", "", "Wallet address to read")
}
