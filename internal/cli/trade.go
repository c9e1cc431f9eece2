package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"streakwatch/internal/app"
)

var (
	tradeAccount string
	tradeAmount  string
	tradeToken   string
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Submit a simulated trade and show the refreshed streak",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(tradeAmount) == "" {
			return fmt.Errorf("--amount is required")
		}
		return getApp().Trade(cmd.Context(), app.TradeOptions{
			Account: tradeAccount,
			Amount:  tradeAmount,
			Token:   tradeToken,
		})
	},
}

func init() {
	tradeCmd.Flags().StringVar(&tradeAccount, "account", "", "Trader address (defaults to session.account or the signer)")
	tradeCmd.Flags().StringVar(&tradeAmount, "amount", "", "Trade amount in whole token units, e.g. 1.5")
	tradeCmd.Flags().StringVar(&tradeToken, "token", "", "Token symbol (defaults to trade.default_token)")
}
