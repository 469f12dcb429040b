package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"lending-health-alerts/internal/app"
)

var (
	thresholdProtocol string
	thresholdMarket   string
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Manage alert thresholds (global, per protocol, per market)",
}

var thresholdSetCmd = &cobra.Command{
	Use:   "set <value>",
	Short: "Set the alert threshold at the chosen scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid threshold value %q: %w", args[0], err)
		}
		scope := app.ThresholdScopeArgs{Protocol: thresholdProtocol, MarketID: thresholdMarket}
		return getApp().SetThreshold(cmd.Context(), userID, scope, value)
	},
}

var thresholdUnsetCmd = &cobra.Command{
	Use:   "unset",
	Short: "Remove the alert threshold at the chosen scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := app.ThresholdScopeArgs{Protocol: thresholdProtocol, MarketID: thresholdMarket}
		return getApp().UnsetThreshold(cmd.Context(), userID, scope)
	},
}

var thresholdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListThresholds(cmd.Context(), userID)
	},
}

func init() {
	for _, c := range []*cobra.Command{thresholdSetCmd, thresholdUnsetCmd} {
		c.Flags().StringVar(&thresholdProtocol, "protocol", "", "Protocol scope (omit for global)")
		c.Flags().StringVar(&thresholdMarket, "market", "", "Market scope (requires --protocol)")
	}

	thresholdCmd.AddCommand(thresholdSetCmd)
	thresholdCmd.AddCommand(thresholdUnsetCmd)
	thresholdCmd.AddCommand(thresholdListCmd)
}
