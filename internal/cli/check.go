package cli

import (
	"github.com/spf13/cobra"

	"lending-health-alerts/internal/app"
)

var checkProtocol string

var checkCmd = &cobra.Command{
	Use:   "check <address>",
	Short: "Check an address's positions across all protocols now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CheckOptions{
			Address:  args[0],
			Protocol: checkProtocol,
		}
		return getApp().Check(cmd.Context(), opts)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkProtocol, "protocol", "", "Check only this protocol (aave, morpho, curvance, euler)")
}
