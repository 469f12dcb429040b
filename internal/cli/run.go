package cli

import (
	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	Long:  "Run the periodic health monitoring loop, or a single cycle with --once (useful under cron).",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), runOnce)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single monitoring cycle and exit")
}
