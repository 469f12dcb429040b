package cli

import (
	"github.com/spf13/cobra"
)

var addressLabel string

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Manage monitored addresses",
}

var addressAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Start monitoring an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddAddress(cmd.Context(), userID, args[0], addressLabel)
	},
}

var addressRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Stop monitoring an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveAddress(cmd.Context(), userID, args[0])
	},
}

var addressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAddresses(cmd.Context(), userID)
	},
}

func init() {
	addressAddCmd.Flags().StringVar(&addressLabel, "label", "", "Optional human-readable label")

	addressCmd.AddCommand(addressAddCmd)
	addressCmd.AddCommand(addressRemoveCmd)
	addressCmd.AddCommand(addressListCmd)
}
