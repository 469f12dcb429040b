package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lending-health-alerts/internal/app"
	"lending-health-alerts/internal/config"
	"lending-health-alerts/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	userID    int64
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "healthwatcher",
	Short: "Monitor lending position health across protocols",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", 0, "User id owning addresses and thresholds")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(thresholdCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
