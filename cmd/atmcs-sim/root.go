package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"atmcs-sim/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "atmcs-sim",
	Short: "Telescope mount and M3 selector simulator",
	Long:  "atmcs-sim simulates an alt-az mount with three rotators and an M3 mirror selector, publishing telemetry and events.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(logLevel, logFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		cmd.SetContext(logging.NewContext(cmd.Context(), logger))
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOr("LOG_FORMAT", "text"), "Log format (text or json)")
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(dashboardCmd)
}
