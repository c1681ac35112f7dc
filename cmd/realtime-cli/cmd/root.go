package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nfrund/livepresence/internal/logging"
)

var (
	serverURL string
	tokenFlag string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "realtime-cli",
	Short: "Command-line client for the presence and chat server",
	Long: `realtime-cli talks to a livepresence server over its presence and chat
websocket channels.

Available commands:
  token     Mint a development session token
  connect   Connect and stream presence and chat events
  send      Send one chat message and print the outcome
  topics    List the server's internal bus topics

Use "realtime-cli [command] --help" for more information about a command.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.NewWith("text", logLevel)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("REALTIME_URL", "ws://localhost:8080"), "Server base URL")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", os.Getenv("REALTIME_TOKEN"), "Session token")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
