// Command assistant runs the marketplace support assistant gateway and its
// maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guiIerme/JobFinder-sub003/internal/config"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Marketplace support assistant gateway",
	Long: `assistant serves the conversational support assistant over WebSocket,
with an internal HTTP API for operators.

Run 'assistant serve' to start the gateway. Without a subcommand the
gateway is started as well.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(level),
			Pretty: logPretty || cfg.LogPretty,
		})
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human readable console logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(analyticsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
