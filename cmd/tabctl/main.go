package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aitkn/ai-tab-manager-sub001/cmd/tabctl/commands"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// Initialize logging
	if _, err := logging.InitLoggerFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:   "tabctl",
		Short: "Tab fusion daemon control CLI",
		Long: `tabctl inspects and manages a running tab fusion daemon.

It talks to the daemon's HTTP API and renders the answers for humans
or, with --output json, for scripts.

Common workflows:
  tabctl stats                # Source accuracies, trust weights, strategy
  tabctl patterns             # Recurring corrections and rule suggestions
  tabctl health               # Daemon and store health
  tabctl reset                # Reset tracked performance to baseline

For detailed help on any command, use:
  tabctl <command> --help`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("addr", "a", "http://127.0.0.1:8080", "Address of the fusion daemon API")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json")

	// Add subcommands
	rootCmd.AddCommand(commands.NewStatsCmd())
	rootCmd.AddCommand(commands.NewPatternsCmd())
	rootCmd.AddCommand(commands.NewHealthCmd())
	rootCmd.AddCommand(commands.NewResetCmd())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
