package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/utils"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "moderator",
	Short:         "Deepfake moderation experiment runner",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `moderator serves the audio moderation study: participants annotate
suspected synthetic audio, every trial is committed locally and mirrored to a
GitHub repository, and researchers export the results as CSV.

Settings are read from MODERATOR_* environment variables; flags override them.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error getting verbose flag: %v\n", err)
				return
			}
			logger.SetVerbose(verbose)
		}
	},
}

var cfg = settingsFromEnv()

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cfg.resultsDir, "results", cfg.resultsDir, "Directory holding session and trial records")
	rootCmd.PersistentFlags().StringVar(&cfg.protocolPath, "protocol", cfg.protocolPath, "Study protocol YAML (embedded default when empty)")
	rootCmd.PersistentFlags().StringVar(&cfg.ledgerPath, "ledger", cfg.ledgerPath, "SQLite commit ledger path (disabled when empty)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("moderator %s (commit %s, built %s)\n", version,
		utils.SafeEnv("MODERATOR_COMMIT", "unknown"), utils.SafeEnv("MODERATOR_BUILD_TIME", "unknown")))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
