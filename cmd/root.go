// Package cmd defines the CLI commands for the scrapqt executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/config"
	"github.com/MikoAlt/scrapqt/internal/logging"
)

var (
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrapqt",
		Short: "Marketplace product scraping with background sentiment analysis",
		Long: `scrapqt scrapes product listings from marketplace plugins into an
embedded database, deduplicating by URL, and scores the collected products
with an external sentiment provider. The scraper and sentiment pipelines run
as separate services managed by the up/down/status commands.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newScraperCmd())
	cmd.AddCommand(newSentimentCmd())
	cmd.AddCommand(newUpCmd())
	cmd.AddCommand(newDownCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newCredentialCmd())

	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scrapqt: %v\n", err)
		os.Exit(1)
	}
}
