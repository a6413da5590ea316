// Package cmd defines and implements the CLI commands for the catalog-crawler
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls paginated game catalogs into a deduplicated JSON document.",
		Long: `catalog-crawler walks every category of a catalog site, discovers its
listing pages, fetches each leaf page with bounded concurrency and retries,
and writes the extracted records as one JSON document.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or $HOME/.catalog-crawler/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("dev", false, "development logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSitesCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context; a crawl then salvages and writes what it gathered.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
