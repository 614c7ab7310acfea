package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theoren0108/TweetDigest/pkg/pipeline"
	"github.com/theoren0108/TweetDigest/pkg/report"
	"github.com/theoren0108/TweetDigest/pkg/store"
	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var (
	reportWindow time.Duration
	reportDB     string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the digest from stored posts without fetching",
	Long: `Render the digest for the reporting window from what is already stored.
Nothing is fetched, summarized or published. The digest is printed unless
--output is given.`,
	Example: `  tweetdigest report --window 168h
  tweetdigest report --output reports/weekly.md`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().DurationVar(&reportWindow, "window", 0, "reporting window (default 24h)")
	reportCmd.Flags().StringVar(&reportDB, "db", "", "database path")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "write the digest to this file")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(map[string]interface{}{"window": reportWindow, "db": reportDB})
	if err != nil {
		return err
	}
	st, err := store.Open(cmd.Context(), cfg.Storage.DatabasePath, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	doc, posts, err := pipeline.New(cfg, pipeline.Deps{Store: st, Logger: log}).Report(cmd.Context())
	if err != nil {
		return err
	}
	if reportOutput == "" {
		ui.PrintText(doc)
		return nil
	}
	if err := report.WriteFile(reportOutput, doc); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Digest with %d posts written to %s", len(posts), reportOutput))
	return nil
}
