package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/theoren0108/TweetDigest/pkg/pipeline"
	"github.com/theoren0108/TweetDigest/pkg/runlock"
	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var (
	// Run command flags
	runWindow     time.Duration
	runSample     string
	runAccounts   string
	runDB         string
	runOutput     string
	runPerAccount int
	runGlobalCap  int
	runNoMedia    bool
	runNoPublish  bool
	runNoSummary  bool
	runDryRun     bool
	runNotify     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch new posts, store them and write the digest",
	Long: `Run one full pass: fetch recent posts for every tracked account, keep the
ones newer than each account's cursor (bounded by the per-account limit and
the global cap), resolve media, store everything, advance cursors, then render
the digest for the reporting window.

Only one run may hold the database at a time; a second invocation fails fast.`,
	Example: `  # Daily run against the provider configured in tweetdigest.yaml
  tweetdigest run

  # Replay a captured provider response without network access
  tweetdigest run --sample testdata/posts.jsonl --no-publish --no-summary

  # Weekly digest printed to the terminal, nothing written
  tweetdigest run --window 168h --dry-run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.DurationVar(&runWindow, "window", 0, "reporting window (default 24h)")
	f.StringVar(&runSample, "sample", "", "read provider output from a JSON or JSONL file")
	f.StringVar(&runAccounts, "accounts", "", "accounts file (YAML or JSON)")
	f.StringVar(&runDB, "db", "", "database path")
	f.StringVarP(&runOutput, "output", "o", "", "digest output path")
	f.IntVar(&runPerAccount, "per-account-limit", 0, "max new posts per account")
	f.IntVar(&runGlobalCap, "global-cap", 0, "max new posts per run")
	f.BoolVar(&runNoMedia, "no-media", false, "skip media downloads")
	f.BoolVar(&runNoPublish, "no-publish", false, "do not publish to Feishu")
	f.BoolVar(&runNoSummary, "no-summary", false, "do not call the summarizer")
	f.BoolVar(&runDryRun, "dry-run", false, "print the digest instead of writing or publishing it")
	f.BoolVar(&runNotify, "notify", false, "desktop notification when the run ends")
}

// runFlags collects only the flags the user set
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, v interface{}) {
		if cmd.Flags().Changed(name) {
			flags[name] = v
		}
	}
	set("window", runWindow)
	set("sample", runSample)
	set("accounts", runAccounts)
	set("db", runDB)
	set("output", runOutput)
	set("per-account-limit", runPerAccount)
	set("global-cap", runGlobalCap)
	set("no-media", runNoMedia)
	set("no-publish", runNoPublish)
	set("no-summary", runNoSummary)
	return flags
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(runFlags(cmd))
	if err != nil {
		return err
	}
	flush := initSentry(cfg.Sentry, log)
	defer flush()

	var notifier *ui.Notifier
	if runNotify {
		notifier = ui.NewNotifier()
	}
	fail := func(err error) error {
		sentry.CaptureException(err)
		if notifier != nil {
			notifier.RunFailed(err)
		}
		return err
	}

	if err := resolveSecrets(cfg, log); err != nil {
		return err
	}

	lock, err := runlock.Acquire(cfg.Storage.LockPath(), cfg.Storage.LockStaleAfter)
	if errors.Is(err, runlock.ErrLocked) {
		return fmt.Errorf("%w (pid %s, lock %s)", err, runlock.Holder(cfg.Storage.LockPath()), cfg.Storage.LockPath())
	}
	if err != nil {
		return fail(err)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	p, err := buildPipeline(cfg, st, log)
	if err != nil {
		return fail(err)
	}

	res, err := p.Run(ctx, pipeline.Options{DryRun: runDryRun})
	if err != nil {
		if pipeline.IsTimeout(err) {
			ui.PrintWarning("Provider did not finish in time", cfg.Provider.Timeout)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fail(err)
	}

	printRunSummary(res)
	if runDryRun {
		ui.PrintText("\n" + res.Document)
	}
	if notifier != nil {
		notifier.DigestReady(len(res.Posts), res.ReportPath)
	}
	return nil
}

func printRunSummary(res *pipeline.Result) {
	fields := []ui.Field{
		{Label: "Run", Value: res.RunID},
		{Label: "Fetched", Value: res.Fetched},
		{Label: "Rejected", Value: res.Rejected},
		{Label: "Untracked", Value: res.Untracked},
		{Label: "Accepted", Value: res.Accepted},
		{Label: "Inserted", Value: len(res.Saved.Inserted)},
		{Label: "Media stored", Value: res.Media.Stored},
		{Label: "Media failed", Value: res.Media.Failed},
		{Label: "In window", Value: len(res.Posts)},
	}
	if len(res.Skipped) > 0 {
		fields = append(fields, ui.Field{Label: "Skipped (cap)", Value: res.Skipped})
	}
	if res.Summarized > 0 {
		fields = append(fields, ui.Field{Label: "Summarized", Value: res.Summarized})
	}
	if res.ReportPath != "" {
		fields = append(fields, ui.Field{Label: "Digest", Value: res.ReportPath})
	}
	if res.Published != nil {
		fields = append(fields, ui.Field{Label: "Published", Value: res.Published.URL})
	}
	ui.PrintFields("Run complete", fields)
}
