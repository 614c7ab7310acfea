package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theoren0108/TweetDigest/pkg/checkpoint"
	"github.com/theoren0108/TweetDigest/pkg/runlock"
	"github.com/theoren0108/TweetDigest/pkg/store"
	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var statusDB string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database counts and the last run",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusDB, "db", "", "database path")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(map[string]interface{}{"db": statusDB})
	if err != nil {
		return err
	}
	st, err := store.Open(cmd.Context(), cfg.Storage.DatabasePath, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(cmd.Context())
	if err != nil {
		return err
	}
	ui.PrintFields("Database "+cfg.Storage.DatabasePath, []ui.Field{
		{Label: "Accounts", Value: stats.Accounts},
		{Label: "Posts", Value: stats.Posts},
		{Label: "Unsummarized", Value: stats.Unsummarized},
		{Label: "Media rows", Value: stats.Media},
		{Label: "Distinct blobs", Value: stats.DistinctHashes},
	})

	if lockPath := cfg.Storage.LockPath(); fileExists(lockPath) {
		ui.PrintWarning("A run is in progress", "pid "+runlock.Holder(lockPath))
	}

	rec, err := checkpoint.NewManager(checkpoint.PathFor(cfg.Storage.DatabasePath)).Load()
	if err != nil {
		return err
	}
	if rec == nil {
		ui.PrintInfo("Last run", "none")
		return nil
	}
	fields := []ui.Field{
		{Label: "Run", Value: rec.RunID},
		{Label: "Status", Value: rec.Status},
		{Label: "Started", Value: rec.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{Label: "Fetched", Value: rec.Fetched},
		{Label: "Inserted", Value: rec.Inserted},
		{Label: "Reported", Value: rec.Reported},
	}
	if !rec.FinishedAt.IsZero() {
		fields = append(fields, ui.Field{Label: "Duration", Value: rec.Duration().Round(time.Millisecond)})
	}
	if rec.DocumentURL != "" {
		fields = append(fields, ui.Field{Label: "Document", Value: rec.DocumentURL})
	}
	if rec.Error != "" {
		fields = append(fields, ui.Field{Label: "Error", Value: rec.Error})
	}
	ui.PrintFields("Last run", fields)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
