package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var mediaDB string

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Media maintenance",
}

var mediaCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Merge media rows that share content and delete orphaned files",
	Long: `Collapse media rows with the same content hash onto one canonical row,
point every post manifest at it and delete blob files nothing refers to.`,
	Args: cobra.NoArgs,
	RunE: runMediaCompact,
}

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.AddCommand(mediaCompactCmd)
	mediaCmd.PersistentFlags().StringVar(&mediaDB, "db", "", "database path")
}

func runMediaCompact(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(map[string]interface{}{"db": mediaDB})
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.CompactMedia(cmd.Context())
	if err != nil {
		return err
	}
	ui.PrintFields("Media compacted", []ui.Field{
		{Label: "Rows removed", Value: res.Removed},
		{Label: "Manifests remapped", Value: res.Remapped},
		{Label: "Files reclaimed", Value: len(res.Reclaimed)},
	})
	if res.Removed == 0 {
		ui.PrintText(fmt.Sprintln("Nothing to compact"))
	}
	return nil
}
