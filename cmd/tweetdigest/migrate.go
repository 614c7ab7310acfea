package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theoren0108/TweetDigest/pkg/migrate"
	"github.com/theoren0108/TweetDigest/pkg/store"
	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var migrateDB string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	Long: `Apply every schema step missing from the database ledger, in order.
Databases written by earlier versions are upgraded in place and their cursors
back-filled. Running it again is a no-op.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending schema steps",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.PersistentFlags().StringVar(&migrateDB, "db", "", "database path")
}

func migrateFlags() map[string]interface{} {
	return map[string]interface{}{"db": migrateDB}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(migrateFlags())
	if err != nil {
		return err
	}
	db, err := store.OpenDB(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrate.Migrate(cmd.Context(), db)
	for _, name := range applied {
		log.WithField("step", name).Info("Migration applied")
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		ui.PrintSuccess("Schema is up to date")
		return nil
	}
	ui.PrintSuccess(fmt.Sprintf("Applied %d migration(s) to %s", len(applied), cfg.Storage.DatabasePath))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(migrateFlags())
	if err != nil {
		return err
	}
	db, err := store.OpenDB(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrate.Applied(cmd.Context(), db)
	if err != nil {
		return err
	}
	pending, err := migrate.Pending(cmd.Context(), db)
	if err != nil {
		return err
	}

	ui.PrintInfo("Database", cfg.Storage.DatabasePath)
	for _, name := range applied {
		ui.PrintText(fmt.Sprintf("  %s %s\n", ui.Green("applied"), name))
	}
	for _, name := range pending {
		ui.PrintText(fmt.Sprintf("  %s %s\n", ui.Yellow("pending"), name))
	}
	return nil
}
