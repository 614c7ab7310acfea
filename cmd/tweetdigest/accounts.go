package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/store"
	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var (
	accountsFile string
	accountsDB   string
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and sync tracked accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts with their cursors",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var accountsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Register accounts from the accounts file and update categories",
	Long: `Read the accounts file (and any handles in the configuration) and register
each account in the database. Existing cursors are kept; categories follow
the file.`,
	Args: cobra.NoArgs,
	RunE: runAccountsSync,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsSyncCmd)
	accountsCmd.PersistentFlags().StringVar(&accountsDB, "db", "", "database path")
	accountsSyncCmd.Flags().StringVar(&accountsFile, "accounts", "", "accounts file (YAML or JSON)")
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(map[string]interface{}{"db": accountsDB})
	if err != nil {
		return err
	}
	st, err := store.Open(cmd.Context(), cfg.Storage.DatabasePath, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	accounts, err := st.ListAccounts(cmd.Context())
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "run 'tweetdigest accounts sync' first")
		return nil
	}

	ui.PrintHighlight(fmt.Sprintf("%d tracked accounts", len(accounts)))
	for _, a := range accounts {
		line := "  @" + a.Handle
		if a.Category != "" {
			line += " " + ui.Dim("("+a.Category+")")
		}
		if a.SinceID != "" {
			line += "  since " + a.SinceID
		}
		if a.LastSyncedAt != nil {
			line += "  synced " + models.FormatTime(*a.LastSyncedAt)
		}
		ui.PrintText(line + "\n")
	}
	return nil
}

func runAccountsSync(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(map[string]interface{}{"db": accountsDB, "accounts": accountsFile})
	if err != nil {
		return err
	}
	entries, err := cfg.ResolveAccounts()
	if err != nil {
		return err
	}
	st, err := store.Open(cmd.Context(), cfg.Storage.DatabasePath, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	accounts := make([]models.Account, 0, len(entries))
	for _, e := range entries {
		accounts = append(accounts, models.Account{Handle: e.Handle, Category: e.Category})
	}
	if err := st.EnsureAccounts(cmd.Context(), accounts); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Synced %d accounts", len(accounts)))
	return nil
}
