package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/theoren0108/TweetDigest/pkg/config"
	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage tweetdigest configuration.

Configuration is merged from, highest priority first:
  - Command line flags
  - Environment variables (TWEETDIGEST_*, APIFY_TOKEN, OPENAI_API_KEY, FEISHU_*)
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every option at its default",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and report missing secrets",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "tweetdigest.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	cfg := config.DefaultConfig()
	cfg.Accounts.File = "accounts.yaml"
	if err := cfg.Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	ui.PrintText("\nNext steps:\n")
	ui.PrintText("1. List tracked handles in accounts.yaml (a list, or category: [handles])\n")
	ui.PrintText("2. Store the provider token with 'tweetdigest auth set apify'\n")
	ui.PrintText("3. Check everything with 'tweetdigest config validate'\n")
	ui.PrintText("4. Run 'tweetdigest run'\n")
	return nil
}

// masked returns a copy of cfg safe to print
func masked(cfg *config.Config) config.Config {
	out := *cfg
	mask := func(s *string) {
		switch {
		case *s == "":
		case len(*s) > 8:
			*s = (*s)[:4] + "..." + (*s)[len(*s)-4:]
		default:
			*s = "***"
		}
	}
	mask(&out.Provider.Token)
	mask(&out.Summary.APIKey)
	mask(&out.Publish.Feishu.AppSecret)
	mask(&out.Sentry.DSN)
	return out
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(nil)
	if err != nil {
		return err
	}
	display := masked(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	ui.PrintHighlight("Current configuration")
	ui.PrintText(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}

	var problems []string
	if _, err := cfg.ResolveAccounts(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := resolveSecrets(cfg, log); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		ui.PrintWarning("Configuration is incomplete")
		for _, p := range problems {
			ui.PrintText("  - " + p + "\n")
		}
		return fmt.Errorf("%d problem(s) found", len(problems))
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintFields("Summary", []ui.Field{
		{Label: "Provider", Value: cfg.Provider.Mode},
		{Label: "Database", Value: cfg.Storage.DatabasePath},
		{Label: "Window", Value: cfg.Report.Window},
		{Label: "Per-account limit", Value: cfg.Fetch.PerAccountLimit},
		{Label: "Global cap", Value: cfg.Fetch.GlobalCap},
		{Label: "Media downloads", Value: cfg.Media.Download},
		{Label: "Summaries", Value: cfg.Summary.Enabled},
		{Label: "Publishing", Value: cfg.Publish.Enabled},
	})
	return nil
}
