package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/theoren0108/TweetDigest/pkg/auth"
	"github.com/theoren0108/TweetDigest/pkg/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API secrets",
	Long: `Manage the secrets tweetdigest needs: the provider token (apify), the
summarizer API key (openai) and the Feishu app secret (feishu).

Secrets are stored in the system keychain when available, otherwise in an
encrypted file. Environment variables are read as a fallback.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store a secret",
	Example: `  tweetdigest auth set apify
  tweetdigest auth set openai`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthSet,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secrets, masked",
	Args:  cobra.NoArgs,
	RunE:  runAuthList,
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthDelete,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authDeleteCmd)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(strings.TrimSpace(args[0]))
	if _, ok := auth.KnownNames[name]; !ok {
		auth.WriteGuide(cmd.OutOrStdout(), name)
		return fmt.Errorf("unknown credential %q", name)
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	auth.WriteGuide(cmd.OutOrStdout(), name)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s secret (hidden): ", name)
	secret, err := readSecret()
	if err != nil {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == "" {
		return fmt.Errorf("empty secret, nothing stored")
	}

	if err := manager.Store(&auth.Credential{Name: name, Secret: secret, LastModified: time.Now()}); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	ui.PrintSuccess("Secret stored: " + name)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	creds, err := manager.List()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		ui.PrintInfo("No stored secrets", "use 'tweetdigest auth set <name>'")
		return nil
	}

	fields := make([]ui.Field, 0, len(creds))
	for _, c := range creds {
		s := auth.Sanitize(c)
		value := s.Secret
		if !s.LastModified.IsZero() {
			value += "  " + ui.Dim(s.LastModified.Format("2006-01-02 15:04"))
		}
		fields = append(fields, ui.Field{Label: s.Name, Value: value})
	}
	ui.PrintFields("Stored secrets", fields)
	return nil
}

func runAuthDelete(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	name := strings.ToLower(strings.TrimSpace(args[0]))
	if err := manager.Delete(name); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	ui.PrintSuccess("Secret removed: " + name)
	return nil
}

// readSecret reads a line from stdin without echo when attached to a terminal
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
