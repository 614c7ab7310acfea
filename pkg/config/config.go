package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for a digest run
type Config struct {
	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Accounts AccountsConfig `yaml:"accounts" json:"accounts"`
	Fetch    FetchConfig    `yaml:"fetch" json:"fetch"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Media    MediaConfig    `yaml:"media" json:"media"`
	Report   ReportConfig   `yaml:"report" json:"report"`
	Summary  SummaryConfig  `yaml:"summary" json:"summary"`
	Publish  PublishConfig  `yaml:"publish" json:"publish"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Sentry   SentryConfig   `yaml:"sentry" json:"sentry"`
}

// ProviderConfig configures the scrape provider
type ProviderConfig struct {
	// Mode is "apify" or "sample"
	Mode           string        `yaml:"mode" json:"mode"`
	Token          string        `yaml:"token" json:"token"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	ActorID        string        `yaml:"actor_id" json:"actor_id"`
	InputTemplate  string        `yaml:"input_template" json:"input_template"`
	SampleFile     string        `yaml:"sample_file" json:"sample_file"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	// RequestsPerMinute throttles API calls; zero or less disables throttling
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// AccountsConfig points at the tracked accounts
type AccountsConfig struct {
	File    string   `yaml:"file" json:"file"`
	Handles []string `yaml:"handles" json:"handles"`
}

// FetchConfig holds the per-run fetch caps
type FetchConfig struct {
	PerAccountLimit int `yaml:"per_account_limit" json:"per_account_limit"`
	GlobalCap       int `yaml:"global_cap" json:"global_cap"`
}

// StorageConfig locates the database and its run lock
type StorageConfig struct {
	DatabasePath   string        `yaml:"database_path" json:"database_path"`
	LockFile       string        `yaml:"lock_file" json:"lock_file"`
	LockStaleAfter time.Duration `yaml:"lock_stale_after" json:"lock_stale_after"`
}

// MediaConfig controls media retrieval
type MediaConfig struct {
	Download            bool          `yaml:"download" json:"download"`
	Directory           string        `yaml:"directory" json:"directory"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	RequestsPerMinute   int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize           int           `yaml:"burst_size" json:"burst_size"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	MaxFileSize         int64         `yaml:"max_file_size" json:"max_file_size"`
}

// ReportConfig controls the digest
type ReportConfig struct {
	Window      time.Duration `yaml:"window" json:"window"`
	OutputPath  string        `yaml:"output_path" json:"output_path"`
	TopKeywords int           `yaml:"top_keywords" json:"top_keywords"`
	FoldPlurals bool          `yaml:"fold_plurals" json:"fold_plurals"`
}

// SummaryConfig configures the optional OpenAI-compatible summarizer
type SummaryConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	Model       string        `yaml:"model" json:"model"`
	MaxPosts    int           `yaml:"max_posts" json:"max_posts"`
	MaxChars    int           `yaml:"max_chars" json:"max_chars"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// PublishConfig configures the optional Feishu publisher
type PublishConfig struct {
	Enabled bool         `yaml:"enabled" json:"enabled"`
	Feishu  FeishuConfig `yaml:"feishu" json:"feishu"`
}

// FeishuConfig holds Feishu app credentials and targets
type FeishuConfig struct {
	AppID       string `yaml:"app_id" json:"app_id"`
	AppSecret   string `yaml:"app_secret" json:"app_secret"`
	ChatID      string `yaml:"chat_id" json:"chat_id"`
	FolderToken string `yaml:"folder_token" json:"folder_token"`
	BaseURL     string `yaml:"base_url" json:"base_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// SentryConfig enables error reporting when DSN is set
type SentryConfig struct {
	DSN         string `yaml:"dsn" json:"dsn"`
	Environment string `yaml:"environment" json:"environment"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Mode:           "apify",
			BaseURL:        "https://api.apify.com/v2",
			ActorID:        "apidojo~twitter-scraper-lite",
			PollInterval:   5 * time.Second,
			Timeout:        120 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,

			RequestsPerMinute: 60,
		},
		Accounts: AccountsConfig{
			File: "accounts.yaml",
		},
		Fetch: FetchConfig{
			PerAccountLimit: 40,
			GlobalCap:       400,
		},
		Storage: StorageConfig{
			DatabasePath:   filepath.Join("data", "tweetdigest.db"),
			LockStaleAfter: 2 * time.Hour,
		},
		Media: MediaConfig{
			Download:            true,
			Directory:           filepath.Join("data", "media"),
			ConcurrentDownloads: 4,
			RequestsPerMinute:   120,
			BurstSize:           5,
			Timeout:             30 * time.Second,
			MaxFileSize:         50 << 20,
		},
		Report: ReportConfig{
			Window:      24 * time.Hour,
			OutputPath:  filepath.Join("reports", "digest.md"),
			TopKeywords: 12,
			FoldPlurals: true,
		},
		Summary: SummaryConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxPosts:    30,
			MaxChars:    400,
			Temperature: 0.2,
			Timeout:     60 * time.Second,
		},
		Publish: PublishConfig{
			Feishu: FeishuConfig{
				BaseURL: "https://open.feishu.cn",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LockPath returns the run lock location, next to the database unless set
func (s StorageConfig) LockPath() string {
	if s.LockFile != "" {
		return s.LockFile
	}
	return s.DatabasePath + ".lock"
}

// LoadFromEnv overrides values from TWEETDIGEST_* and the conventional
// provider variables (APIFY_TOKEN, OPENAI_API_KEY, FEISHU_*)
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString(&c.Provider.Token, "TWEETDIGEST_PROVIDER_TOKEN", "APIFY_TOKEN")
	setString(&c.Provider.ActorID, "TWEETDIGEST_PROVIDER_ACTOR_ID", "APIFY_ACTOR_ID")
	setString(&c.Provider.Mode, "TWEETDIGEST_PROVIDER_MODE")
	setString(&c.Provider.SampleFile, "TWEETDIGEST_SAMPLE_FILE")
	setString(&c.Provider.InputTemplate, "TWEETDIGEST_INPUT_TEMPLATE")
	setString(&c.Accounts.File, "TWEETDIGEST_ACCOUNTS_FILE")
	setString(&c.Storage.DatabasePath, "TWEETDIGEST_DB_PATH")
	setString(&c.Media.Directory, "TWEETDIGEST_MEDIA_DIR")
	setString(&c.Report.OutputPath, "TWEETDIGEST_REPORT_PATH")
	setString(&c.Summary.APIKey, "TWEETDIGEST_SUMMARY_API_KEY", "OPENAI_API_KEY")
	setString(&c.Summary.BaseURL, "TWEETDIGEST_SUMMARY_BASE_URL", "OPENAI_BASE_URL")
	setString(&c.Summary.Model, "TWEETDIGEST_SUMMARY_MODEL", "OPENAI_MODEL")
	setString(&c.Publish.Feishu.AppID, "FEISHU_APP_ID")
	setString(&c.Publish.Feishu.AppSecret, "FEISHU_APP_SECRET")
	setString(&c.Publish.Feishu.ChatID, "FEISHU_CHAT_ID")
	setString(&c.Publish.Feishu.FolderToken, "FEISHU_FOLDER_TOKEN")
	setString(&c.Publish.Feishu.BaseURL, "FEISHU_BASE_URL")
	setString(&c.Logging.Level, "TWEETDIGEST_LOG_LEVEL")
	setString(&c.Logging.File, "TWEETDIGEST_LOG_FILE")
	setString(&c.Sentry.DSN, "TWEETDIGEST_SENTRY_DSN", "SENTRY_DSN")
	setString(&c.Sentry.Environment, "TWEETDIGEST_SENTRY_ENVIRONMENT")

	errs = append(errs,
		setInt(&c.Fetch.PerAccountLimit, "TWEETDIGEST_PER_ACCOUNT_LIMIT"),
		setInt(&c.Fetch.GlobalCap, "TWEETDIGEST_GLOBAL_CAP"),
		setInt(&c.Media.ConcurrentDownloads, "TWEETDIGEST_CONCURRENT_DOWNLOADS"),
		setInt(&c.Provider.RequestsPerMinute, "TWEETDIGEST_PROVIDER_RPM"),
		setBool(&c.Media.Download, "TWEETDIGEST_MEDIA_DOWNLOAD"),
		setBool(&c.Summary.Enabled, "TWEETDIGEST_SUMMARY_ENABLED"),
		setBool(&c.Publish.Enabled, "TWEETDIGEST_PUBLISH_ENABLED"),
		setDuration(&c.Report.Window, "TWEETDIGEST_WINDOW"),
		setDuration(&c.Provider.Timeout, "TWEETDIGEST_PROVIDER_TIMEOUT"),
	)

	return errors.Join(errs...)
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for a config file in standard locations
func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"tweetdigest.yaml",
		".tweetdigest.yaml",
		".tweetdigest.yml",
		filepath.Join(home, ".config", "tweetdigest", "config.yaml"),
		filepath.Join(home, ".config", "tweetdigest", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is structurally valid. Secrets are
// checked separately by RequireSecrets since they may come from a credential store.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Mode {
	case "apify":
		if c.Provider.BaseURL == "" {
			errs = append(errs, errors.New("provider base URL is required"))
		}
		if c.Provider.ActorID == "" {
			errs = append(errs, errors.New("provider actor ID is required"))
		}
	case "sample":
		if c.Provider.SampleFile == "" {
			errs = append(errs, errors.New("sample mode requires provider.sample_file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider mode %q", c.Provider.Mode))
	}
	if c.Provider.PollInterval <= 0 {
		errs = append(errs, errors.New("provider poll interval must be positive"))
	}
	if c.Provider.Timeout < c.Provider.PollInterval {
		errs = append(errs, errors.New("provider timeout must not be shorter than the poll interval"))
	}

	if c.Fetch.PerAccountLimit <= 0 {
		errs = append(errs, errors.New("per-account limit must be positive"))
	}
	if c.Fetch.GlobalCap <= 0 {
		errs = append(errs, errors.New("global cap must be positive"))
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}

	if c.Media.Download {
		if c.Media.Directory == "" {
			errs = append(errs, errors.New("media directory is required when downloads are enabled"))
		}
		if c.Media.ConcurrentDownloads <= 0 || c.Media.ConcurrentDownloads > 16 {
			errs = append(errs, errors.New("concurrent downloads must be between 1 and 16"))
		}
		if c.Media.RequestsPerMinute <= 0 {
			errs = append(errs, errors.New("media requests per minute must be positive"))
		}
	}

	if c.Report.Window <= 0 {
		errs = append(errs, errors.New("report window must be positive"))
	}
	if c.Report.TopKeywords <= 0 {
		errs = append(errs, errors.New("top keywords must be positive"))
	}

	if c.Summary.Enabled && c.Summary.Model == "" {
		errs = append(errs, errors.New("summary model is required when summaries are enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// RequireSecrets reports missing secrets for the enabled features
func (c *Config) RequireSecrets() error {
	var errs []error
	if c.Provider.Mode == "apify" && c.Provider.Token == "" {
		errs = append(errs, errors.New("provider token is required (APIFY_TOKEN or `tweetdigest auth set apify`)"))
	}
	if c.Summary.Enabled && c.Summary.APIKey == "" {
		errs = append(errs, errors.New("summary API key is required (OPENAI_API_KEY or `tweetdigest auth set openai`)"))
	}
	if c.Publish.Enabled {
		f := c.Publish.Feishu
		if f.AppID == "" || f.AppSecret == "" {
			errs = append(errs, errors.New("feishu app_id and app_secret are required for publishing"))
		}
		if f.ChatID == "" {
			errs = append(errs, errors.New("feishu chat_id is required for publishing"))
		}
	}
	return errors.Join(errs...)
}

// SecretLookup returns a stored secret by name
type SecretLookup func(name string) (string, error)

// Well-known credential names
const (
	SecretProvider = "apify"
	SecretSummary  = "openai"
	SecretFeishu   = "feishu"
)

// ResolveSecrets fills empty secrets from a credential store. Lookup failures
// leave the field empty; RequireSecrets reports what is still missing.
func (c *Config) ResolveSecrets(lookup SecretLookup) {
	fill := func(dst *string, name string) {
		if *dst != "" {
			return
		}
		if v, err := lookup(name); err == nil {
			*dst = v
		}
	}
	fill(&c.Provider.Token, SecretProvider)
	fill(&c.Summary.APIKey, SecretSummary)
	fill(&c.Publish.Feishu.AppSecret, SecretFeishu)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags applies flag values that were explicitly set
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["accounts"].(string); ok && v != "" {
		c.Accounts.File = v
	}
	if v, ok := flags["db"].(string); ok && v != "" {
		c.Storage.DatabasePath = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Report.OutputPath = v
	}
	if v, ok := flags["sample"].(string); ok && v != "" {
		c.Provider.Mode = "sample"
		c.Provider.SampleFile = v
	}
	if v, ok := flags["window"].(time.Duration); ok && v > 0 {
		c.Report.Window = v
	}
	if v, ok := flags["per-account-limit"].(int); ok && v > 0 {
		c.Fetch.PerAccountLimit = v
	}
	if v, ok := flags["global-cap"].(int); ok && v > 0 {
		c.Fetch.GlobalCap = v
	}
	if v, ok := flags["no-media"].(bool); ok && v {
		c.Media.Download = false
	}
	if v, ok := flags["no-publish"].(bool); ok && v {
		c.Publish.Enabled = false
	}
	if v, ok := flags["no-summary"].(bool); ok && v {
		c.Summary.Enabled = false
	}
}

// Load loads configuration from all sources with proper precedence:
// flags > environment (including .env) > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".tweetdigest.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
