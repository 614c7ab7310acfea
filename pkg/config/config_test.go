package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 40, cfg.Fetch.PerAccountLimit)
	assert.Equal(t, 400, cfg.Fetch.GlobalCap)
	assert.Equal(t, 12, cfg.Report.TopKeywords)
	assert.Equal(t, 5*time.Second, cfg.Provider.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 60, cfg.Provider.RequestsPerMinute)
	assert.Equal(t, "apidojo~twitter-scraper-lite", cfg.Provider.ActorID)
	assert.Equal(t, "https://open.feishu.cn", cfg.Publish.Feishu.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APIFY_TOKEN", "apify-token")
	t.Setenv("TWEETDIGEST_PER_ACCOUNT_LIMIT", "10")
	t.Setenv("TWEETDIGEST_WINDOW", "48h")
	t.Setenv("TWEETDIGEST_MEDIA_DOWNLOAD", "false")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TWEETDIGEST_SUMMARY_API_KEY", "sk-preferred")
	t.Setenv("FEISHU_CHAT_ID", "oc_123")
	t.Setenv("TWEETDIGEST_PROVIDER_RPM", "30")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "apify-token", cfg.Provider.Token)
	assert.Equal(t, 10, cfg.Fetch.PerAccountLimit)
	assert.Equal(t, 48*time.Hour, cfg.Report.Window)
	assert.False(t, cfg.Media.Download)
	assert.Equal(t, "sk-preferred", cfg.Summary.APIKey, "prefixed variable wins over the conventional one")
	assert.Equal(t, "oc_123", cfg.Publish.Feishu.ChatID)
	assert.Equal(t, 30, cfg.Provider.RequestsPerMinute)
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("TWEETDIGEST_GLOBAL_CAP", "lots")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWEETDIGEST_GLOBAL_CAP")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "unknown provider mode",
			mutate:  func(c *Config) { c.Provider.Mode = "rss" },
			wantErr: "unknown provider mode",
		},
		{
			name:    "sample mode needs a file",
			mutate:  func(c *Config) { c.Provider.Mode = "sample" },
			wantErr: "sample_file",
		},
		{
			name:    "timeout shorter than poll interval",
			mutate:  func(c *Config) { c.Provider.Timeout = time.Second },
			wantErr: "poll interval",
		},
		{
			name:    "non-positive caps",
			mutate:  func(c *Config) { c.Fetch.GlobalCap = 0 },
			wantErr: "global cap",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "chatty" },
			wantErr: "invalid log level",
		},
		{
			name: "media settings ignored when downloads are off",
			mutate: func(c *Config) {
				c.Media.Download = false
				c.Media.ConcurrentDownloads = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireSecretsAndResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Summary.Enabled = true
	cfg.Publish.Enabled = true
	cfg.Publish.Feishu.AppID = "cli_app"
	cfg.Publish.Feishu.ChatID = "oc_1"

	require.Error(t, cfg.RequireSecrets())

	store := map[string]string{
		SecretProvider: "apify-secret",
		SecretSummary:  "sk-secret",
		SecretFeishu:   "feishu-secret",
	}
	cfg.Provider.Token = "from-env"
	cfg.ResolveSecrets(func(name string) (string, error) {
		v, ok := store[name]
		if !ok {
			return "", errors.New("not found")
		}
		return v, nil
	})

	assert.Equal(t, "from-env", cfg.Provider.Token, "explicit values are not replaced")
	assert.Equal(t, "sk-secret", cfg.Summary.APIKey)
	assert.Equal(t, "feishu-secret", cfg.Publish.Feishu.AppSecret)
	assert.NoError(t, cfg.RequireSecrets())
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Publish.Enabled = true

	cfg.MergeCommandLineFlags(map[string]interface{}{
		"sample":     "testdata/posts.jsonl",
		"window":     6 * time.Hour,
		"no-publish": true,
		"db":         "",
	})

	assert.Equal(t, "sample", cfg.Provider.Mode)
	assert.Equal(t, "testdata/posts.jsonl", cfg.Provider.SampleFile)
	assert.Equal(t, 6*time.Hour, cfg.Report.Window)
	assert.False(t, cfg.Publish.Enabled)
	assert.Equal(t, DefaultConfig().Storage.DatabasePath, cfg.Storage.DatabasePath, "empty flags are ignored")
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tweetdigest.yaml")

	cfg := DefaultConfig()
	cfg.Fetch.GlobalCap = 99
	cfg.Report.Window = 168 * time.Hour
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 99, loaded.Fetch.GlobalCap)
	assert.Equal(t, 168*time.Hour, loaded.Report.Window)
}

func TestLoadFromFileReadsDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  poll_interval: 2s\n  timeout: 1m\n"), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, 2*time.Second, cfg.Provider.PollInterval)
	assert.Equal(t, time.Minute, cfg.Provider.Timeout)
	assert.Equal(t, "apify", cfg.Provider.Mode, "unset keys keep defaults")
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  per_account_limit: 5\n  global_cap: 50\n"), 0600))
	t.Setenv("TWEETDIGEST_GLOBAL_CAP", "60")

	cfg, err := Load(path, map[string]interface{}{"global-cap": 70})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Fetch.PerAccountLimit)
	assert.Equal(t, 70, cfg.Fetch.GlobalCap)
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, "data/x.db.lock", StorageConfig{DatabasePath: "data/x.db"}.LockPath())
	assert.Equal(t, "/run/td.lock", StorageConfig{DatabasePath: "x.db", LockFile: "/run/td.lock"}.LockPath())
}
