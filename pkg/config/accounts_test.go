package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccounts(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []AccountEntry
	}{
		{
			name: "flat yaml list",
			data: "- '@Alice'\n- bob\n- alice\n",
			want: []AccountEntry{{Handle: "alice"}, {Handle: "bob"}},
		},
		{
			name: "wrapped json list",
			data: `{"accounts": ["carol", "Dave"]}`,
			want: []AccountEntry{{Handle: "carol"}, {Handle: "dave"}},
		},
		{
			name: "category map keeps file order",
			data: "space:\n  - nasa\n  - spacex\nai:\n  - openai\n",
			want: []AccountEntry{
				{Handle: "nasa", Category: "space"},
				{Handle: "spacex", Category: "space"},
				{Handle: "openai", Category: "ai"},
			},
		},
		{
			name: "explicit entries",
			data: "accounts:\n  - handle: erin\n    category: news\n  - frank\n",
			want: []AccountEntry{{Handle: "erin", Category: "news"}, {Handle: "frank"}},
		},
		{
			name: "json category map",
			data: `{"ai": ["@OpenAI"], "news": ["reuters"]}`,
			want: []AccountEntry{{Handle: "openai", Category: "ai"}, {Handle: "reuters", Category: "news"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAccounts([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAccountsEmpty(t *testing.T) {
	got, err := ParseAccounts(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveAccounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ai: [alice]\n"), 0600))

	cfg := DefaultConfig()
	cfg.Accounts.File = path
	cfg.Accounts.Handles = []string{"bob", "ALICE"}

	got, err := cfg.ResolveAccounts()
	require.NoError(t, err)
	assert.Equal(t, []AccountEntry{{Handle: "alice", Category: "ai"}, {Handle: "bob"}}, got)

	cfg.Accounts.File = filepath.Join(dir, "missing.yaml")
	got, err = cfg.ResolveAccounts()
	require.NoError(t, err, "inline handles cover a missing file")
	assert.Len(t, got, 2)

	cfg.Accounts.Handles = nil
	_, err = cfg.ResolveAccounts()
	assert.Error(t, err)
}
