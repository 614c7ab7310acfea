package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoren0108/TweetDigest/pkg/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "info level", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "debug json", cfg: &config.LoggingConfig{Level: "debug", Format: "json"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.level)
		if tt.wantErr {
			assert.Error(t, err, tt.level)
			continue
		}
		assert.NoError(t, err, tt.level)
		assert.Equal(t, tt.expected, got, tt.level)
	}
}

func TestFieldsAreBoundToChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := newWithWriter(&buf, zerolog.DebugLevel)

	child := base.WithField("run_id", "r-1").WithFields(map[string]interface{}{"stage": "fetch"})
	child.InfoWithFields("Fetched records", map[string]interface{}{
		"records":  3,
		"duration": 2 * time.Second,
	})
	base.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "Fetched records", entries[0]["message"])
	assert.Equal(t, "r-1", entries[0]["run_id"])
	assert.Equal(t, "fetch", entries[0]["stage"])
	assert.Equal(t, float64(3), entries[0]["records"])
	assert.Equal(t, "tweetdigest", entries[0]["app"])

	_, leaked := entries[1]["run_id"]
	assert.False(t, leaked, "parent logger must not see child fields")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, zerolog.InfoLevel)

	l.WithError(errors.New("boom")).Error("Run failed")
	assert.Same(t, l, l.WithError(nil))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0]["error"])
	assert.Equal(t, "error", entries[0]["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, zerolog.WarnLevel)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["message"])
}

func TestLogRequestLevels(t *testing.T) {
	tl := NewTestLogger()

	LogRequest(tl, "GET", "https://example.test/ok", 200, time.Millisecond)
	LogRequest(tl, "GET", "https://example.test/missing", 404, time.Millisecond)
	LogRequest(tl, "POST", "https://example.test/down", 503, time.Millisecond)

	assert.Len(t, tl.GetMessagesByLevel("DEBUG"), 1)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
	require.Len(t, tl.GetMessagesByLevel("ERROR"), 1)
	assert.Equal(t, 503, tl.GetMessagesByLevel("ERROR")[0].Fields["status_code"])
}

func TestTestLoggerSharesSinkAcrossChildren(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("account", "alice").WithError(errors.New("x"))

	child.Warn("Media fetch failed")
	tl.Info("Run finished")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice", msgs[0].Fields["account"])
	assert.EqualError(t, msgs[0].Error, "x")
	assert.Nil(t, msgs[1].Fields)
	assert.True(t, tl.HasMessage("Run finished"))

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.WithField("k", "v").InfoWithFields("ignored", map[string]interface{}{"n": 1})
	})
	assert.NotNil(t, l.GetZerolog())
}
