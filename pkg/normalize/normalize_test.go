package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
)

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantID    string
		wantAcct  string
		wantShape Shape
		wantTime  string
		wantURL   string
	}{
		{
			name:      "legacy payload",
			raw:       `{"id_str":"1845039845039845039","id":1.845039845039845e18,"user":{"screen_name":"NASA"},"created_at":"Thu Oct 15 08:00:00 +0000 2026","full_text":"Liftoff!"}`,
			wantID:    "1845039845039845039",
			wantAcct:  "nasa",
			wantShape: ShapeLegacy,
			wantTime:  "2026-10-15T08:00:00Z",
			wantURL:   "https://x.com/nasa/status/1845039845039845039",
		},
		{
			name:      "lite payload with author object",
			raw:       `{"tweetId":"42","author":{"userName":"@Alice","name":"Alice A."},"createdAt":"2026-10-15T08:00:00.123Z","text":"hi","twitterUrl":"https://twitter.com/alice/status/42"}`,
			wantID:    "42",
			wantAcct:  "alice",
			wantShape: ShapeLite,
			wantTime:  "2026-10-15T08:00:00Z",
			wantURL:   "https://twitter.com/alice/status/42",
		},
		{
			name:      "flat payload with numeric id and epoch millis",
			raw:       `{"id":1845039845039845039,"username":"bob","timestamp":1760515200000,"tweet":"gm"}`,
			wantID:    "1845039845039845039",
			wantAcct:  "bob",
			wantShape: ShapeFlat,
			wantTime:  "2025-10-15T08:00:00Z",
			wantURL:   "https://x.com/bob/status/1845039845039845039",
		},
		{
			name:      "flat payload with zone-less timestamp",
			raw:       `{"id":"7","author":"Carol","date":"2026-10-15T08:00:00","text":"x","url":"https://x.com/carol/status/7"}`,
			wantID:    "7",
			wantAcct:  "carol",
			wantShape: ShapeFlat,
			wantTime:  "2026-10-15T08:00:00Z",
			wantURL:   "https://x.com/carol/status/7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Normalize([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, c.ID)
			assert.Equal(t, tt.wantAcct, c.Account)
			assert.Equal(t, tt.wantShape, c.Shape)
			assert.Equal(t, tt.wantURL, c.URL)
			require.NotNil(t, c.CreatedAt)
			assert.Equal(t, tt.wantTime, c.CreatedAt.Format(time.RFC3339))
			assert.Equal(t, tt.raw, string(c.Raw))
		})
	}
}

func TestNormalizeRejections(t *testing.T) {
	for _, raw := range []string{
		`{"author":"alice","text":"no id"}`,
		`{"id":"1","text":"no author"}`,
		`{"id":"1","author":"  @ "}`,
		`[1,2]`,
		`not json`,
	} {
		_, err := Normalize([]byte(raw))
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, errs.ErrMalformedRecord, raw)
	}
}

func TestNormalizeKeepsUnparsableTimestamp(t *testing.T) {
	c, err := Normalize([]byte(`{"id":"1","author":"alice","created_at":"sometime last week"}`))
	require.NoError(t, err)
	assert.Nil(t, c.CreatedAt)
	assert.Empty(t, c.Post().CreatedAt)
}

func TestNormalizeKeepsLargeNumericIDs(t *testing.T) {
	c, err := Normalize([]byte(`{"id":12345678901234567890123,"author":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, "12345678901234567890123", c.ID)
	assert.Equal(t, "https://x.com/alice/status/12345678901234567890123", c.URL)
}

func TestNormalizeRejectsOutOfRangeEpoch(t *testing.T) {
	c, err := Normalize([]byte(`{"id":"1","author":"alice","timestamp":1e20}`))
	require.NoError(t, err)
	assert.Nil(t, c.CreatedAt)
}

func TestNormalizeCleansText(t *testing.T) {
	c, err := Normalize([]byte(`{"id":"1","author":"alice","text":"<b>Big</b> news &amp; more <a href=\"https://t.co/x\">link</a>"}`))
	require.NoError(t, err)
	assert.Equal(t, "Big news & more link", c.Text)
}

func TestNormalizeAll(t *testing.T) {
	res := NormalizeAll([]json.RawMessage{
		json.RawMessage(`{"id":"1","author":"alice"}`),
		json.RawMessage(`{"id":"2"}`),
		json.RawMessage(`{"id":"3","user":{"username":"bob"}}`),
	})
	require.Len(t, res.Candidates, 2)
	assert.Len(t, res.Rejected, 1)
	assert.Equal(t, "bob", res.Candidates[1].Account)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	inputs := []any{
		"2026-10-15T08:00:00Z",
		"2026-10-15T08:00:00",
		"2026-10-15T10:00:00+02:00",
		"2026-10-15T10:00:00+0200",
		"2026-10-15 08:00:00",
		"Thu Oct 15 08:00:00 +0000 2026",
		"Thu, 15 Oct 2026 10:00:00 +0200",
		json.Number("1792051200"),
		json.Number("1792051200000"),
		float64(1792051200),
		"1792051200",
	}
	for _, in := range inputs {
		got, ok := ParseTimestamp(in)
		require.True(t, ok, "%v", in)
		assert.True(t, want.Equal(got), "%v parsed as %s", in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	frac, ok := ParseTimestamp("2026-10-15T08:00:00.250Z")
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, frac.Sub(want))

	for _, bad := range []any{"", "yesterday", true, nil, json.Number("-5"), "1e20", float64(1e20),
		json.Number("253402300800000")} {
		_, ok := ParseTimestamp(bad)
		assert.False(t, ok, "%v", bad)
	}
}
