package models

import (
	"strings"
	"time"
)

// TimeLayout is the canonical UTC timestamp format for stored posts
const TimeLayout = "2006-01-02T15:04:05Z"

// Account is a tracked account and its fetch cursor
type Account struct {
	Handle         string     `json:"handle"`
	Category       string     `json:"category,omitempty"`
	SinceID        string     `json:"since_id,omitempty"`
	SinceTimestamp *time.Time `json:"since_timestamp,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// Post is a stored post. Raw holds the provider payload as captured.
type Post struct {
	ID           string     `json:"id"`
	Author       string     `json:"author"`
	Account      string     `json:"account"`
	CreatedAt    string     `json:"created_at"`
	Text         string     `json:"text"`
	URL          string     `json:"url"`
	Raw          []byte     `json:"-"`
	Media        []MediaRef `json:"media_manifest"`
	IsSummarized bool       `json:"is_summarized"`
}

// storedLayouts are the created_at formats found in databases written by any
// version; zone-less values are UTC
var storedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Time parses CreatedAt. ok is false when the timestamp is missing or unparsable.
func (p Post) Time() (t time.Time, ok bool) {
	return ParseStoredTime(p.CreatedAt)
}

// ParseStoredTime parses a created_at value as stored
func ParseStoredTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range storedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// MediaRef is one entry of a post's media manifest
type MediaRef struct {
	MediaID   int64   `json:"media_id"`
	Key       string  `json:"media_key"`
	Type      string  `json:"type"`
	SourceURL string  `json:"source_url"`
	Hash      *string `json:"hash"`
	LocalPath *string `json:"local_path"`
}

// Media is a media descriptor extracted from a post, possibly resolved to
// stored content. Hash and LocalPath are nil when the fetch failed or was skipped.
type Media struct {
	ID        int64
	PostID    string
	Key       string
	Type      string
	SourceURL string
	RemoteURL string
	Hash      *string
	LocalPath *string
}

// Ref returns the manifest entry for m
func (m Media) Ref() MediaRef {
	return MediaRef{
		MediaID:   m.ID,
		Key:       m.Key,
		Type:      m.Type,
		SourceURL: m.SourceURL,
		Hash:      m.Hash,
		LocalPath: m.LocalPath,
	}
}

// NewPost is a post ready to be stored together with its media
type NewPost struct {
	Post  Post
	Media []Media
}

// NormalizeHandle trims whitespace, strips a leading @ and lowercases
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimLeft(h, "@")
	return strings.ToLower(strings.TrimSpace(h))
}

// FormatTime renders t in the canonical stored layout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
