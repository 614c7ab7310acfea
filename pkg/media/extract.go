package media

import (
	"fmt"
	"strings"

	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/normalize"
)

var (
	sourceKeys = []string{"media_url_https", "media_url", "url", "mediaUrl", "src", "preview_image_url"}
	keyKeys    = []string{"id_str", "id", "media_key"}
)

// Extract returns the media descriptors of a raw provider record. Unreadable
// records have no media.
func Extract(postID string, raw []byte) []models.Media {
	rec, err := normalize.Decode(raw)
	if err != nil {
		return nil
	}
	return ExtractRecord(postID, rec)
}

// ExtractRecord probes the flat media list, attachments and extended entities,
// in that order, and de-duplicates by source URL
func ExtractRecord(postID string, rec normalize.Record) []models.Media {
	var found []models.Media
	found = append(found, fromList(rec["media"])...)
	found = append(found, fromAttachments(rec)...)
	for _, key := range []string{"extended_entities", "extendedEntities"} {
		if ent, ok := rec[key].(map[string]any); ok {
			found = append(found, fromList(ent["media"])...)
		}
	}

	seen := make(map[string]bool, len(found))
	out := make([]models.Media, 0, len(found))
	for _, m := range found {
		if m.SourceURL == "" || seen[m.SourceURL] {
			continue
		}
		seen[m.SourceURL] = true
		m.PostID = postID
		if m.Key == "" {
			m.Key = fmt.Sprintf("%s-media-%d", postID, len(out)+1)
		}
		out = append(out, m)
	}
	return out
}

func fromList(v any) []models.Media {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []models.Media
	for _, item := range items {
		switch x := item.(type) {
		case string:
			if u := strings.TrimSpace(x); u != "" {
				out = append(out, models.Media{Type: typeFromURL(u), SourceURL: u})
			}
		case map[string]any:
			if m, ok := fromObject(x); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func fromAttachments(rec normalize.Record) []models.Media {
	att, ok := rec["attachments"].(map[string]any)
	if !ok {
		return nil
	}
	if list, ok := att["media"].([]any); ok {
		return fromList(list)
	}

	keys, ok := att["media_keys"].([]any)
	if !ok {
		return nil
	}
	includes, _ := rec["includes"].(map[string]any)
	included, _ := includes["media"].([]any)
	byKey := make(map[string]map[string]any, len(included))
	for _, item := range included {
		if obj, ok := item.(map[string]any); ok {
			if k, ok := obj["media_key"].(string); ok {
				byKey[k] = obj
			}
		}
	}

	var out []models.Media
	for _, k := range keys {
		key, _ := k.(string)
		obj, ok := byKey[key]
		if !ok {
			continue
		}
		if m, ok := fromObject(obj); ok {
			out = append(out, m)
		}
	}
	return out
}

func fromObject(obj map[string]any) (models.Media, bool) {
	m := models.Media{Type: "photo"}
	if t, ok := obj["type"].(string); ok && t != "" {
		m.Type = t
	}
	m.Key = firstString(obj, keyKeys)

	if m.Type == "video" || m.Type == "animated_gif" {
		m.SourceURL = bestVariant(obj)
	}
	if m.SourceURL == "" {
		m.SourceURL = firstString(obj, sourceKeys)
	}
	return m, m.SourceURL != ""
}

// bestVariant picks the highest bitrate mp4 variant
func bestVariant(obj map[string]any) string {
	variants, ok := obj["variants"].([]any)
	if !ok {
		if info, ok := obj["video_info"].(map[string]any); ok {
			variants, _ = info["variants"].([]any)
		}
	}

	best, bestRate := "", -1.0
	for _, v := range variants {
		variant, ok := v.(map[string]any)
		if !ok {
			continue
		}
		ct, _ := variant["content_type"].(string)
		if ct == "" {
			ct, _ = variant["contentType"].(string)
		}
		if ct != "video/mp4" {
			continue
		}
		u := firstString(variant, []string{"url", "src"})
		if u == "" {
			continue
		}
		rate := number(variant["bitrate"])
		if rate > bestRate {
			best, bestRate = u, rate
		}
	}
	return best
}

func typeFromURL(u string) string {
	lower := strings.ToLower(u)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	if strings.HasSuffix(lower, ".mp4") || strings.HasSuffix(lower, ".m3u8") || strings.HasSuffix(lower, ".webm") {
		return "video"
	}
	return "photo"
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case fmt.Stringer:
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case interface{ Float64() (float64, error) }:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}
