package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/theoren0108/TweetDigest/pkg/checkpoint"
	"github.com/theoren0108/TweetDigest/pkg/cursor"
	"github.com/theoren0108/TweetDigest/pkg/models"
)

// DefaultTopKeywords is used when Input.TopKeywords is not set
const DefaultTopKeywords = 12

const (
	emptyNotice = "No new posts found in this window."
	footer      = "_Generated by tweetdigest._"
)

// Input is everything a digest is rendered from
type Input struct {
	Posts []models.Post
	// Title defaults to "Daily digest"
	Title       string
	WindowLabel string
	// Summary is the optional summary over all posts
	Summary string
	// CategorySummaries maps category to its summary
	CategorySummaries map[string]string
	// Categories maps account handle to category
	Categories  map[string]string
	TopKeywords int
	FoldPlurals bool
}

// Bucket is one account's posts
type Bucket struct {
	Handle string
	Posts  []models.Post
}

// Title picks the digest heading for a window
func Title(window time.Duration) string {
	if window >= 7*24*time.Hour {
		return "Weekly digest"
	}
	return "Daily digest"
}

// WindowLabel describes the window ending at now
func WindowLabel(now time.Time, window time.Duration) string {
	hours := int(window.Round(time.Hour) / time.Hour)
	return fmt.Sprintf("past %dh ending %s", hours, now.UTC().Format("2006-01-02 15:04 UTC"))
}

// GroupByAccount buckets posts by lowercased account, buckets sorted by
// handle and posts by time with the id as tie-break
func GroupByAccount(posts []models.Post) []Bucket {
	byHandle := make(map[string][]models.Post)
	for _, p := range posts {
		handle := p.Account
		if handle == "" {
			handle = p.Author
		}
		handle = models.NormalizeHandle(handle)
		byHandle[handle] = append(byHandle[handle], p)
	}

	buckets := make([]Bucket, 0, len(byHandle))
	for handle, ps := range byHandle {
		sort.SliceStable(ps, func(i, j int) bool {
			ti, _ := ps[i].Time()
			tj, _ := ps[j].Time()
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return cursor.CompareIDs(ps[i].ID, ps[j].ID) < 0
		})
		buckets = append(buckets, Bucket{Handle: handle, Posts: ps})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Handle < buckets[j].Handle })
	return buckets
}

// Render builds the markdown digest. It depends on nothing but in.
func Render(in Input) string {
	title := in.Title
	if title == "" {
		title = "Daily digest"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%s)\n\n", title, in.WindowLabel)

	if len(in.Posts) == 0 {
		b.WriteString(emptyNotice + "\n")
		return b.String()
	}

	n := in.TopKeywords
	if n <= 0 {
		n = DefaultTopKeywords
	}
	keywords := TopKeywords(in.Posts, n, in.FoldPlurals)
	kw := "N/A"
	if len(keywords) > 0 {
		kw = strings.Join(keywords, ", ")
	}
	fmt.Fprintf(&b, "Total new posts: **%d**. Top keywords: %s.\n\n", len(in.Posts), kw)

	if s := strings.TrimSpace(in.Summary); s != "" {
		fmt.Fprintf(&b, "### LLM summary\n\n%s\n\n", s)
	}

	categories := make([]string, 0, len(in.CategorySummaries))
	for c := range in.CategorySummaries {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		if s := strings.TrimSpace(in.CategorySummaries[c]); s != "" {
			fmt.Fprintf(&b, "### LLM summary: %s\n\n%s\n\n", c, s)
		}
	}

	b.WriteString("### Posts by account\n\n")
	for _, bucket := range GroupByAccount(in.Posts) {
		fmt.Fprintf(&b, "**@%s**", bucket.Handle)
		if c := in.Categories[bucket.Handle]; c != "" {
			fmt.Fprintf(&b, " (%s)", c)
		}
		fmt.Fprintf(&b, " — %s\n", plural(len(bucket.Posts), "post"))
		for _, p := range bucket.Posts {
			b.WriteString(formatPost(p))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(keywords) > 0 {
		b.WriteString("### Quick themes (frequency only)\n\n")
		for _, k := range keywords {
			fmt.Fprintf(&b, "- %s\n", k)
		}
		b.WriteString("\n")
	}

	b.WriteString(footer + "\n")
	return b.String()
}

func formatPost(p models.Post) string {
	stamp := p.CreatedAt
	if t, ok := p.Time(); ok {
		stamp = t.Format("2006-01-02 15:04 UTC")
	}
	text := strings.Join(strings.Fields(p.Text), " ")
	line := fmt.Sprintf("- %s — %s", stamp, text)
	if p.URL != "" {
		line += fmt.Sprintf(" (%s)", p.URL)
	}
	return line
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// WriteFile stores the digest at path, replacing any previous one atomically
func WriteFile(path, doc string) error {
	if err := checkpoint.WriteFileAtomic(path, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write digest: %w", err)
	}
	return nil
}
