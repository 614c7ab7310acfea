package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/theoren0108/TweetDigest/pkg/config"
	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/retry"
)

// Uncategorized is the bucket for accounts without a category
const Uncategorized = "Uncategorized"

const (
	defaultMaxPosts    = 30
	defaultMaxChars    = 400
	defaultTemperature = 0.2

	systemPrompt = "You are an analyst who writes crisp summaries of social media posts."
)

// Summary is the model output and the posts it covered
type Summary struct {
	Category string
	Text     string
	PostIDs  []string
}

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxPosts    int
	maxChars    int
	temperature float64
	retry       *retry.Config
	logger      logger.Logger
}

// New creates a summarizer client from configuration
func New(cfg config.SummaryConfig, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.APIKey == "" {
		return nil, errs.New(errs.ErrorTypeConfig, "summary API key is required")
	}
	if cfg.Model == "" {
		return nil, errs.New(errs.ErrorTypeConfig, "summary model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxPosts := cfg.MaxPosts
	if maxPosts <= 0 {
		maxPosts = defaultMaxPosts
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	rc := retry.DefaultConfig()
	rc.RateLimitDelay = 5 * time.Second
	rc.Logger = log

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxPosts:    maxPosts,
		maxChars:    maxChars,
		temperature: temperature,
		retry:       rc,
		logger:      log,
	}, nil
}

// SetRetry replaces the retry policy
func (c *Client) SetRetry(cfg *retry.Config) {
	c.retry = cfg
}

// Summarize asks the model for a summary of posts. category names the group
// in the prompt and may be empty. No posts means no request and an empty Summary.
func (c *Client) Summarize(ctx context.Context, posts []models.Post, category string) (Summary, error) {
	out := Summary{Category: category}
	selected := Select(posts, c.maxPosts)
	if len(selected) == 0 {
		return out, nil
	}

	prompt := BuildPrompt(selected, category, c.maxChars)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return out, err
	}

	out.Text = text
	for _, p := range selected {
		out.PostIDs = append(out.PostIDs, p.ID)
	}
	return out, nil
}

// SummarizeByCategory summarizes each category's posts separately. A failed
// category is logged and left out so the others still make the digest.
func (c *Client) SummarizeByCategory(ctx context.Context, posts []models.Post, categories map[string]string) []Summary {
	groups := GroupByCategory(posts, categories)

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Summary
	for _, name := range names {
		s, err := c.Summarize(ctx, groups[name], name)
		if err != nil {
			c.logger.WithError(err).WarnWithFields("Summary failed", map[string]interface{}{
				"category": name,
				"posts":    len(groups[name]),
			})
			continue
		}
		if s.Text == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// GroupByCategory buckets posts by their account's category
func GroupByCategory(posts []models.Post, categories map[string]string) map[string][]models.Post {
	groups := make(map[string][]models.Post)
	for _, p := range posts {
		handle := p.Account
		if handle == "" {
			handle = p.Author
		}
		cat := categories[models.NormalizeHandle(handle)]
		if cat == "" {
			cat = Uncategorized
		}
		groups[cat] = append(groups[cat], p)
	}
	return groups
}

// Select orders posts newest first and keeps at most max of them
func Select(posts []models.Post, max int) []models.Post {
	sorted := make([]models.Post, len(posts))
	copy(sorted, posts)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, _ := sorted[i].Time()
		tj, _ := sorted[j].Time()
		return ti.After(tj)
	})
	if max > 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}

// BuildPrompt renders the user prompt. Post text is flattened to one line
// and truncated to maxChars runes.
func BuildPrompt(posts []models.Post, category string, maxChars int) string {
	var b strings.Builder
	b.WriteString("Summarize the key developments, sentiment, and any noteworthy media references ")
	if category != "" {
		fmt.Fprintf(&b, "from these social posts in the %q category. ", category)
	} else {
		b.WriteString("from these social posts. ")
	}
	b.WriteString("Keep the response concise (4-8 bullet points) and actionable, ")
	b.WriteString("calling out accounts, dates, and tickers when helpful.\n\nPosts:\n")

	for _, p := range posts {
		text := truncate(strings.Join(strings.Fields(p.Text), " "), maxChars)
		author := p.Author
		if author == "" {
			author = p.Account
		}
		fmt.Fprintf(&b, "- [%s] @%s: %s (link: %s)\n", p.CreatedAt, strings.TrimPrefix(author, "@"), text, p.URL)
	}
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}
	endpoint := c.baseURL + "/chat/completions"

	return retry.DoWithResult(ctx, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", errs.Wrap(errs.ErrorTypeUnknown, "build request", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.LogRequest(c.logger, http.MethodPost, endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", errs.Wrap(errs.ErrorTypeTransient, "chat completion", err)
		}
		defer resp.Body.Close()
		logger.LogRequest(c.logger, http.MethodPost, endpoint, resp.StatusCode, time.Since(start))

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", errs.Wrap(errs.ErrorTypeTransient, "read response", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", &errs.Error{
				Type:    errs.FromStatusCode(resp.StatusCode),
				Code:    resp.StatusCode,
				Op:      "chat completion",
				Message: string(data),
			}
		}

		var out chatResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return "", errs.Wrap(errs.ErrorTypeMalformedRecord, "decode chat completion", err)
		}
		if len(out.Choices) == 0 {
			return "", errs.New(errs.ErrorTypeMalformedRecord, "chat completion has no choices")
		}
		return strings.TrimSpace(out.Choices[0].Message.Content), nil
	}, c.retry)
}
