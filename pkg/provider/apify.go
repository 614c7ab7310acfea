package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/theoren0108/TweetDigest/pkg/config"
	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/ratelimit"
	"github.com/theoren0108/TweetDigest/pkg/retry"
)

const (
	// DefaultBaseURL is the Apify API root
	DefaultBaseURL = "https://api.apify.com/v2"
	// DefaultActorID is the tweet scraper actor
	DefaultActorID = "apidojo~twitter-scraper-lite"
)

// datasetPageSize is the item count requested per dataset page
const datasetPageSize = 1000

// legacyInputKeys are template keys older actors used for the account list
var legacyInputKeys = []string{"handles", "usernames", "startUrls", "tweetsDesired", "author"}

// HTTPProvider runs an Apify actor over its REST API
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	token      string
	actorID    string
	template   map[string]any
	retry      *retry.Config
	limiter    ratelimit.Limiter
	pageSize   int
	logger     logger.Logger

	mu       sync.Mutex
	datasets map[string]string
}

// NewHTTPProvider creates a provider from configuration
func NewHTTPProvider(cfg config.ProviderConfig, log logger.Logger) (*HTTPProvider, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Token == "" {
		return nil, errs.New(errs.ErrorTypeConfig, "provider token is required in apify mode")
	}
	template, err := LoadInputTemplate(cfg.InputTemplate)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	actorID := cfg.ActorID
	if actorID == "" {
		actorID = DefaultActorID
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.MaxRetries + 1
	rc.RateLimitDelay = 10 * time.Second
	rc.Logger = log

	return &HTTPProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      cfg.Token,
		actorID:    actorID,
		template:   template,
		retry:      rc,
		limiter:    ratelimit.PerMinute(cfg.RequestsPerMinute, 1),
		pageSize:   datasetPageSize,
		logger:     log,
		datasets:   make(map[string]string),
	}, nil
}

// SetHTTPClient replaces the HTTP client
func (p *HTTPProvider) SetHTTPClient(c *http.Client) {
	p.httpClient = c
}

// SetRetry replaces the retry policy
func (p *HTTPProvider) SetRetry(cfg *retry.Config) {
	p.retry = cfg
}

// LoadInputTemplate reads the actor input template. s is inline JSON or a
// path to a JSON file; empty means no template.
func LoadInputTemplate(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, nil
	}
	data := []byte(s)
	if !strings.HasPrefix(s, "{") {
		var err error
		if data, err = os.ReadFile(s); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeConfig, "read input template", err)
		}
	}
	var tmpl map[string]any
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, "parse input template", err)
	}
	if tmpl == nil {
		tmpl = map[string]any{}
	}
	return tmpl, nil
}

// BuildInput merges the query into a copy of the template
func (p *HTTPProvider) BuildInput(q Query) map[string]any {
	input := make(map[string]any, len(p.template)+2)
	for k, v := range p.template {
		input[k] = v
	}
	for _, k := range legacyInputKeys {
		delete(input, k)
	}
	input["searchTerms"] = q.SearchTerms()
	input["maxItems"] = q.MaxItems()
	return input
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

// Submit starts an actor run
func (p *HTTPProvider) Submit(ctx context.Context, q Query) (Job, error) {
	body, err := json.Marshal(p.BuildInput(q))
	if err != nil {
		return Job{}, err
	}
	endpoint := fmt.Sprintf("%s/acts/%s/runs", p.baseURL, url.PathEscape(p.actorID))

	var env runEnvelope
	if err := p.doJSON(ctx, http.MethodPost, endpoint, body, &env); err != nil {
		return Job{}, fmt.Errorf("start actor run: %w", err)
	}
	if env.Data.ID == "" {
		return Job{}, errs.New(errs.ErrorTypeTransient, "actor run response has no id")
	}
	p.remember(env.Data.ID, env.Data.DefaultDatasetID)
	return Job{ID: env.Data.ID, Status: Status{State: env.Data.Status, DatasetID: env.Data.DefaultDatasetID}}, nil
}

// Poll reads the run status
func (p *HTTPProvider) Poll(ctx context.Context, jobID string) (Status, error) {
	endpoint := fmt.Sprintf("%s/actor-runs/%s", p.baseURL, url.PathEscape(jobID))

	var env runEnvelope
	if err := p.doJSON(ctx, http.MethodGet, endpoint, nil, &env); err != nil {
		return Status{}, fmt.Errorf("poll run %s: %w", jobID, err)
	}
	p.remember(jobID, env.Data.DefaultDatasetID)
	return Status{State: env.Data.Status, DatasetID: env.Data.DefaultDatasetID}, nil
}

// FetchResults downloads the run's dataset items
func (p *HTTPProvider) FetchResults(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	datasetID := p.dataset(jobID)
	if datasetID == "" {
		st, err := p.Poll(ctx, jobID)
		if err != nil {
			return nil, err
		}
		datasetID = st.DatasetID
	}
	if datasetID == "" {
		return nil, nil
	}

	var items []json.RawMessage
	for offset := 0; ; {
		endpoint := fmt.Sprintf("%s/datasets/%s/items?format=json&clean=true&offset=%d&limit=%d",
			p.baseURL, url.PathEscape(datasetID), offset, p.pageSize)
		var page []json.RawMessage
		if err := p.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("fetch dataset %s: %w", datasetID, err)
		}
		items = append(items, page...)
		if len(page) < p.pageSize {
			return items, nil
		}
		offset += len(page)
	}
}

func (p *HTTPProvider) remember(jobID, datasetID string) {
	if datasetID == "" {
		return
	}
	p.mu.Lock()
	p.datasets[jobID] = datasetID
	p.mu.Unlock()
}

func (p *HTTPProvider) dataset(jobID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.datasets[jobID]
}

// doJSON sends one request with retries and decodes a successful response
func (p *HTTPProvider) doJSON(ctx context.Context, method, endpoint string, body []byte, target any) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeUnknown, "build request", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := p.httpClient.Do(req)
		if err != nil {
			logger.LogRequest(p.logger, method, endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.Wrap(errs.ErrorTypeTransient, method+" "+endpoint, err)
		}
		defer resp.Body.Close()
		logger.LogRequest(p.logger, method, endpoint, resp.StatusCode, time.Since(start))

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeTransient, "read response", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &errs.Error{
				Type:    errs.FromStatusCode(resp.StatusCode),
				Code:    resp.StatusCode,
				Op:      method + " " + endpoint,
				Message: preview(data),
			}
		}
		if err := json.Unmarshal(data, target); err != nil {
			p.logger.ErrorWithFields("Failed to parse provider response", map[string]interface{}{
				"url":          endpoint,
				"status":       resp.StatusCode,
				"error":        err.Error(),
				"body_preview": preview(data),
			})
			return errs.Wrap(errs.ErrorTypeMalformedRecord, "decode response", err)
		}
		return nil
	}, p.retry)
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
