package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/retry"
)

// HTTPFetcher downloads media over HTTP with retries for transient failures
type HTTPFetcher struct {
	client *http.Client
	retry  *retry.Config
	logger logger.Logger
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout
func NewHTTPFetcher(timeout time.Duration, log logger.Logger) *HTTPFetcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	cfg := retry.DefaultConfig()
	cfg.Logger = log
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		retry:  cfg,
		logger: log,
	}
}

// Fetch returns the response body and the URL it was finally served from
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, string, error) {
	resp, err := retry.DoWithResult(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeMediaFetch, "build request", err)
		}

		start := time.Now()
		resp, err := f.client.Do(req)
		if err != nil {
			logger.LogRequest(f.logger, req.Method, url, 0, time.Since(start))
			return nil, errs.Wrap(errs.ErrorTypeTransient, "fetch media", err)
		}
		logger.LogRequest(f.logger, req.Method, url, resp.StatusCode, time.Since(start))

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			typ := errs.FromStatusCode(resp.StatusCode)
			if !errs.IsRetryable(typ) {
				typ = errs.ErrorTypeMediaFetch
			}
			return nil, &errs.Error{Type: typ, Code: resp.StatusCode, Op: "fetch media", Message: url}
		}
		return resp, nil
	}, f.retry)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", url, err)
	}
	return resp.Body, resp.Request.URL.String(), nil
}
