// Package retry retries transient failures with backoff.
//
// Provider, summarizer and publisher calls go through Do so that a flaky
// network hop does not fail a whole digest run. Typed errors from
// pkg/errors decide retryability: transient, rate limit and provider timeout
// kinds are retried, everything else is returned at once.
//
//	items, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]json.RawMessage, error) {
//		return client.FetchResults(ctx, jobID)
//	}, &retry.Config{MaxAttempts: 3, Backoff: retry.DefaultExponentialBackoff()})
package retry
