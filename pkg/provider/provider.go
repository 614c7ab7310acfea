package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/retry"
)

// Run states reported by the provider
const (
	StateReady     = "READY"
	StateRunning   = "RUNNING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
	StateTimedOut  = "TIMED-OUT"
	StateAborted   = "ABORTED"
	StateCancelled = "CANCELLED"
)

// Query asks for recent posts of some accounts
type Query struct {
	Handles []string
	// PerAccount is the number of items wanted per handle
	PerAccount int
}

// MaxItems is the total item budget requested from the provider
func (q Query) MaxItems() int {
	n := q.PerAccount * len(q.Handles)
	if n < 1 {
		n = 1
	}
	return n
}

// SearchTerms renders the handles as provider search terms
func (q Query) SearchTerms() []string {
	terms := make([]string, 0, len(q.Handles))
	for _, h := range q.Handles {
		if h = models.NormalizeHandle(h); h != "" {
			terms = append(terms, "from:"+h)
		}
	}
	return terms
}

// Status is a snapshot of a provider run
type Status struct {
	State     string
	DatasetID string
}

// Terminal reports whether the run will not change state again
func (s Status) Terminal() bool {
	switch s.State {
	case StateSucceeded, StateFailed, StateTimedOut, "TIMED_OUT", StateAborted, StateCancelled:
		return true
	}
	return false
}

// Succeeded reports whether the run finished successfully
func (s Status) Succeeded() bool {
	return s.State == StateSucceeded
}

// Job is a submitted run
type Job struct {
	ID     string
	Status Status
}

// Provider runs a scrape job and returns its raw items
type Provider interface {
	Submit(ctx context.Context, q Query) (Job, error)
	Poll(ctx context.Context, jobID string) (Status, error)
	FetchResults(ctx context.Context, jobID string) ([]json.RawMessage, error)
}

// PollConfig bounds the wait for a run
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   logger.Logger
}

// Collect submits q, polls until the run is terminal or the timeout passes,
// and fetches the results. Running out of time yields ErrProviderTimeout.
func Collect(ctx context.Context, p Provider, q Query, cfg PollConfig) ([]json.RawMessage, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(cfg.Timeout)

	job, err := p.Submit(ctx, q)
	if err != nil {
		return nil, err
	}
	log.InfoWithFields("Provider run submitted", map[string]interface{}{
		"job_id":    job.ID,
		"handles":   len(q.Handles),
		"max_items": q.MaxItems(),
	})

	status := job.Status
	for !status.Terminal() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &errs.Error{
				Type:    errs.ErrorTypeProviderTimeout,
				Op:      "poll run " + job.ID,
				Message: fmt.Sprintf("not finished after %s", cfg.Timeout),
			}
		}
		if err := retry.Wait(ctx, min(interval, remaining)); err != nil {
			return nil, err
		}
		if status, err = p.Poll(ctx, job.ID); err != nil {
			return nil, err
		}
		log.DebugWithFields("Provider run status", map[string]interface{}{
			"job_id": job.ID,
			"state":  status.State,
		})
	}

	if !status.Succeeded() {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeTransient,
			Op:      "run " + job.ID,
			Message: "ended with status " + status.State,
		}
	}

	items, err := p.FetchResults(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	log.InfoWithFields("Provider results fetched", map[string]interface{}{
		"job_id": job.ID,
		"items":  len(items),
	})
	return items, nil
}
