package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/ratelimit"
	"github.com/theoren0108/TweetDigest/pkg/storage"
)

// Job is a single media fetch
type Job struct {
	PostID string
	Key    string
	URL    string
	// Index is the caller's position for the job, returned untouched
	Index int
}

// Result represents the result of a download job
type Result struct {
	Job      Job
	Blob     storage.Blob
	FinalURL string
	Error    error
	Duration time.Duration
}

// Success reports whether the content was stored
func (r Result) Success() bool {
	return r.Error == nil && r.Blob.Hash != ""
}

// Fetcher opens a media URL. finalURL is the address after redirects.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body io.ReadCloser, finalURL string, err error)
}

// BlobStore persists fetched content
type BlobStore interface {
	Put(r io.Reader) (storage.Blob, error)
}

// WorkerPool manages concurrent download workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     Fetcher
	store       BlobStore
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx; cancelling ctx stops the workers
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	fetcher Fetcher,
	store BlobStore,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if numWorkers <= 0 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		store:       store,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for in-flight jobs and closes Results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Submit adds a new download job to the queue
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// Run processes jobs and returns one result per job, in job order. Jobs not
// reached before ctx is done come back with the context error.
func (wp *WorkerPool) Run(jobs []Job) []Result {
	results := make([]Result, len(jobs))
	for i := range jobs {
		results[i] = Result{Job: jobs[i]}
	}

	wp.Start()
	go func() {
		for i, job := range jobs {
			job.Index = i
			if err := wp.Submit(job); err != nil {
				for j := i; j < len(jobs); j++ {
					results[j].Error = err
				}
				break
			}
		}
		wp.Stop()
	}()

	for r := range wp.Results() {
		results[r.Job.Index] = r
	}
	return results
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		var result Result
		if err := wp.ctx.Err(); err != nil {
			result = Result{Job: job, Error: err}
		} else {
			result = wp.processJob(job, id)
		}
		// Results is drained until Stop closes it, so this never blocks forever.
		wp.resultQueue <- result
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if !wp.rateLimiter.Allow() {
		wp.logger.DebugWithFields("Worker waiting for rate limit", map[string]interface{}{
			"worker_id": workerID,
			"post_id":   job.PostID,
		})
		if err := wp.rateLimiter.Wait(wp.ctx); err != nil {
			result.Error = fmt.Errorf("rate limit wait: %w", err)
			result.Duration = time.Since(start)
			return result
		}
	}

	body, finalURL, err := wp.fetcher.Fetch(wp.ctx, job.URL)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	defer body.Close()
	result.FinalURL = finalURL

	blob, err := wp.store.Put(body)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Errorf("save failed: %w", err)
		return result
	}
	result.Blob = blob

	wp.logger.DebugWithFields("Worker completed job", map[string]interface{}{
		"worker_id": workerID,
		"post_id":   job.PostID,
		"hash":      blob.Hash,
		"size":      blob.Size,
		"duration":  result.Duration,
	})
	return result
}
