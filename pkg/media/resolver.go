package media

import (
	"context"
	"time"

	"github.com/theoren0108/TweetDigest/internal/downloader"
	"github.com/theoren0108/TweetDigest/pkg/config"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/ratelimit"
	"github.com/theoren0108/TweetDigest/pkg/storage"
)

// Options wires a Resolver
type Options struct {
	Enabled bool
	Workers int
	Fetcher downloader.Fetcher
	Blobs   downloader.BlobStore
	Limiter ratelimit.Limiter
	Logger  logger.Logger
}

// Resolver fetches media and stores it by content hash
type Resolver struct {
	opts Options
}

// Stats counts the outcome of one Resolve call
type Stats struct {
	Descriptors  int `json:"descriptors"`
	Stored       int `json:"stored"`
	Deduplicated int `json:"deduplicated"`
	Failed       int `json:"failed"`
}

// NewResolver builds a resolver from configuration
func NewResolver(cfg config.MediaConfig, log logger.Logger) (*Resolver, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	opts := Options{Enabled: cfg.Download, Workers: cfg.ConcurrentDownloads, Logger: log}
	if cfg.Download {
		blobs, err := storage.NewManager(cfg.Directory, cfg.MaxFileSize)
		if err != nil {
			return nil, err
		}
		opts.Blobs = blobs
		opts.Fetcher = NewHTTPFetcher(cfg.Timeout, log)
		opts.Limiter = ratelimit.PerMinute(cfg.RequestsPerMinute, cfg.BurstSize)
	}
	return New(opts), nil
}

// New creates a resolver
func New(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Fetcher == nil || opts.Blobs == nil {
		opts.Enabled = false
	}
	return &Resolver{opts: opts}
}

// Attach extracts the media descriptors of every post from its raw payload
func Attach(posts []models.NewPost) []models.NewPost {
	for i := range posts {
		posts[i].Media = Extract(posts[i].Post.ID, posts[i].Post.Raw)
	}
	return posts
}

// Resolve fetches every descriptor and records hash, local path and final URL.
// A failed fetch leaves the descriptor with nil hash and path; it never
// affects other descriptors or the post.
func (r *Resolver) Resolve(ctx context.Context, posts []models.NewPost) Stats {
	var (
		stats Stats
		jobs  []downloader.Job
		slots [][2]int
	)
	for i := range posts {
		for j, m := range posts[i].Media {
			stats.Descriptors++
			jobs = append(jobs, downloader.Job{PostID: m.PostID, Key: m.Key, URL: m.SourceURL})
			slots = append(slots, [2]int{i, j})
		}
	}
	if !r.opts.Enabled || len(jobs) == 0 {
		return stats
	}

	start := time.Now()
	pool := downloader.NewWorkerPool(ctx, r.opts.Workers, r.opts.Fetcher, r.opts.Blobs, r.opts.Limiter, r.opts.Logger)
	for k, res := range pool.Run(jobs) {
		slot := slots[k]
		m := &posts[slot[0]].Media[slot[1]]
		logger.LogMediaFetch(r.opts.Logger, res.Job.PostID, res.Job.URL, res.Blob.Hash, res.Error)
		if !res.Success() {
			stats.Failed++
			continue
		}
		hash, path := res.Blob.Hash, res.Blob.Path
		m.Hash = &hash
		m.LocalPath = &path
		m.RemoteURL = res.FinalURL
		stats.Stored++
		if res.Blob.Existed {
			stats.Deduplicated++
		}
	}

	logger.LogStage(r.opts.Logger, "media", start, map[string]interface{}{
		"descriptors":  stats.Descriptors,
		"stored":       stats.Stored,
		"deduplicated": stats.Deduplicated,
		"failed":       stats.Failed,
	})
	return stats
}
