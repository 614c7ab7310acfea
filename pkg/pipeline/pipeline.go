package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/theoren0108/TweetDigest/pkg/checkpoint"
	"github.com/theoren0108/TweetDigest/pkg/config"
	"github.com/theoren0108/TweetDigest/pkg/cursor"
	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/filter"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/media"
	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/normalize"
	"github.com/theoren0108/TweetDigest/pkg/provider"
	"github.com/theoren0108/TweetDigest/pkg/publish"
	"github.com/theoren0108/TweetDigest/pkg/report"
	"github.com/theoren0108/TweetDigest/pkg/store"
	"github.com/theoren0108/TweetDigest/pkg/summarize"
)

const tracerName = "github.com/theoren0108/TweetDigest/pkg/pipeline"

// Summarizer writes model summaries of posts
type Summarizer interface {
	Summarize(ctx context.Context, posts []models.Post, category string) (summarize.Summary, error)
	SummarizeByCategory(ctx context.Context, posts []models.Post, categories map[string]string) []summarize.Summary
}

// Deps are the collaborators of a run. Summarizer, Publisher and Runs are optional.
type Deps struct {
	Store      *store.Store
	Provider   provider.Provider
	Media      *media.Resolver
	Summarizer Summarizer
	Publisher  publish.Publisher
	Runs       *checkpoint.Manager
	Logger     logger.Logger
}

// Options adjust a single run
type Options struct {
	// DryRun renders the digest without writing the file or publishing
	DryRun bool
}

// Result describes what a run did
type Result struct {
	RunID     string
	Fetched   int
	Rejected  int
	Untracked int
	Accepted  int
	Skipped   []string
	Saved     store.SaveResult
	Media     media.Stats
	Cursors   map[string]cursor.Cursor

	Posts      []models.Post
	Summaries  []summarize.Summary
	Summarized int
	Document   string
	ReportPath string
	Published  *publish.Result
}

// Pipeline runs fetch, filter, store and report for the configured accounts
type Pipeline struct {
	cfg     *config.Config
	deps    Deps
	cursors *cursor.Store
	now     func() time.Time
}

// New creates a pipeline. Missing Media gets a disabled resolver.
func New(cfg *config.Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}
	if deps.Media == nil {
		deps.Media = media.New(media.Options{Logger: deps.Logger})
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		cursors: cursor.NewStore(deps.Store.DB()),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for the report window and cursors
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
	p.cursors = p.cursors.WithClock(now)
}

// stage runs fn inside a span named after the stage and logs its duration
func (p *Pipeline) stage(ctx context.Context, log logger.Logger, name string, fn func(ctx context.Context) (map[string]interface{}, error)) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	counters, err := fn(ctx)
	for k, v := range counters {
		if n, ok := v.(int); ok {
			span.SetAttributes(attribute.Int(k, n))
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).ErrorWithFields("Stage failed", map[string]interface{}{"stage": name})
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.LogStage(log, name, start, counters)
	return nil
}

// Run executes one digest run. A failure before posts are saved leaves
// storage and cursors untouched and writes no digest.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	res := &Result{RunID: id.String()}
	log := p.deps.Logger.WithField("run_id", res.RunID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run_id", res.RunID))
	defer span.End()

	rec := &checkpoint.Record{RunID: res.RunID, Status: checkpoint.StatusRunning, StartedAt: p.now().UTC()}
	p.saveRecord(log, rec)

	err = p.run(ctx, log, opts, res)

	rec.FinishedAt = p.now().UTC()
	fillRecord(rec, res)
	rec.Status = checkpoint.StatusSucceeded
	if err != nil {
		rec.Status = checkpoint.StatusFailed
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.saveRecord(log, rec)

	if err != nil {
		return res, err
	}
	log.InfoWithFields("Run finished", map[string]interface{}{
		"inserted": len(res.Saved.Inserted),
		"reported": len(res.Posts),
		"report":   res.ReportPath,
	})
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log logger.Logger, opts Options, res *Result) error {
	var (
		entries  []config.AccountEntry
		handles  []string
		cursors  map[string]cursor.Cursor
		raws     []json.RawMessage
		accepted []normalize.Candidate
		batch    []models.NewPost
	)

	err := p.stage(ctx, log, "accounts", func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		if entries, err = p.cfg.ResolveAccounts(); err != nil {
			return nil, err
		}
		accounts := make([]models.Account, 0, len(entries))
		for _, e := range entries {
			handles = append(handles, e.Handle)
			accounts = append(accounts, models.Account{Handle: e.Handle, Category: e.Category})
		}
		return map[string]interface{}{"accounts": len(accounts)}, p.deps.Store.EnsureAccounts(ctx, accounts)
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, log, "cursors", func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		cursors, err = p.cursors.GetAll(ctx, handles)
		return map[string]interface{}{"accounts": len(cursors)}, err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, log, "fetch", func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		raws, err = provider.Collect(ctx, p.deps.Provider, provider.Query{
			Handles:    handles,
			PerAccount: p.cfg.Fetch.PerAccountLimit,
		}, provider.PollConfig{
			Interval: p.cfg.Provider.PollInterval,
			Timeout:  p.cfg.Provider.Timeout,
			Logger:   log,
		})
		res.Fetched = len(raws)
		return map[string]interface{}{"items": len(raws)}, err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, log, "normalize", func(ctx context.Context) (map[string]interface{}, error) {
		nr := normalize.NormalizeAll(raws)
		res.Rejected = len(nr.Rejected)
		for _, rerr := range nr.Rejected {
			log.WithError(rerr).Debug("Record rejected")
		}

		outcome := filter.Apply(handles, nr.Candidates, cursors, p.cfg.Fetch.PerAccountLimit, p.cfg.Fetch.GlobalCap)
		accepted = outcome.Accepted(handles)
		res.Accepted = len(accepted)
		res.Untracked = outcome.Untracked
		res.Skipped = outcome.Skipped
		if len(outcome.Skipped) > 0 {
			log.WarnWithFields("Global cap reached, accounts skipped", map[string]interface{}{
				"skipped": outcome.Skipped,
			})
		}
		return map[string]interface{}{
			"candidates": len(nr.Candidates),
			"rejected":   len(nr.Rejected),
			"untracked":  outcome.Untracked,
			"accepted":   len(accepted),
		}, nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, log, "media", func(ctx context.Context) (map[string]interface{}, error) {
		batch = make([]models.NewPost, 0, len(accepted))
		for _, c := range accepted {
			batch = append(batch, models.NewPost{Post: c.Post()})
		}
		media.Attach(batch)
		res.Media = p.deps.Media.Resolve(ctx, batch)
		return map[string]interface{}{
			"descriptors": res.Media.Descriptors,
			"stored":      res.Media.Stored,
			"failed":      res.Media.Failed,
		}, nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, log, "save", func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		res.Saved, err = p.deps.Store.SavePosts(ctx, batch)
		return map[string]interface{}{
			"inserted":   len(res.Saved.Inserted),
			"duplicates": res.Saved.Duplicates,
			"media_rows": res.Saved.MediaRows,
		}, err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, log, "advance", func(ctx context.Context) (map[string]interface{}, error) {
		obs := make([]cursor.Observation, 0, len(accepted))
		for _, c := range accepted {
			obs = append(obs, cursor.Observation{Handle: c.Account, ID: c.ID, Timestamp: c.CreatedAt})
		}
		var err error
		res.Cursors, err = p.cursors.AdvanceBatch(ctx, obs)
		return map[string]interface{}{"accounts": len(res.Cursors)}, err
	})
	if err != nil {
		return err
	}

	return p.digest(ctx, log, opts, res)
}

// digest queries the window, summarizes, renders, writes and publishes
func (p *Pipeline) digest(ctx context.Context, log logger.Logger, opts Options, res *Result) error {
	now := p.now().UTC()
	window := p.cfg.Report.Window
	var categories map[string]string

	err := p.stage(ctx, log, "window", func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		res.Posts, err = p.deps.Store.PostsInWindow(ctx, now, window, store.WindowOptions{
			OnlyUnsummarized: p.deps.Summarizer != nil,
		})
		if err != nil {
			return nil, err
		}
		categories, err = p.deps.Store.Categories(ctx)
		return map[string]interface{}{"posts": len(res.Posts)}, err
	})
	if err != nil {
		return err
	}

	var global string
	byCategory := make(map[string]string)
	if p.deps.Summarizer != nil && len(res.Posts) > 0 {
		_ = p.stage(ctx, log, "summarize", func(ctx context.Context) (map[string]interface{}, error) {
			if len(categories) == 0 {
				s, err := p.deps.Summarizer.Summarize(ctx, res.Posts, "")
				if err != nil {
					log.WithError(err).Warn("Summary failed, digest continues without it")
				} else if s.Text != "" {
					res.Summaries = append(res.Summaries, s)
				}
			} else {
				res.Summaries = p.deps.Summarizer.SummarizeByCategory(ctx, res.Posts, categories)
			}

			var ids []string
			for _, s := range res.Summaries {
				if s.Category == "" {
					global = s.Text
				} else {
					byCategory[s.Category] = s.Text
				}
				ids = append(ids, s.PostIDs...)
			}
			if !opts.DryRun && len(ids) > 0 {
				n, err := p.deps.Store.MarkSummarized(ctx, ids)
				if err != nil {
					log.WithError(err).Warn("Failed to mark posts as summarized")
				}
				res.Summarized = n
			}
			return map[string]interface{}{"summaries": len(res.Summaries), "summarized": res.Summarized}, nil
		})
	}

	err = p.stage(ctx, log, "report", func(ctx context.Context) (map[string]interface{}, error) {
		res.Document = report.Render(report.Input{
			Posts:             res.Posts,
			Title:             report.Title(window),
			WindowLabel:       report.WindowLabel(now, window),
			Summary:           global,
			CategorySummaries: byCategory,
			Categories:        categories,
			TopKeywords:       p.cfg.Report.TopKeywords,
			FoldPlurals:       p.cfg.Report.FoldPlurals,
		})
		if opts.DryRun {
			return map[string]interface{}{"bytes": len(res.Document)}, nil
		}
		if err := report.WriteFile(p.cfg.Report.OutputPath, res.Document); err != nil {
			return nil, err
		}
		res.ReportPath = p.cfg.Report.OutputPath
		return map[string]interface{}{"bytes": len(res.Document)}, nil
	})
	if err != nil {
		return err
	}

	if p.deps.Publisher == nil || opts.DryRun {
		return nil
	}
	return p.stage(ctx, log, "publish", func(ctx context.Context) (map[string]interface{}, error) {
		title := fmt.Sprintf("%s %s", report.Title(window), now.Format("20060102"))
		pub, err := p.deps.Publisher.Publish(ctx, title, res.Document)
		if err != nil {
			return nil, err
		}
		res.Published = &pub
		return map[string]interface{}{"url": pub.URL}, nil
	})
}

// Report renders the digest from storage alone, without fetching
func (p *Pipeline) Report(ctx context.Context) (string, []models.Post, error) {
	now := p.now().UTC()
	window := p.cfg.Report.Window

	posts, err := p.deps.Store.PostsInWindow(ctx, now, window, store.WindowOptions{})
	if err != nil {
		return "", nil, err
	}
	categories, err := p.deps.Store.Categories(ctx)
	if err != nil {
		return "", nil, err
	}
	doc := report.Render(report.Input{
		Posts:       posts,
		Title:       report.Title(window),
		WindowLabel: report.WindowLabel(now, window),
		Categories:  categories,
		TopKeywords: p.cfg.Report.TopKeywords,
		FoldPlurals: p.cfg.Report.FoldPlurals,
	})
	return doc, posts, nil
}

func (p *Pipeline) saveRecord(log logger.Logger, rec *checkpoint.Record) {
	if p.deps.Runs == nil {
		return
	}
	if err := p.deps.Runs.Save(rec); err != nil {
		log.WithError(err).Warn("Failed to save run record")
	}
}

func fillRecord(rec *checkpoint.Record, res *Result) {
	rec.Fetched = res.Fetched
	rec.Rejected = res.Rejected
	rec.Accepted = res.Accepted
	rec.Inserted = len(res.Saved.Inserted)
	rec.Skipped = res.Skipped
	rec.MediaStored = res.Media.Stored
	rec.MediaFailed = res.Media.Failed
	rec.Reported = len(res.Posts)
	rec.Summarized = res.Summarized
	rec.ReportPath = res.ReportPath
	if res.Published != nil {
		rec.DocumentURL = res.Published.URL
	}
}

// IsTimeout reports whether err came from the provider not finishing in time
func IsTimeout(err error) bool {
	return errors.Is(err, errs.ErrProviderTimeout)
}
