package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoren0108/TweetDigest/pkg/checkpoint"
	"github.com/theoren0108/TweetDigest/pkg/config"
	"github.com/theoren0108/TweetDigest/pkg/cursor"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/models"
	"github.com/theoren0108/TweetDigest/pkg/provider"
	"github.com/theoren0108/TweetDigest/pkg/publish"
	"github.com/theoren0108/TweetDigest/pkg/store"
	"github.com/theoren0108/TweetDigest/pkg/summarize"
)

var now = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

const (
	alice10 = `{"id":"10","author":"alice","created_at":"2026-10-16T06:00:00Z","text":"Rockets launch tomorrow","url":"https://x.com/alice/status/10"}`
	alice11 = `{"id":"11","author":"alice","created_at":"2026-10-16T07:00:00Z","text":"Rocket launch delayed","url":"https://x.com/alice/status/11"}`
	alice12 = `{"id":"12","author":"Alice","created_at":"2026-10-16T08:00:00Z","text":"Weather looks good","url":"https://x.com/alice/status/12"}`
	alice13 = `{"id":"13","author":"alice","created_at":"2026-10-16T08:30:00Z","text":"Launch window opens","url":"https://x.com/alice/status/13"}`
	bob20   = `{"id":"20","author":"@bob","created_at":"2026-10-16T07:30:00Z","text":"Markets rally","url":"https://x.com/bob/status/20"}`
	carol99 = `{"id":"99","author":"carol","created_at":"2026-10-16T07:45:00Z","text":"untracked"}`
	noID    = `{"author":"alice","text":"missing id"}`
)

type env struct {
	cfg    *config.Config
	store  *store.Store
	sample string
	runs   *checkpoint.Manager
}

func setup(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Accounts.File = ""
	cfg.Accounts.Handles = []string{"alice", "bob"}
	cfg.Provider.Mode = "sample"
	cfg.Provider.SampleFile = filepath.Join(dir, "sample.jsonl")
	cfg.Storage.DatabasePath = filepath.Join(dir, "digest.db")
	cfg.Report.OutputPath = filepath.Join(dir, "reports", "digest.md")
	cfg.Media.Download = false

	st, err := store.Open(context.Background(), cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &env{
		cfg:    cfg,
		store:  st,
		sample: cfg.Provider.SampleFile,
		runs:   checkpoint.NewManager(checkpoint.PathFor(cfg.Storage.DatabasePath)),
	}
}

func (e *env) writeSample(t *testing.T, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.sample, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func (e *env) pipeline(deps Deps) *Pipeline {
	deps.Store = e.store
	if deps.Provider == nil {
		deps.Provider = provider.NewSampleProvider(e.sample)
	}
	deps.Runs = e.runs
	deps.Logger = logger.NewNopLogger()
	p := New(e.cfg, deps)
	p.SetClock(func() time.Time { return now })
	return p
}

func (e *env) cursor(t *testing.T, handle string) cursor.Cursor {
	t.Helper()
	c, err := cursor.NewStore(e.store.DB()).Get(context.Background(), handle)
	require.NoError(t, err)
	return c
}

func TestRunIngestsOnlyNewPosts(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	p := e.pipeline(Deps{})

	e.writeSample(t, alice10, alice11, alice12, bob20, carol99, noID)
	first, err := p.Run(ctx, Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 6, first.Fetched)
	assert.Equal(t, 1, first.Rejected)
	assert.Equal(t, 1, first.Untracked)
	assert.Equal(t, 4, first.Accepted)
	assert.ElementsMatch(t, []string{"10", "11", "12", "20"}, first.Saved.Inserted)
	assert.Equal(t, "12", e.cursor(t, "alice").SinceID)
	assert.Equal(t, "20", e.cursor(t, "bob").SinceID)

	doc, err := os.ReadFile(e.cfg.Report.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, first.Document, string(doc))
	assert.Contains(t, first.Document, "## Daily digest (past 24h ending 2026-10-16 09:00 UTC)")
	assert.Contains(t, first.Document, "Total new posts: **4**. Top keywords: rocket, launch,")
	assert.Contains(t, first.Document, "**@alice** — 3 posts")
	assert.NotContains(t, first.Document, "untracked")

	rec, err := e.runs.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, checkpoint.StatusSucceeded, rec.Status)
	assert.Equal(t, first.RunID, rec.RunID)
	assert.Equal(t, 4, rec.Inserted)
	assert.Equal(t, e.cfg.Report.OutputPath, rec.ReportPath)

	// Same provider output again: nothing new, same digest.
	second, err := p.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, second.Accepted)
	assert.Empty(t, second.Saved.Inserted)
	assert.Equal(t, first.Document, second.Document)
	assert.NotEqual(t, first.RunID, second.RunID)

	stats, err := e.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Posts)

	// A newer post arrives.
	e.writeSample(t, alice10, alice11, alice12, alice13, bob20)
	third, err := p.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"13"}, third.Saved.Inserted)
	assert.Equal(t, "13", e.cursor(t, "alice").SinceID)
	assert.Equal(t, "20", e.cursor(t, "bob").SinceID)
	assert.Contains(t, third.Document, "Total new posts: **5**")
}

func TestRunRespectsCaps(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.cfg.Fetch.PerAccountLimit = 2
	e.cfg.Fetch.GlobalCap = 2
	p := e.pipeline(Deps{})

	e.writeSample(t, alice10, alice11, alice12, bob20)
	res, err := p.Run(ctx, Options{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"11", "12"}, res.Saved.Inserted, "newest posts win")
	assert.Equal(t, []string{"bob"}, res.Skipped)
	assert.True(t, e.cursor(t, "bob").Empty())
}

type stuckProvider struct{}

func (stuckProvider) Submit(ctx context.Context, q provider.Query) (provider.Job, error) {
	return provider.Job{ID: "run-1", Status: provider.Status{State: provider.StateRunning}}, nil
}

func (stuckProvider) Poll(ctx context.Context, jobID string) (provider.Status, error) {
	return provider.Status{State: provider.StateRunning}, nil
}

func (stuckProvider) FetchResults(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	return nil, nil
}

func TestRunProviderTimeoutChangesNothing(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.cfg.Provider.PollInterval = 5 * time.Millisecond
	e.cfg.Provider.Timeout = 30 * time.Millisecond

	e.writeSample(t, alice10)
	_, err := e.pipeline(Deps{}).Run(ctx, Options{})
	require.NoError(t, err)
	before := e.cursor(t, "alice")
	require.NoError(t, os.Remove(e.cfg.Report.OutputPath))

	_, err = e.pipeline(Deps{Provider: stuckProvider{}}).Run(ctx, Options{})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	assert.Equal(t, before, e.cursor(t, "alice"))
	_, statErr := os.Stat(e.cfg.Report.OutputPath)
	assert.True(t, os.IsNotExist(statErr), "no digest is written")

	stats, err := e.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Posts)

	rec, err := e.runs.Load()
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "fetch")
}

type fakeSummarizer struct {
	calls []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, posts []models.Post, category string) (summarize.Summary, error) {
	f.calls = append(f.calls, category)
	s := summarize.Summary{Category: category, Text: "summary of " + category}
	for _, p := range posts {
		s.PostIDs = append(s.PostIDs, p.ID)
	}
	return s, nil
}

func (f *fakeSummarizer) SummarizeByCategory(ctx context.Context, posts []models.Post, categories map[string]string) []summarize.Summary {
	var out []summarize.Summary
	for cat, group := range summarize.GroupByCategory(posts, categories) {
		s, _ := f.Summarize(ctx, group, cat)
		out = append(out, s)
	}
	return out
}

type fakePublisher struct {
	titles []string
	docs   []string
}

func (f *fakePublisher) Publish(ctx context.Context, title, markdown string) (publish.Result, error) {
	f.titles = append(f.titles, title)
	f.docs = append(f.docs, markdown)
	return publish.Result{URL: "https://tenant.feishu.cn/docx/d1", DocumentID: "d1"}, nil
}

func TestRunSummarizesAndPublishes(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	accounts := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(accounts, []byte("space:\n  - alice\nmarkets:\n  - bob\n"), 0644))
	e.cfg.Accounts.File = accounts
	e.cfg.Accounts.Handles = nil

	sum := &fakeSummarizer{}
	pub := &fakePublisher{}
	p := e.pipeline(Deps{Summarizer: sum, Publisher: pub})

	e.writeSample(t, alice10, alice11, bob20)
	res, err := p.Run(ctx, Options{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"space", "markets"}, sum.calls)
	assert.Equal(t, 3, res.Summarized)
	assert.Contains(t, res.Document, "### LLM summary: markets\n\nsummary of markets")
	assert.Contains(t, res.Document, "**@alice** (space) — 2 posts")

	require.Len(t, pub.titles, 1)
	assert.Equal(t, "Daily digest 20261016", pub.titles[0])
	assert.Equal(t, res.Document, pub.docs[0])
	require.NotNil(t, res.Published)

	rec, err := e.runs.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://tenant.feishu.cn/docx/d1", rec.DocumentURL)

	// Everything in the window is summarized now.
	again, err := p.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, again.Posts)
	assert.Contains(t, again.Document, "No new posts found in this window.")
	assert.Len(t, sum.calls, 2, "no model call without posts")
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	pub := &fakePublisher{}
	p := e.pipeline(Deps{Publisher: pub})

	e.writeSample(t, alice10)
	res, err := p.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)

	assert.Contains(t, res.Document, "Total new posts: **1**")
	assert.Empty(t, res.ReportPath)
	assert.Empty(t, pub.titles)
	_, statErr := os.Stat(e.cfg.Report.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReportFromStorage(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	p := e.pipeline(Deps{})

	e.writeSample(t, alice10, bob20)
	res, err := p.Run(ctx, Options{})
	require.NoError(t, err)

	doc, posts, err := p.Report(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, res.Document, doc)
}
