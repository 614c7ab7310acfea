package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/theoren0108/TweetDigest/pkg/auth"
	"github.com/theoren0108/TweetDigest/pkg/checkpoint"
	"github.com/theoren0108/TweetDigest/pkg/config"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/media"
	"github.com/theoren0108/TweetDigest/pkg/pipeline"
	"github.com/theoren0108/TweetDigest/pkg/provider"
	"github.com/theoren0108/TweetDigest/pkg/publish"
	"github.com/theoren0108/TweetDigest/pkg/storage"
	"github.com/theoren0108/TweetDigest/pkg/store"
	"github.com/theoren0108/TweetDigest/pkg/summarize"
)

// loadConfig merges file, environment and flags, then sets up the global logger
func loadConfig(flags map[string]interface{}) (*config.Config, logger.Logger, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, err
	}
	return cfg, logger.GetLogger(), nil
}

// openStore opens the database with media reclaim routed through the blob
// store, when there is a blob store to reclaim from
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (*store.Store, error) {
	opts := []store.Option{store.WithLogger(log)}
	if cfg.Media.Download || fileExists(cfg.Media.Directory) {
		blobs, err := storage.NewManager(cfg.Media.Directory, cfg.Media.MaxFileSize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithFileRemover(blobs.Remove))
	}
	return store.Open(ctx, cfg.Storage.DatabasePath, opts...)
}

// resolveSecrets fills missing secrets from the credential store. The store
// is only opened when something is missing.
func resolveSecrets(cfg *config.Config, log logger.Logger) error {
	if cfg.RequireSecrets() == nil {
		return nil
	}
	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential store unavailable")
	} else {
		cfg.ResolveSecrets(manager.Lookup)
	}
	return cfg.RequireSecrets()
}

// initSentry enables error reporting when a DSN is configured. The returned
// func flushes pending events.
func initSentry(cfg config.SentryConfig, log logger.Logger) func() {
	if cfg.DSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          "tweetdigest@" + version,
		AttachStacktrace: true,
	})
	if err != nil {
		log.WithError(err).Warn("Sentry disabled")
		return func() {}
	}
	return func() { sentry.Flush(2 * time.Second) }
}

func newProvider(cfg *config.Config, log logger.Logger) (provider.Provider, error) {
	if cfg.Provider.Mode == "sample" {
		return provider.NewSampleProvider(cfg.Provider.SampleFile), nil
	}
	p, err := provider.NewHTTPProvider(cfg.Provider, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// buildPipeline wires the collaborators enabled by cfg
func buildPipeline(cfg *config.Config, st *store.Store, log logger.Logger) (*pipeline.Pipeline, error) {
	prov, err := newProvider(cfg, log)
	if err != nil {
		return nil, err
	}
	resolver, err := media.NewResolver(cfg.Media, log)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Store:    st,
		Provider: prov,
		Media:    resolver,
		Runs:     checkpoint.NewManager(checkpoint.PathFor(cfg.Storage.DatabasePath)),
		Logger:   log,
	}
	if cfg.Summary.Enabled {
		client, err := summarize.New(cfg.Summary, log)
		if err != nil {
			return nil, err
		}
		deps.Summarizer = client
	}
	if cfg.Publish.Enabled {
		feishu, err := publish.NewFeishu(cfg.Publish.Feishu, log)
		if err != nil {
			return nil, err
		}
		deps.Publisher = feishu
	}
	return pipeline.New(cfg, deps), nil
}
