package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/assets"
	"github.com/sells-group/platter/internal/jsonstore"
	"github.com/sells-group/platter/internal/metrics"
	"github.com/sells-group/platter/internal/monitoring"
	"github.com/sells-group/platter/internal/pipeline"
	"github.com/sells-group/platter/internal/research"
	"github.com/sells-group/platter/internal/resilience"
	"github.com/sells-group/platter/internal/session"
	"github.com/sells-group/platter/internal/sitegen"
	"github.com/sells-group/platter/internal/store"
	anthropicpkg "github.com/sells-group/platter/pkg/anthropic"
	"github.com/sells-group/platter/pkg/google"
	"github.com/sells-group/platter/pkg/perplexity"
	"github.com/sells-group/platter/pkg/polyhaven"
	"github.com/sells-group/platter/pkg/render"
	"github.com/sells-group/platter/pkg/yutori"
)

// appEnv holds everything the serve, search and cron commands share.
type appEnv struct {
	Store    store.Store
	Sessions session.Registry
	Pipeline *pipeline.Service
	Sites    *sitegen.Service // nil when generation is skipped
	Metrics  *metrics.Metrics
	Checker  *monitoring.Checker // nil without a webhook

	closers []func() error
}

// Close waits up to grace for running searches, then releases resources.
func (e *appEnv) Close(grace time.Duration) {
	if e.Pipeline != nil {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		if err := e.Pipeline.Shutdown(ctx); err != nil {
			zap.L().Warn("searches still running at shutdown", zap.Error(err))
		}
		cancel()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initStore opens the JSON data directory. Store timings feed m when set.
func initStore(m *metrics.Metrics) *store.JSONStore {
	var opts []jsonstore.Option
	if m != nil {
		opts = append(opts, jsonstore.WithObserver(m.StoreOp))
	}
	return store.NewJSON(jsonstore.New(cfg.Store.DataDir, opts...))
}

func initSessions(ctx context.Context) (session.Registry, error) {
	ttl := time.Duration(cfg.Sessions.TTLMins) * time.Minute
	switch cfg.Sessions.Backend {
	case "redis":
		reg, err := session.DialRedis(ctx, cfg.Sessions.RedisAddr, cfg.Sessions.RedisPassword, cfg.Sessions.RedisDB, ttl)
		if err != nil {
			return nil, err
		}
		zap.L().Info("session registry: redis", zap.String("addr", cfg.Sessions.RedisAddr))
		return reg, nil
	default:
		return session.NewMemoryRegistry(cfg.Sessions.MaxEntries, ttl, time.Minute), nil
	}
}

func initResearch() research.Client {
	if cfg.Research.Provider == "perplexity" {
		client := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		return research.NewPerplexity(client)
	}
	client := yutori.NewClient(cfg.Yutori.Key, yutori.WithBaseURL(cfg.Yutori.BaseURL))
	return research.NewYutori(client,
		yutori.WithPollTimeout(time.Duration(cfg.Yutori.PollTimeoutSecs)*time.Second),
	)
}

func initAssets() (*assets.Finder, error) {
	if cfg.PolyHaven.Disabled || cfg.Pipeline.SkipAssets {
		zap.L().Info("3d asset lookup disabled")
		return nil, nil
	}
	km, err := assets.LoadKeywords(cfg.PolyHaven.KeywordMapFile)
	if err != nil {
		return nil, err
	}
	client := polyhaven.NewClient(
		polyhaven.WithBaseURL(cfg.PolyHaven.BaseURL),
		polyhaven.WithUserAgent(cfg.PolyHaven.UserAgent),
	)
	return assets.NewFinder(client,
		assets.WithKeywords(km),
		assets.WithCacheTTL(time.Duration(cfg.PolyHaven.CacheTTLMins)*time.Minute),
	), nil
}

// initPublisher returns the configured publisher and an optional closer.
func initPublisher(ctx context.Context) (sitegen.Publisher, func() error, error) {
	if cfg.Deploy.Target == "gcs" {
		pub, err := sitegen.NewGCSPublisher(ctx, cfg.Deploy.Bucket, cfg.Deploy.PublicBaseURL, cfg.Deploy.CredsFile)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	}

	var hook render.Client
	if cfg.Deploy.HookURL != "" {
		hook = render.NewClient(cfg.Deploy.HookURL)
	}
	return sitegen.NewLocalPublisher(cfg.Deploy.WebsitesDir, cfg.Deploy.PublicBaseURL, hook), nil, nil
}

func initSites(ctx context.Context, st store.Store, m *metrics.Metrics) (*sitegen.Service, func() error, error) {
	if cfg.Pipeline.SkipGeneration {
		zap.L().Info("site generation disabled")
		return nil, nil, nil
	}
	pub, closer, err := initPublisher(ctx)
	if err != nil {
		return nil, nil, err
	}
	gen := sitegen.NewLLMGenerator(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens,
		sitegen.WithUsageHook(func(model string, u anthropicpkg.Usage) {
			m.LLMUsage(model, u.Input, u.Output, u.CacheWrite, u.CacheRead, u.Cost(model))
		}),
	)
	logSpend := func() error {
		if u := gen.TotalUsage(); u != (anthropicpkg.Usage{}) {
			zap.L().Info("site generation spend", u.Fields(gen.Model())...)
		}
		if closer != nil {
			return closer()
		}
		return nil
	}
	return sitegen.NewService(gen, pub, st, cfg.Deploy.SenderName), logSpend, nil
}

// initApp validates config for mode and wires every collaborator. Callers
// should defer env.Close.
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	bias, err := google.ParseCircle(cfg.Pipeline.LocationBias)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline.location_bias")
	}

	env := &appEnv{Metrics: metrics.New()}
	env.Store = initStore(env.Metrics)

	sessions, err := initSessions(ctx)
	if err != nil {
		return nil, err
	}
	env.Sessions = sessions
	env.closers = append(env.closers, sessions.Close)

	finder, err := initAssets()
	if err != nil {
		env.Close(0)
		return nil, err
	}

	sites, closer, err := initSites(ctx, env.Store, env.Metrics)
	if err != nil {
		env.Close(0)
		return nil, err
	}
	env.Sites = sites
	if closer != nil {
		env.closers = append(env.closers, closer)
	}

	var collector *monitoring.Collector
	if cfg.Monitoring.WebhookURL != "" {
		collector = monitoring.NewCollector(env.Store,
			monitoring.WithGeneration(sites != nil),
			monitoring.WithBreakerState(func() resilience.CircuitState { return env.Pipeline.BreakerState() }),
		)
		env.Checker = monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
	}

	deps := pipeline.Deps{
		Places:   google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL)),
		Research: initResearch(),
		Store:    env.Store,
		Sessions: sessions,
		Metrics:  env.Metrics,
	}
	// Typed nils must not reach the interfaces.
	if finder != nil {
		deps.Assets = finder
	}
	if sites != nil {
		deps.Sites = sites
	}
	if collector != nil {
		deps.Observer = collector
	}

	env.Pipeline = pipeline.NewService(deps, pipeline.Config{
		Concurrency:        cfg.Pipeline.Concurrency,
		MaxResults:         cfg.Pipeline.MaxResults,
		DefaultRadiusMiles: cfg.Pipeline.DefaultRadiusMiles,
		LocationBias:       bias,
		DetailsPerSecond:   cfg.Google.RateLimit,
		Retry:              resilience.FromRetryConfig(cfg.Pipeline.RetryAttempts),
		Breaker:            resilience.FromCircuitConfig(cfg.Pipeline.BreakerThreshold, cfg.Pipeline.BreakerResetSecs),
	})

	zap.L().Info("platter initialized",
		zap.String("mode", mode),
		zap.String("research", cfg.Research.Provider),
		zap.String("deploy", cfg.Deploy.Target),
		zap.String("sessions", cfg.Sessions.Backend),
		zap.Int("concurrency", cfg.Pipeline.Concurrency),
		zap.Bool("alerts", env.Checker != nil),
	)
	return env, nil
}
