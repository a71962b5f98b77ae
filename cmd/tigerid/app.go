package main

import (
	"context"
	"fmt"

	"github.com/rushteam/tigerid/calibration"
	"github.com/rushteam/tigerid/config"
	"github.com/rushteam/tigerid/core"
	"github.com/rushteam/tigerid/ensemble"
	"github.com/rushteam/tigerid/identify"
	"github.com/rushteam/tigerid/model"
	"github.com/rushteam/tigerid/observability"
	"github.com/rushteam/tigerid/pkg/dsl"
	"github.com/rushteam/tigerid/registry"
	"github.com/rushteam/tigerid/search"
	"github.com/rushteam/tigerid/service"
	"github.com/rushteam/tigerid/store"
)

// app 持有一次命令执行所需的全部组件
type app struct {
	cfg        *config.AppConfig
	logger     observability.Logger
	metrics    *observability.Metrics
	reg        *registry.Registry
	gallery    core.VectorDatabaseService
	searcher   *search.Searcher
	calibrator *calibration.Calibrator
	loader     *model.Loader
	provider   core.EmbeddingProvider
	runner     *ensemble.Runner
}

// appOption 用于在测试中替换远端依赖
type appOption func(*appBuild)

type appBuild struct {
	factory model.ClientFactory
	gallery core.VectorDatabaseService
}

func withClientFactory(f model.ClientFactory) appOption {
	return func(b *appBuild) { b.factory = f }
}

func withGallery(db core.VectorDatabaseService) appOption {
	return func(b *appBuild) { b.gallery = db }
}

func newApp(ctx context.Context, cfg *config.AppConfig, opts ...appOption) (*app, error) {
	b := &appBuild{}
	for _, opt := range opts {
		opt(b)
	}

	a := &app{
		cfg:     cfg,
		logger:  observability.NewStandardLogger(cfg.Log.Prefix, observability.ParseLogLevel(cfg.Log.Level)),
		metrics: observability.NewMetrics(nil),
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}
	a.reg = reg

	a.gallery = b.gallery
	if a.gallery == nil {
		switch cfg.Gallery.Backend {
		case "redis":
			r := cfg.Gallery.Redis
			db, err := store.DialRedisVectorService(ctx, r.Address, r.Password, r.DB, r.Prefix)
			if err != nil {
				return nil, err
			}
			a.gallery = db
		default:
			a.gallery = store.NewMemoryVectorService()
		}
	}
	a.searcher = search.New(a.gallery,
		search.WithDimensionChecker(reg),
		search.WithOversample(cfg.Gallery.Oversample),
	)

	a.calibrator = calibration.New()
	if cfg.Calibration.Profile != "" {
		p, err := calibration.LoadProfile(cfg.Calibration.Profile)
		if err != nil {
			return nil, fmt.Errorf("calibration profile: %w", err)
		}
		if err := a.calibrator.Apply(p); err != nil {
			return nil, fmt.Errorf("calibration profile: %w", err)
		}
	}

	factory := b.factory
	if factory == nil {
		clientOpts := append(cfg.EmbeddingOptions(),
			service.WithLogger(a.logger),
			service.WithMetrics(a.metrics),
		)
		factory = model.HTTPClientFactory(clientOpts...)
	}
	a.loader = model.NewLoader(reg, model.WithClientFactory(factory), model.WithLoaderLogger(a.logger))
	a.loader.Load(ctx)

	a.provider = a.loader
	if cfg.Embedding.CacheSize > 0 {
		cached, err := model.NewCachedSource(a.loader, cfg.Embedding.CacheSize, a.metrics)
		if err != nil {
			return nil, err
		}
		a.provider = cached
	}

	a.runner = &ensemble.Runner{
		Provider: a.provider,
		Searcher: a.searcher,
		Catalog:  reg,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}
	return a, nil
}

// identifyService 构建识别服务；noDetect 为 true 时把整张图当作裁剪结果
func (a *app) identifyService(noDetect bool) (*identify.Service, error) {
	refine, err := config.LoadRefinePipeline(a.cfg.Ensemble.Refine)
	if err != nil {
		return nil, fmt.Errorf("refine pipeline: %w", err)
	}
	strategies, err := config.BuildStrategies(config.StrategyDeps{
		Runner:     a.runner,
		Calibrator: a.calibrator,
		Refine:     refine,
	}, a.cfg.Ensemble.Strategies)
	if err != nil {
		return nil, err
	}

	detector, err := a.detector(noDetect)
	if err != nil {
		return nil, err
	}

	opts := []identify.Option{
		identify.WithCalibrator(a.calibrator),
		identify.WithDefaultModel(a.cfg.Identify.DefaultModel),
		identify.WithDefaultThreshold(a.cfg.Identify.DefaultThreshold),
		identify.WithTopK(a.cfg.Identify.TopK),
		identify.WithBatchConcurrency(a.cfg.Identify.BatchConcurrency),
		identify.WithLogger(a.logger),
		identify.WithMetrics(a.metrics),
	}
	for _, s := range strategies {
		opts = append(opts, identify.WithStrategy(s))
	}
	if a.cfg.Identify.ReviewRule != "" {
		rule, err := dsl.Compile(a.cfg.Identify.ReviewRule)
		if err != nil {
			return nil, fmt.Errorf("review rule: %w", err)
		}
		opts = append(opts, identify.WithReviewRule(rule))
	}
	return identify.New(detector, a.runner, a.loader, opts...), nil
}

func (a *app) detector(noDetect bool) (core.Detector, error) {
	if noDetect {
		return identify.WholeImage{}, nil
	}
	d := a.cfg.Detection
	if d.Endpoint == "" {
		return nil, fmt.Errorf("detection.endpoint is not configured (use --no-detect for pre-cropped images)")
	}
	return service.NewDetectionClient(d.Endpoint,
		service.WithDetectionTimeout(d.Timeout),
		service.WithDetectionAuth(d.Auth),
	), nil
}

func (a *app) Close() error {
	return a.gallery.Close()
}
