package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/api"
	"github.com/joeblew999/plat-webgis/internal/config"
	"github.com/joeblew999/plat-webgis/internal/export"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/observability"
	"github.com/joeblew999/plat-webgis/internal/resilience"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/store"
	"github.com/joeblew999/plat-webgis/internal/store/duckdb"
	"github.com/joeblew999/plat-webgis/internal/store/memory"
	"github.com/joeblew999/plat-webgis/internal/store/supabase"
	"github.com/joeblew999/plat-webgis/internal/tiler/gotiler"
	"github.com/joeblew999/plat-webgis/internal/wizard"
)

// app is the assembled service stack shared by the server and the
// subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	bus      *service.EventBus
	services *api.Services
	closers  []func(context.Context) error
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  observability.NewLogger(cfg.Observability.LogLevel),
		metrics: observability.NewMetrics(),
		bus:     service.NewEventBus(),
	}
	a.metrics.WatchEvents(a.bus.Subscribers, a.bus.Dropped)

	if cfg.Observability.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}

	backend, err := openBackend(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	st := store.New(store.Observed(backend, a.metrics.RecordStoreDuration))
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	guard, err := a.importGuard(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	sink, err := exportSink(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	imp := importer.New(st, guard, a.bus, a.metrics, importer.Config{
		MaxConcurrency: cfg.Import.MaxConcurrency,
		BatchSize:      cfg.Import.BatchSize,
	}, a.logger)
	projects := service.NewProjectService(st, imp, a.bus, cfg.Import.ProjectBatchSize, a.logger)

	a.services = &api.Services{
		Store:    st,
		Projects: projects,
		Importer: imp,
		Wizard: wizard.NewManager(imp, projects, wizard.Options{
			TTL:        cfg.Wizard.TTL,
			CloseDelay: cfg.Wizard.CloseDelay,
		}, a.metrics, a.logger),
		Exporter: export.New(st, a.logger),
		Sink:     sink,
		Tiles: service.NewTileService(st, cfg.Tiles.Dir, gotiler.Config{
			MinZoom: cfg.Tiles.MinZoom,
			MaxZoom: cfg.Tiles.MaxZoom,
		}, a.bus, a.logger),
	}

	a.logger.Info("service stack ready",
		zap.String("backend", st.Backend()),
		zap.Bool("redis_guard", cfg.Redis.URL != ""),
		zap.Bool("s3_exports", cfg.Export.S3Bucket != ""),
		zap.Bool("tracing", cfg.Observability.OTLPEndpoint != ""),
	)
	return a, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "duckdb":
		b, err := duckdb.Open(ctx, duckdb.Config{
			DataDir:     cfg.Store.DataDir,
			DBName:      cfg.Store.DBName,
			AutoMigrate: true,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "supabase":
		return supabase.NewBackend(
			&http.Client{Timeout: cfg.Supabase.HTTPTimeout},
			cfg.Supabase.URL,
			cfg.Supabase.AnonKey,
			cfg.Supabase.ServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilience.Config{
				MaxRetries:     cfg.Supabase.MaxRetries,
				InitialBackoff: cfg.Supabase.InitialBackoff,
				MaxConcurrency: cfg.Import.MaxConcurrency,
			},
			logger,
		), nil
	default:
		return memory.New(memory.WithDataDir(cfg.Store.DataDir)), nil
	}
}

// importGuard shares the per-project import lock through Redis when
// configured, so several replicas refuse overlapping imports.
func (a *app) importGuard(ctx context.Context) (importer.Guard, error) {
	if a.cfg.Redis.URL == "" {
		return importer.NewLocalGuard(), nil
	}
	redisOpts, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return importer.NewRedisGuard(client, a.cfg.Redis.Prefix, a.cfg.Redis.LockTTL), nil
}

func exportSink(ctx context.Context, cfg *config.Config) (export.Sink, error) {
	if cfg.Export.S3Bucket != "" {
		s3Sink, err := export.NewS3Sink(ctx, cfg.Export.S3Region, cfg.Export.S3Bucket, cfg.Export.S3Prefix)
		if err != nil {
			return nil, fmt.Errorf("s3 export sink: %w", err)
		}
		return s3Sink, nil
	}
	if cfg.Export.Dir != "" {
		return export.DirSink{Dir: cfg.Export.Dir}, nil
	}
	return nil, nil
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	a.logger.Sync()
}
