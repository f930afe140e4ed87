package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/config"
	"github.com/kapu/yt-harvester-go/internal/domain"
	"github.com/kapu/yt-harvester-go/internal/engine"
	"github.com/kapu/yt-harvester-go/internal/event"
	"github.com/kapu/yt-harvester-go/internal/governor"
	"github.com/kapu/yt-harvester-go/internal/harvest"
	"github.com/kapu/yt-harvester-go/internal/observer"
	"github.com/kapu/yt-harvester-go/internal/service/cache"
	"github.com/kapu/yt-harvester-go/internal/service/database"
	"github.com/kapu/yt-harvester-go/internal/service/metadata"
	"github.com/kapu/yt-harvester-go/internal/service/transcript"
	"github.com/kapu/yt-harvester-go/internal/sink"
	"github.com/kapu/yt-harvester-go/internal/util"
)

// Container bundles assembled services for running harvest batches.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	metadata    *metadata.Service
	transcripts *transcript.Service
	cacheSvc    *cache.Service
	postgres    *database.PostgresService
	runRepo     *database.RunRepository
	exporter    sink.Sink
	bus         *event.Bus
	feed        *observer.Feed
}

// Build assembles all infrastructure services. Heavy-weight initialization
// (API clients, cache, archive DB, feed server) happens here so batch runs
// stay focused on scheduling.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	var metadataSvc *metadata.Service
	if cfg.YouTube.UseOAuth {
		metadataSvc, err = metadata.NewOAuthService(ctx, cfg.YouTube.CredentialsFile, cfg.YouTube.TokenFile, logger)
	} else {
		metadataSvc, err = metadata.NewService(ctx, cfg.YouTube.APIKey, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata origin: %w", err)
	}

	transcriptSvc := transcript.NewService(logger)

	var cacheSvc *cache.Service
	if cfg.Redis.Enabled {
		cacheSvc, err = cache.NewService(cache.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache service: %w", err)
		}
		closers = append(closers, func() {
			_ = cacheSvc.Close()
		})
	}

	var (
		postgresSvc *database.PostgresService
		runRepo     *database.RunRepository
	)
	if cfg.Postgres.Enabled {
		postgresSvc, err = database.NewPostgresService(database.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres service: %w", err)
		}
		closers = append(closers, func() {
			_ = postgresSvc.Close()
		})

		runRepo = database.NewRunRepository(postgresSvc, logger)
		if err = runRepo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare archive schema: %w", err)
		}
	}

	exporter, err := sink.NewFileSink(cfg.Output.Dir, cfg.Output.Format, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	bus := event.NewBus(logger)
	bus.Subscribe(observer.NewLogger(logger))

	var feed *observer.Feed
	if cfg.Feed.Enabled {
		feed = observer.NewFeed(cfg.Feed.Addr, logger)
		bus.Subscribe(feed)
		feed.Start()
	}

	return &Container{
		Config:      cfg,
		Logger:      logger,
		metadata:    metadataSvc,
		transcripts: transcriptSvc,
		cacheSvc:    cacheSvc,
		postgres:    postgresSvc,
		runRepo:     runRepo,
		exporter:    exporter,
		bus:         bus,
		feed:        feed,
	}, nil
}

// RequestFromConfig derives the default batch request for the given inputs.
func (c *Container) RequestFromConfig(inputs []string, resumeFrom string) *domain.BatchRequest {
	refs := make([]domain.ChannelRef, 0, len(inputs))
	for _, input := range inputs {
		refs = append(refs, engine.ParseRef(input))
	}

	h := c.Config.Harvest
	return &domain.BatchRequest{
		Channels:            refs,
		PreferredLanguages:  h.PreferredLanguages,
		AllowAutoGenerated:  h.AllowAutoGenerated,
		SkipLiveStreams:     h.SkipLiveStreams,
		SkipPrivate:         h.SkipPrivate,
		ChannelConcurrency:  h.ChannelConcurrency,
		VideoConcurrency:    h.VideoConcurrency,
		QuotaLimit:          h.QuotaLimit,
		MemoryCeilingMB:     h.MemoryCeilingMB,
		MaxVideosPerChannel: h.MaxVideosPerChannel,
		Timeouts: domain.TimeoutSettings{
			Video:   h.VideoTimeout,
			Channel: h.ChannelTimeout,
			Batch:   h.BatchTimeout,
		},
		ResumeFrom: resumeFrom,
	}
}

// RunBatch executes one batch. Governors are constructed per batch from the
// request and shared by every channel in it.
func (c *Container) RunBatch(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	req.Normalize()

	loc := util.LoadLocationOrUTC(c.Config.Harvest.QuotaTimezone)
	gov := &engine.Governors{
		Quota:   governor.NewQuotaTracker(req.QuotaLimit, loc, c.Logger),
		Limiter: governor.NewAdaptiveRateLimiter(req.RateLimit, c.Logger),
		Memory:  governor.NewMemoryGuard(req.MemoryCeilingMB, c.Logger),
	}
	gov.Memory.Start()
	defer gov.Memory.Stop()

	retry := harvest.NewEngine(gov.Limiter, c.Logger)
	resolver := engine.NewResolver(c.metadata, gov, retry, c.cacheSvc, c.Logger)

	orch := engine.NewOrchestrator(engine.OrchestratorDeps{
		Metadata:      c.metadata,
		Transcripts:   c.transcripts,
		Exporter:      c.exporter,
		Gov:           gov,
		Bus:           c.bus,
		Resolver:      resolver,
		Retry:         retry,
		CheckpointDir: c.Config.Checkpoint.Dir,
		Logger:        c.Logger,
	})

	result, err := orch.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.runRepo != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.runRepo.SaveResult(archiveCtx, result); err != nil {
			c.Logger.Warn("failed to archive batch result", zap.Error(err))
		}
	}
	return result, nil
}

// Shutdown drains the event bus and releases services.
func (c *Container) Shutdown(ctx context.Context) {
	c.bus.Close()
	if c.feed != nil {
		c.feed.Stop(ctx)
	}
	if c.cacheSvc != nil {
		_ = c.cacheSvc.Close()
	}
	if c.postgres != nil {
		_ = c.postgres.Close()
	}
}
