package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockstream/internal/adapter/broker"
	"stockstream/internal/adapter/cache"
	"stockstream/internal/adapter/exchange"
	"stockstream/internal/adapter/generator"
	"stockstream/internal/adapter/handler"
	"stockstream/internal/adapter/memory"
	"stockstream/internal/adapter/storage"
	"stockstream/internal/application/service"
	"stockstream/internal/application/usecase"
	"stockstream/internal/concurrency/fanout"
	"stockstream/internal/concurrency/registry"
	"stockstream/internal/concurrency/worker"
	"stockstream/internal/domain/model"
	"stockstream/internal/domain/port"
	"stockstream/internal/infrastructure/config"
	"stockstream/internal/infrastructure/metrics"
	"stockstream/internal/infrastructure/server"
)

type App struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store    *memory.Store
	registry *registry.Registry
	fanout   *fanout.Fanout

	modeService        *service.ModeService
	aggregationService *service.AggregationService
	relay              *cache.RedisRelay
	archive            *storage.PostgresAdapter
	history            *broker.History

	streams *handler.StreamHandler
	server  *server.Server

	// ctx живёт до остановки процесса; конвейер приёма привязан к нему, а не к запросу.
	ctx     context.Context
	closers []func()
	closeMu sync.Mutex
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline and the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if modeFlag != "" {
		cfg.DataMode = modeFlag
	}
	mode, err := model.ParseDataMode(cfg.DataMode)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting stockstream", zap.String("version", version), zap.String("mode", mode.String()))

	app := &App{config: cfg, logger: log, ctx: ctx}
	defer app.shutdown()

	if err := app.build(ctx); err != nil {
		return err
	}

	if err := app.modeService.Start(ctx, mode); err != nil {
		return fmt.Errorf("failed to start ingestion: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- app.server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
		return nil
	case err := <-serveErr:
		return err
	}
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.config, a.logger

	a.metrics = metrics.New()
	a.store = memory.NewStore(cfg.Store.HistorySize)
	a.registry = registry.New()
	pool := worker.NewPool(cfg.Fanout.Workers, log.Named("fanout"))
	a.fanout = fanout.New(a.registry, pool, cfg.Fanout.DeliverTimeout, a.metrics, log.Named("fanout"))
	log.Info("price store ready",
		zap.Int("history_size", cfg.Store.HistorySize),
		zap.Int("fanout_workers", pool.Workers()),
		zap.Duration("deliver_timeout", cfg.Fanout.DeliverTimeout),
	)

	checks := map[string]port.Pinger{}
	var aggregates handler.AggregateReader

	if cfg.Redis.Enabled {
		relay, err := cache.NewRedisRelay(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, a.metrics, log.Named("redis"))
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.relay = relay
		a.onClose(func() { _ = relay.Close() })
		h := a.registry.AttachGlobal(relay)
		a.onClose(func() { a.registry.Detach(h) })
		checks["redis"] = relay
	}

	if cfg.PostgreSQL.Enabled {
		pg, err := storage.NewPostgresAdapter(ctx, cfg.PostgresDSN())
		if err != nil {
			return fmt.Errorf("failed to initialize postgres: %w", err)
		}
		a.onClose(func() { _ = pg.Close() })
		if err := pg.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		a.archive = pg
		aggregates = pg
		checks["postgres"] = pg

		a.aggregationService = service.NewAggregationService(a.store, pg, a.metrics, log.Named("aggregation"))
		a.aggregationService.Start(ctx, cfg.PostgreSQL.AggregationInterval)
		a.onClose(a.aggregationService.Stop)
	}

	// Интерфейсы оставляем nil, если Kafka выключена: иначе хендлеры увидят typed nil.
	var (
		counter usecase.MessageCounter
		topic   handler.TopicHistory
	)
	if cfg.Kafka.Enabled {
		a.history = broker.NewHistory(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("kafka-history"))
		counter, topic = a.history, a.history
		checks["kafka"] = a.history
	}

	a.modeService = service.NewModeService(a.buildSources, a.store, a.fanout, a.metrics, log.Named("ingest"))
	a.onClose(a.modeService.Stop)

	priceUseCase := usecase.NewPriceUseCase(a.store, a.registry, counter, log.Named("usecase"))

	a.streams = handler.NewStreamHandler(a.registry, priceUseCase, handler.StreamOptions{
		BufferSize:     cfg.Stream.BufferSize,
		SSETimeout:     cfg.Stream.SSETimeout,
		KeepAlive:      cfg.Stream.KeepAlive,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, a.metrics, log.Named("stream"))

	router := handler.NewRouter(handler.Handlers{
		Price:     handler.NewPriceHandler(priceUseCase, log.Named("api")),
		Kafka:     handler.NewKafkaHandler(topic, log.Named("api")),
		Archive:   handler.NewArchiveHandler(aggregates, log.Named("api")),
		Stream:    a.streams,
		Health:    handler.NewHealthHandler(checks, log.Named("health")),
		Mode:      handler.NewModeHandler(a.modeService, a.switchMode, log.Named("mode")),
		RateLimit: handler.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log.Named("ratelimit")),
		Metrics:   a.metrics,
		Origins:   cfg.Server.AllowedOrigins,
	})

	a.server = server.NewServer(cfg.Server.Port, router, server.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, log)
	return nil
}

// buildSources is the ModeService factory: Kafka plus TCP feeds live, the generator in test.
func (a *App) buildSources(mode model.DataMode) ([]port.SourcePort, error) {
	cfg := a.config

	if mode == model.TestMode {
		gen := generator.NewTestGenerator("test-generator", generator.Config{
			Symbols:      cfg.Generator.Symbols,
			InitialPrice: cfg.Generator.InitialPrice,
			MaxChange:    cfg.Generator.MaxChange,
			Interval:     cfg.Generator.Interval,
		}, a.logger.Named("generator"))
		return []port.SourcePort{gen}, nil
	}

	var sources []port.SourcePort
	if cfg.Kafka.Enabled {
		sources = append(sources, broker.NewConsumer(broker.ConsumerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			GroupID:      cfg.Kafka.GroupID,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		}, a.logger.Named("kafka")))
	}
	for _, exCfg := range cfg.Exchanges {
		if !exCfg.Enabled {
			continue
		}
		sources = append(sources, exchange.NewTCPExchange(exCfg.Name, exCfg.Host, exCfg.Port, a.logger.Named("exchange")))
	}
	if len(sources) == 0 {
		return nil, errors.New("no live sources configured")
	}
	return sources, nil
}

func (a *App) switchMode(_ context.Context, newMode model.DataMode) error {
	return a.modeService.SwitchMode(a.ctx, newMode)
}

func (a *App) onClose(fn func()) {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	a.closers = append(a.closers, fn)
}

func (a *App) shutdown() {
	if a.streams != nil {
		a.streams.Close()
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("shutdown error", zap.Error(err))
		}
	}

	a.closeMu.Lock()
	closers := a.closers
	a.closers = nil
	a.closeMu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	a.logger.Info("shutdown complete")
}
