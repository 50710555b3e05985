package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"stolik/internal/api"
	"stolik/internal/config"
	"stolik/internal/database"
	"stolik/internal/directory"
	"stolik/internal/domain"
	"stolik/internal/events"
	"stolik/internal/logging"
	"stolik/internal/metrics"
	"stolik/internal/repository"
	"stolik/internal/service"
	"stolik/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	dir, err := initDirectory(cfg, redisClient, &logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	if sink := initKafka(cfg, &logger); sink != nil {
		defer func() { _ = sink.Close() }()
		dispatcher := worker.NewEventDispatcher(sink, redisClient, worker.RetryPolicy{}, logging.Component(&logger, "dispatcher"))
		dispatcher.Attach(bus)
		go dispatcher.Start(ctx)
	}

	loc := cfg.Booking.Location()
	resolver := service.NewAvailabilityResolver(dir, loc, logging.Component(&logger, "availability"))
	allocator := service.NewAllocator(resolver, dir, db, logging.Component(&logger, "allocator"))
	bookings := service.NewBookingService(db, allocator, logging.Component(&logger, "bookings"),
		service.WithLocker(initLocker(redisClient, &logger), cfg.Booking.LockTTL, cfg.Booking.LockWait),
		service.WithEventPublisher(bus),
		service.WithLocation(loc),
	)

	httpServer := api.NewHTTPServer(&cfg.API, bookings, db, loc, &logger)

	startMetrics(ctx, cfg, &logger)

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup"))
		go backups.Start(ctx)
	}

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := redisClient.Ping(pingCtx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initDirectory prefers local fixtures over the remote service and puts a
// cache in front of either one.
func initDirectory(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (domain.Directory, error) {
	dirLogger := logging.Component(logger, "directory")

	var source domain.Directory
	if cfg.Directory.FixturesPath != "" {
		static, err := directory.LoadStatic(cfg.Directory.FixturesPath)
		if err != nil {
			logger.Error().Err(err).Str("fixtures_path", cfg.Directory.FixturesPath).Msg("load directory fixtures")
			return nil, err
		}
		logger.Info().Str("fixtures_path", cfg.Directory.FixturesPath).Msg("restaurant directory from fixtures")
		source = static
	} else {
		source = directory.NewHTTPClient(cfg.Directory.BaseURL, cfg.Directory.Timeout, dirLogger)
		logger.Info().Str("base_url", cfg.Directory.BaseURL).Msg("restaurant directory over http")
	}

	ttl := cfg.Directory.CacheDuration()
	if ttl <= 0 {
		logger.Info().Msg("restaurant directory cache disabled")
		return source, nil
	}

	var cache directory.Cache
	if redisClient != nil {
		cache = directory.NewRedisCache(redisClient)
	} else {
		cache = directory.NewMemoryCache(ttl)
	}
	return directory.NewCached(source, cache, ttl, dirLogger), nil
}

func initLocker(redisClient *redis.Client, logger *zerolog.Logger) domain.Locker {
	memory := repository.NewMemoryLocker()
	if redisClient == nil {
		return memory
	}
	lockLogger := logging.Component(logger, "locker")
	return repository.NewFailoverLocker(repository.NewRedisLocker(redisClient, lockLogger), memory, lockLogger)
}

func initKafka(cfg *config.Config, logger *zerolog.Logger) *events.KafkaSink {
	if !cfg.Kafka.Enabled() {
		return nil
	}
	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing booking events to kafka")
	return events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logging.Component(logger, "kafka"))
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
