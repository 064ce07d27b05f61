package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"venuebook/internal/api"
	"venuebook/internal/config"
	"venuebook/internal/database"
	"venuebook/internal/domain"
	"venuebook/internal/events"
	"venuebook/internal/logging"
	"venuebook/internal/metrics"
	"venuebook/internal/notify"
	"venuebook/internal/repository"
	"venuebook/internal/service"
	"venuebook/internal/worker"

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	startMetrics(ctx, cfg, &logger)

	backup := database.NewBackupService(db.Path(), cfg.Backup, logging.Component(&logger, "backup"))
	if err := backup.Start(ctx); err != nil {
		return err
	}

	eventBus := initEventBus(&logger)
	notifier := initNotifications(ctx, cfg, redisClient, &logger)
	locker := initLocker(cfg, redisClient, &logger)

	reminders := worker.NewReminderWorker(db, notifier, cfg.Notifications.Reminders, logging.Component(&logger, "reminders"))
	if err := reminders.Start(ctx); err != nil {
		return err
	}

	checker := service.NewAvailabilityChecker(db, &logger)
	svc := api.Services{
		Store:    db,
		Checker:  checker,
		Bookings: service.NewBookingService(db, locker, eventBus, notifier, cfg.Booking, &logger),
		Series:   service.NewSeriesService(db, checker, locker, eventBus, notifier, cfg.Booking, &logger),
	}

	limiter := api.NewRateLimiter(cfg.API.RateLimit)
	grpcServer, err := api.NewGRPCServer(cfg.API, limiter, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	go grpcServer.WatchHealth(ctx, 15*time.Second, healthDeps(db, redisClient))

	httpServer := api.NewHTTPServer(cfg.API, svc, limiter, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
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

// initDatabase opens the store and upserts rooms, venues and users from the
// resources file.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	resourcesPath := os.Getenv("RESOURCES_PATH")
	if resourcesPath == "" {
		resourcesPath = "configs/resources.yaml"
	}
	resources, err := config.LoadResources(resourcesPath)
	if err != nil {
		logger.Error().Err(err).Str("resources_path", resourcesPath).Msg("load resources")
		return nil, err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncResources(ctx, resources.Rooms, resources.Venues); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync resources: %w", err)
	}
	for _, seed := range resources.Users {
		if err := db.UpsertUser(ctx, seed.User()); err != nil {
			db.Close()
			return nil, fmt.Errorf("sync user %d: %w", seed.ID, err)
		}
	}

	logger.Info().
		Int("rooms", len(resources.Rooms)).
		Int("venues", len(resources.Venues)).
		Int("users", len(resources.Users)).
		Msg("resources synced")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		// Keep the client: the failover locker retries it once it recovers.
		logger.Warn().Err(err).Msg("redis connection failed, locks fall back to in-process")
		return redisClient
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.ResourceLocker {
	memory := repository.NewMemoryLocker()
	if redisClient == nil {
		return memory
	}
	prefix := cfg.Booking.LockPrefix
	if prefix == "" {
		prefix = "venuebook:lock:"
	}
	return repository.NewFailoverLocker(repository.NewRedisLocker(redisClient, prefix), memory, logging.Component(logger, "locker"))
}

func initEventBus(logger *zerolog.Logger) *events.EventBus {
	bus := events.NewEventBus()
	evLogger := logging.Component(logger, "events")
	bus.Subscribe(func(ev *events.Event) error {
		evLogger.Debug().Str("event_type", ev.Type).RawJSON("payload", ev.Payload).Msg("domain event")
		return nil
	}, events.AllTypes...)
	return bus
}

// initNotifications returns nil when delivery is disabled, so the services
// skip fan-in entirely.
func initNotifications(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.Notifier {
	if !cfg.Notifications.Enabled {
		return nil
	}

	var senders []notify.Sender
	if cfg.Notifications.Email.Enabled {
		email, err := notify.NewEmailSender(cfg.Notifications.Email)
		if err != nil {
			logger.Warn().Err(err).Msg("email channel disabled")
		} else {
			senders = append(senders, email)
		}
	}
	if cfg.Notifications.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(cfg.Notifications.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram channel disabled")
		} else {
			senders = append(senders, notify.NewTelegramSender(bot))
		}
	}
	if len(senders) == 0 {
		logger.Warn().Msg("notifications enabled but no channel is configured")
	}

	w := worker.NewNotificationWorker(
		notify.NewDispatcher(logger, senders...),
		redisClient,
		worker.RetryPolicyFromConfig(cfg.Notifications.Retry),
		cfg.Notifications.QueueSize,
		cfg.Notifications.DeadLetterKey,
		logger,
	)
	go w.Start(ctx)
	return w
}

func healthDeps(db *database.DB, redisClient *redis.Client) map[string]api.Pinger {
	deps := map[string]api.Pinger{"database": db.PingContext}
	if redisClient != nil {
		deps["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
	}
	return deps
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

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
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
