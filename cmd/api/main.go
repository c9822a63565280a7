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

	"gymkaana/internal/api"
	"gymkaana/internal/config"
	"gymkaana/internal/database"
	"gymkaana/internal/domain"
	"gymkaana/internal/events"
	"gymkaana/internal/logging"
	"gymkaana/internal/metrics"
	"gymkaana/internal/notify"
	"gymkaana/internal/repository"

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

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	attempts := initAttempts(redisClient, &logger)

	eventBus := events.NewEventBus()
	eventBus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event", event.Type).Msg("event handler failed")
	})

	notifier := initNotifier(ctx, cfg, eventBus, &logger)

	backupService := database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup"))
	backupService.Start(ctx)
	// Runs before the deferred db.Close.
	defer backupService.Stop()

	metrics.Register()
	startMetrics(ctx, cfg, &logger)

	httpLogger := logging.Component(&logger, "http")
	httpServer := api.NewHTTPServer(cfg.API, db, attempts, eventBus, httpLogger)

	err = serve(ctx, httpServer, cfg, &logger)
	// A failed listener returns without a signal; release the workers anyway.
	stop()
	if notifier != nil {
		notifier.Wait()
	}
	return err
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
	if err := cfg.ValidateServer(); err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("config validation failed: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	dbLogger := logging.Component(logger, "database")
	db, err := database.NewDB(cfg.Database.Path, dbLogger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	seedPath := os.Getenv("BOOKINGS_PATH")
	if seedPath == "" {
		seedPath = cfg.Seed.BookingsPath
	}
	if seedPath == "" {
		return db, nil
	}

	if _, err := db.SeedFromFile(context.Background(), seedPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("bookings_path", seedPath).Msg("seed file not found, starting with existing bookings")
			return db, nil
		}
		logger.Error().Err(err).Str("bookings_path", seedPath).Msg("seed bookings")
		db.Close()
		return nil, err
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initAttempts(redisClient *redis.Client, logger *zerolog.Logger) domain.AttemptRepository {
	memory := repository.NewMemoryAttemptRepository()
	if redisClient == nil {
		return memory
	}
	failoverLogger := logging.Component(logger, "attempts")
	return repository.NewFailoverAttemptRepository(
		repository.NewRedisAttemptRepository(redisClient),
		memory,
		failoverLogger,
	)
}

func initNotifier(
	ctx context.Context,
	cfg *config.Config,
	bus *events.EventBus,
	logger *zerolog.Logger,
) *notify.RejectionNotifier {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.ManagerChatIDs) == 0 {
		return nil
	}

	bot, err := notify.NewBot(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without manager alerts")
		return nil
	}

	notifyLogger := logging.Component(logger, "notify")
	notifier := notify.NewRejectionNotifier(bot, cfg.Telegram.ManagerChatIDs, notifyLogger)
	notifier.Subscribe(bus)
	notifier.Start(ctx)

	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.Telegram.ManagerChatIDs)).Msg("telegram alerts enabled")
	return notifier
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("entry API started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("entry API stopped")
	return runErr
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
