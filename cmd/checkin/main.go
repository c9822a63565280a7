package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gymkaana/internal/api"
	"gymkaana/internal/audit"
	"gymkaana/internal/checkin"
	"gymkaana/internal/config"
	"gymkaana/internal/console"
	"gymkaana/internal/events"
	"gymkaana/internal/logging"
	"gymkaana/internal/metrics"
	"gymkaana/internal/repository"
	"gymkaana/internal/scanner"

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

	metrics.Register()

	clientLogger := logging.Component(&logger, "entry-client")
	client := api.NewEntryClient(cfg.Client, clientLogger)
	if redisClient := initRedis(ctx, cfg, &logger); redisClient != nil {
		defer redisClient.Close()
		client.UseActivityCache(repository.NewRedisActivityCache(redisClient, cfg.Client.VenueID, cfg.Client.CacheTTL()))
	}

	eventBus := events.NewEventBus()
	eventBus.OnError(func(event *events.Event, err error) {
		logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
	})

	scannerLogger := logging.Component(&logger, "scanner")
	var sc checkin.Scanner
	if cfg.CheckIn.CameraSource != "" {
		sc = scanner.NewLifecycle(scanner.NewLineCamera(cfg.CheckIn.CameraSource), scanner.Options{
			FPS:    cfg.CheckIn.ScanFPS,
			Region: scanner.Region{Width: cfg.CheckIn.ScanRegion, Height: cfg.CheckIn.ScanRegion},
		}, scannerLogger)
	} else {
		logger.Info().Msg("no camera source configured, manual entry only")
	}

	machineLogger := logging.Component(&logger, "checkin")
	machine := checkin.NewMachine(client, client, sc, eventBus, checkin.Options{
		TokenMarker:       cfg.CheckIn.TokenMarker,
		ErrorResetDelay:   cfg.CheckIn.ErrorResetDelay(),
		SuccessResetDelay: cfg.CheckIn.SuccessResetDelay(),
	}, machineLogger)
	defer machine.Close()

	feedLogger := logging.Component(&logger, "audit")
	feed := audit.NewFeed(client, audit.Options{
		Limit:    cfg.Activity.Limit,
		Interval: cfg.Activity.RefreshInterval(),
	}, feedLogger)
	feed.Subscribe(eventBus)

	screen := console.New(machine, feed, cfg.Exports.Path, os.Stdout, machineLogger)
	screen.Subscribe(eventBus)
	feed.OnUpdate(screen.OnActivity)

	feed.Start(ctx)
	defer feed.Stop()

	logger.Info().Str("api", cfg.Client.BaseURL).Str("venue", cfg.Client.VenueID).Msg("check-in desk started")
	return screen.Run(ctx, os.Stdin)
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
	if err := cfg.ValidateClient(); err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("config validation failed: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "checkin-main").Logger()

	return cfg, logger, closer, nil
}

// initRedis connects the optional activity cache. The console works without it.
func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" || cfg.Client.CacheTTL() <= 0 {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without activity cache")
		_ = redisClient.Close()
		return nil
	}
	return redisClient
}
