package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cauce-ai/cauce-hub/internal/api"
	"github.com/cauce-ai/cauce-hub/internal/broker"
	"github.com/cauce-ai/cauce-hub/internal/config"
	"github.com/cauce-ai/cauce-hub/internal/search"
	"github.com/cauce-ai/cauce-hub/internal/server"
	"github.com/cauce-ai/cauce-hub/internal/storage"
	"github.com/cauce-ai/cauce-hub/internal/transport"
)

func main() {
	// Load .env file if present (development convenience).
	_ = godotenv.Load()             // cmd/cauce-hub/.env
	_ = godotenv.Load("../.env")    // running from cmd/ -> project root .env
	_ = godotenv.Load("../../.env") // running from cmd/cauce-hub/ -> project root .env

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	logger := slog.Default()
	logger.Info("starting cauce-hub", "addr", cfg.Address, "env", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Dependencies{Logger: logger}
	pings := make(map[string]api.PingFunc)

	if cfg.PostgresURL != "" {
		pg, err := storage.NewPostgresClient(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure PostgreSQL schema", "error", err)
			os.Exit(1)
		}
		deps.Postgres = pg
		pings["postgresql"] = pg.Ping
	}

	if cfg.ClickHouseURL != "" {
		ch, err := storage.NewClickHouseClient(ctx, cfg.ClickHouseURL)
		if err != nil {
			logger.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure ClickHouse schema", "error", err)
			os.Exit(1)
		}
		deps.ClickHouse = ch
		pings["clickhouse"] = ch.Ping
	}

	if cfg.BrokerEnabled {
		natsBroker, err := broker.NewNATSBroker(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsBroker.Close()
		if err := natsBroker.EnsureStreams(ctx); err != nil {
			logger.Error("failed to ensure NATS streams", "error", err)
			os.Exit(1)
		}
		deps.Broker = natsBroker
		pings["nats"] = func(context.Context) error { return natsBroker.Ping() }
	}

	if cfg.RedisURL != "" {
		redis, err := storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed; redis health check unavailable", "error", err)
		} else {
			defer redis.Close()
			pings["redis"] = redis.Ping
		}
	}

	// S3 is non-critical at startup: an unreachable bucket disables payload
	// offload, it does not stop the hub from serving inline-sized signals.
	s3Client, err := storage.NewS3Client(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, cfg.S3SkipBucketVerification)
	if err != nil {
		logger.Warn("S3 client initialization failed; oversized payload offload disabled", "error", err)
	} else {
		deps.Payloads = s3Client
	}

	if cfg.SearchIndexPath != "" {
		bleve, err := search.NewBleveManager(cfg.SearchIndexPath)
		if err != nil {
			logger.Warn("Bleve index initialization failed; dead-letter search disabled", "error", err)
		} else {
			defer bleve.Close()
			deps.DeadLetterIndex = bleve
		}
	}

	if cfg.WebhookEnabled {
		deps.Webhook = transport.NewWebhook(logger)
	}

	deps.HealthChecks = pings
	srv := server.New(cfg, deps)

	if err := srv.ServeWithShutdown(ctx, cfg.Address); err != nil {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}

	logger.Info("cauce-hub stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
