package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"chainattend/internal/config"
	"chainattend/internal/journal"
	"chainattend/internal/queue"
	"chainattend/internal/store"
	"chainattend/pkg/logger"
)

// Worker consumes tx events from the queue and records them in the journal.
func main() {
	cfg := config.Load()

	log, err := logger.New(&cfg.Log, logger.DefaultServiceName+"-worker")
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory cannot be shared with the api process; use redis")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	log.Info("running database migrations")
	if err := db.Migrate(ctx); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable, will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, "")
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("worker started, waiting for messages")
	n := journal.Drain(ctx, messages, journal.NewRepository(db.Client), log)
	log.Info("worker stopped", zap.Int("entries", n))
}
