package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"milestonefund/internal/config"
	"milestonefund/internal/model"
	"milestonefund/internal/mqhandler"
	"milestonefund/internal/repository"
	"milestonefund/pkg/db"
	"milestonefund/pkg/logger"
	"milestonefund/pkg/mq"
	"milestonefund/pkg/otel"
	redisclient "milestonefund/pkg/redis"
	"milestonefund/pkg/util"
)

const (
	dedupTTL        = 24 * time.Hour
	retryCounterTTL = time.Hour
)

func main() {
	log := logger.NewLogger()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	otelCfg := cfg.OTel
	otelCfg.ServiceName += "-worker"
	shutdownTracing, err := otel.Init(otelCfg, log)
	if err != nil {
		log.Fatal("Tracing initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting worker service...")

	// Init Redis
	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	// Init DB
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	h := mqhandler.NewAuditEventHandler(
		repository.NewPayoutRepository(pool),
		util.NewDeduper(rdb, dedupTTL, log),
		util.NewRetryCounter(rdb, retryCounterTTL),
		int64(cfg.Outbox.MaxRetries),
		cfg.MQ.Queue,
		log,
	)

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		URL:      cfg.MQ.URL,
		Exchange: cfg.MQ.Exchange,
		Queue:    cfg.MQ.Queue,
		RoutingKeys: []string{
			"campaign.*",
			"investment.*",
			"milestone.*",
			"escrow.*",
			"platform.*",
		},
		Prefetch: cfg.MQ.Prefetch,
		Tag:      "audit-worker",
	}, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(h.Handle)

	log.Info("Worker is ready to process audit events",
		zap.String("queue", cfg.MQ.Queue),
		zap.Strings("transfer_events", []string{model.EventEscrowReleased, model.EventEscrowRefunded, model.EventPlatformFeesWithdrawn}),
	)
	if err := consumer.StartConsuming(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Consumer stopped", zap.Error(err))
	}
	log.Info("Worker stopped")
}
