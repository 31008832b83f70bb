package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"milestonefund/internal/config"
	"milestonefund/internal/engine"
	"milestonefund/internal/handler"
	"milestonefund/internal/httpserver"
	"milestonefund/internal/repository"
	"milestonefund/pkg/db"
	"milestonefund/pkg/logger"
	"milestonefund/pkg/mq"
	"milestonefund/pkg/otel"
	"milestonefund/pkg/outbox"
	redisclient "milestonefund/pkg/redis"
	"milestonefund/pkg/util"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	log := logger.NewLogger()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	otelCfg := cfg.OTel
	otelCfg.ServiceName += "-api"
	shutdownTracing, err := otel.Init(otelCfg, log)
	if err != nil {
		log.Fatal("Tracing initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	// Init Redis
	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	// Init MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Init Repositories
	outboxRepo := outbox.NewRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool, outboxRepo, log)

	// Init Engine，从已提交状态恢复
	eng, err := engine.New(engine.Dependencies{
		Logger:     log,
		Committer:  ledgerRepo,
		Platform:   cfg.Platform(),
		Campaign:   cfg.Campaign(),
		Governance: cfg.Governance(),
	})
	if err != nil {
		log.Fatal("Engine initialization failed", zap.Error(err))
	}
	snapshot, err := ledgerRepo.LoadSnapshot(ctx)
	if err != nil {
		log.Fatal("Failed to load ledger snapshot", zap.Error(err))
	}
	eng.Hydrate(snapshot)

	// Init Outbox Dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	go dispatcher.Start(ctx)

	replayService := outbox.NewReplayService(outboxRepo, publisher, log)

	// Router
	router := httpserver.NewRouter(httpserver.Handlers{
		Campaign:  handler.NewCampaignHandler(eng, log),
		Milestone: handler.NewMilestoneHandler(eng, log),
		Platform:  handler.NewPlatformHandler(eng, log),
		Admin:     handler.NewAdminHandler(replayService, log),
	}, httpserver.RouterConfig{
		Auth: httpserver.AuthConfig{
			Secret:  cfg.JWT.Secret,
			Issuer:  cfg.JWT.Issuer,
			OwnerID: cfg.Engine.Platform.OwnerID,
		},
		Idempotency: util.NewIdempotencyStore(rdb, idempotencyTTL),
		Readiness: map[string]httpserver.Pinger{
			"db": pool,
			"redis": httpserver.PingFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		},
	}, log)

	server := httpserver.NewServer(":"+cfg.Server.Port, router.Handler(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, log)
	if err := server.Run(ctx, 10*time.Second); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}
	log.Info("API server stopped")
}
