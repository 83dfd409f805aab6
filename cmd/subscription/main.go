package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/billinglab/billing-backend/internal/adapters/paymentclient"
	"github.com/billinglab/billing-backend/internal/adapters/postgres"
	"github.com/billinglab/billing-backend/internal/auth"
	"github.com/billinglab/billing-backend/internal/config"
	"github.com/billinglab/billing-backend/internal/handlers"
	adminhandler "github.com/billinglab/billing-backend/internal/handlers/admin"
	subscriptionhandler "github.com/billinglab/billing-backend/internal/handlers/subscription"
	usagehandler "github.com/billinglab/billing-backend/internal/handlers/usage"
	userhandler "github.com/billinglab/billing-backend/internal/handlers/user"
	webhookhandler "github.com/billinglab/billing-backend/internal/handlers/webhook"
	"github.com/billinglab/billing-backend/internal/queue"
	subscriptionsvc "github.com/billinglab/billing-backend/internal/services/subscription"
	usagesvc "github.com/billinglab/billing-backend/internal/services/usage"
	usersvc "github.com/billinglab/billing-backend/internal/services/user"
	meterpkg "github.com/billinglab/billing-backend/internal/usage"
	"github.com/billinglab/billing-backend/internal/webhook"
	subworkers "github.com/billinglab/billing-backend/internal/workers/subscription"
	pkgmiddleware "github.com/billinglab/billing-backend/pkg/middleware"
	"github.com/billinglab/billing-backend/pkg/observability"
	"github.com/billinglab/billing-backend/pkg/resourcemgmt"
	"github.com/billinglab/billing-backend/pkg/shutdown"
)

const serviceName = "subscription-service"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting subscription service",
		zap.String("version", cfg.Server.AppVersion),
	)

	dbPool, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	rdb, err := queue.NewRedisClient(cfg.Redis.URL, cfg.Redis.MaxConns)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}

	db := postgres.NewDBExecutor(dbPool)
	users := postgres.NewUserRepository(db)
	plans := postgres.NewPlanRepository(db)
	subs := postgres.NewSubscriptionRepository(db)
	usageRepo := postgres.NewUsageRepository(db)
	inbox := postgres.NewWebhookInboxRepository(db)
	jobLogs := postgres.NewJobLogRepository(db)

	substrate := queue.NewSubstrate(rdb, logger)
	producer := queue.NewProducer(substrate)
	locks := queue.NewLockManager(rdb)
	policies := queue.NewPolicyRegistry()
	recorder := queue.NewDualRecorder(serviceName, postgres.NewJobLogStore(jobLogs), substrate, logger)

	tokens := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Server.AppName,
		cfg.Auth.AccessTokenExpiry, cfg.Auth.ServiceTokenExpiry)
	meter := meterpkg.NewMeter(rdb, logger)

	userService := usersvc.NewService(db, users, tokens, logger)
	subscriptionService := subscriptionsvc.NewService(db, plans, subs, inbox, producer, logger)
	usageService := usagesvc.NewService(db, subs, plans, usageRepo, meter, logger)

	payments := paymentclient.NewClient(cfg.Server.PaymentServiceURL, serviceName,
		time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second, tokens, logger)
	workerHandlers := subworkers.NewHandlers(payments, subscriptionService, usageService, plans, subs, logger)

	verifier := webhook.NewVerifier(cfg.Webhook.VerifySecret,
		time.Duration(cfg.Webhook.ToleranceSeconds)*time.Second)

	rateLimiter := pkgmiddleware.NewRateLimiter(10, 20)

	router := handlers.NewSubscriptionRouter(handlers.SubscriptionRouterDeps{
		Users:         userhandler.NewHandler(userService, logger),
		Subscriptions: subscriptionhandler.NewHandler(subscriptionService, plans, logger),
		Usage:         usagehandler.NewHandler(usageService, logger),
		Webhooks:      webhookhandler.NewHandler(verifier, subscriptionService, logger),
		Admin:         adminhandler.NewHandler(substrate, queue.SubscriptionQueues(), logger),
		Tokens:        tokens,
		RateLimiter:   rateLimiter,
		Development:   cfg.Logger.Development,
		Logger:        logger,
	})

	manager := shutdown.NewManager(logger, cfg.Worker.ShutdownGrace)

	// Background loops run off one context; cancelling it is the first
	// shutdown step so no new work is claimed while servers drain.
	workCtx, stopWork := context.WithCancel(context.Background())

	tracker := resourcemgmt.NewGoroutineTracker(logger, resourcemgmt.DefaultConfig())
	go tracker.StartMonitoring(workCtx)

	inflight := shutdown.NewInFlightTracker("queue-jobs", logger)

	queueHandlers := map[string]map[string]queue.Handler{
		queue.QueuePaymentInitiation: workerHandlers.PaymentQueueHandlers(),
		queue.QueueTrialPayment:      workerHandlers.PaymentQueueHandlers(),
		queue.QueuePlanChange:        workerHandlers.PlanChangeHandlers(),
		queue.QueueUsageSync:         workerHandlers.UsageSyncHandlers(),
	}
	for queueName, actionHandlers := range queueHandlers {
		for i := 0; i < cfg.Worker.Concurrency; i++ {
			worker := queue.NewWorker(queueName, substrate, locks,
				policies.ForQueue(queueName), actionHandlers, recorder, logger).
				WithClaimTimeout(cfg.Worker.ClaimTimeout).
				WithGate(inflight)
			tracker.GoWithContext(workCtx, "queue-worker", worker.Run)
		}
	}

	pump := queue.NewPump(substrate, queue.SubscriptionQueues(), cfg.Worker.PumpInterval, logger)
	tracker.GoWithContext(workCtx, "delayed-pump", pump.Run)

	sweeper := queue.NewSweeper(substrate, locks, policies, queue.SubscriptionQueues(),
		cfg.Worker.SweepInterval, recorder, logger)
	tracker.GoWithContext(workCtx, "sweeper", sweeper.Run)

	tracker.GoWithContext(workCtx, "renewal-loop", func(ctx context.Context) {
		subscriptionService.RunRenewalLoop(ctx, cfg.Worker.SweepInterval)
	})

	healthChecker := observability.NewHealthChecker(dbPool, rdb)
	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), healthChecker)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	manager.RegisterCloser("database", closerFunc(func() error { dbPool.Close(); return nil }))
	manager.RegisterCloser("redis", rdb)
	manager.RegisterHTTPServer("metrics-server", metricsServer)
	manager.RegisterHTTPServer("http-server", httpServer)
	manager.RegisterNoErr("rate-limiter", rateLimiter.Shutdown)
	manager.Register("worker-drain", inflight.Shutdown)
	manager.RegisterNoErr("background-loops", stopWork)

	manager.WaitForShutdown()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func initLogger(cfg *config.Config) *zap.Logger {
	if cfg.Logger.Development {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(cfg.Logger.Level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, _ := zapCfg.Build()
	return logger
}

func initDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
