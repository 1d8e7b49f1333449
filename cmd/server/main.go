package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orbitlink/billing-service/internal/adapters/logging"
	"github.com/orbitlink/billing-service/internal/adapters/postgres"
	"github.com/orbitlink/billing-service/internal/adapters/redislock"
	"github.com/orbitlink/billing-service/internal/config"
	cronHandler "github.com/orbitlink/billing-service/internal/handlers/cron"
	"github.com/orbitlink/billing-service/internal/scheduler"
	billingService "github.com/orbitlink/billing-service/internal/services/billing"
	invoiceService "github.com/orbitlink/billing-service/internal/services/invoice"
	ledgerService "github.com/orbitlink/billing-service/internal/services/ledger"
	"github.com/orbitlink/billing-service/pkg/observability"
	"github.com/orbitlink/billing-service/pkg/shutdown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := initLogger(cfg.Logger)
	defer logger.Sync()

	logger.Info("Starting billing service",
		zap.String("version", "0.1.0"),
	)

	shutdownManager := shutdown.NewManager(logger, 30*time.Second)

	dbPool, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	shutdownManager.RegisterNoErr("database_pool", dbPool.Close)

	logger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	shutdownManager.RegisterCloser("redis_client", redisClient)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	cancelPing()

	// Wire the billing engine
	portLogger := logging.NewZapAdapter(logger)
	db := postgres.NewDBExecutor(dbPool)

	subRepo := postgres.NewSubscriptionRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	walletRepo := postgres.NewWalletRepository(db)
	settingsRepo := postgres.NewBillingSettingsRepository(db)
	taxRepo := postgres.NewTaxRateRepository(db)
	customerRepo := postgres.NewCustomerRepository(db)
	planRepo := postgres.NewPlanRepository(db)
	consolidatedRepo := postgres.NewConsolidatedInvoiceRepository(db)

	locker := redislock.New(redisClient)
	ledgerSvc := ledgerService.NewService(ledgerRepo, walletRepo, orderRepo, portLogger)
	allocator := invoiceService.NewAllocator(db, settingsRepo, orderRepo, consolidatedRepo, portLogger)
	billingSvc := billingService.NewService(
		db, subRepo, orderRepo, ledgerRepo, settingsRepo,
		taxRepo, customerRepo, planRepo,
		ledgerSvc, allocator, locker, portLogger,
	)

	// Cron trigger endpoints
	billingCron := cronHandler.NewBillingHandler(billingSvc, logger, cfg.Cron.Secret)

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/cron/prebill", billingCron.RunPrebill)
	httpMux.HandleFunc("/cron/cutoff", billingCron.RunCutoff)
	httpMux.HandleFunc("/cron/health", billingCron.HealthCheck)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Minute, // billing runs can be long
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()
	shutdownManager.RegisterHTTPServer("http_server", httpServer)

	// Metrics and health
	healthChecker := observability.NewHealthChecker(dbPool, redisClient)
	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), healthChecker, logger)
	logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
	shutdownManager.Register("metrics_server", func(context.Context) error {
		return observability.ShutdownMetricsServer(metricsServer)
	})

	// In-process schedule
	if cfg.Cron.Enabled {
		sched, err := scheduler.New(billingSvc, logger, cfg.Cron.PrebillSchedule, cfg.Cron.CutoffSchedule)
		if err != nil {
			logger.Fatal("Failed to build scheduler", zap.Error(err))
		}
		sched.Start()
		shutdownManager.Register("scheduler", sched.Stop)
	} else {
		logger.Warn("In-process scheduler disabled, relying on external cron triggers")
	}

	// Blocks until SIGINT or SIGTERM, then stops the scheduler first and
	// the connection pools last.
	shutdownManager.WaitForShutdown()
}

// initLogger initializes the logger
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	if cfg.Development {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, _ := zapCfg.Build()
	return logger
}

// initDatabase creates the connection pool
func initDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Debug("Connection pool configured",
		zap.Int32("max_conns", cfg.Database.MaxConns),
		zap.Int32("min_conns", cfg.Database.MinConns),
	)
	return pool, nil
}
