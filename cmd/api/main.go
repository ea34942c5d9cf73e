package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kvasirlabs/waitline/cmd/mainconfig"
	"github.com/kvasirlabs/waitline/internal/api/router"
	"github.com/kvasirlabs/waitline/internal/catalog"
	appconfig "github.com/kvasirlabs/waitline/internal/config"
	"github.com/kvasirlabs/waitline/internal/http/handlers"
	httpmiddleware "github.com/kvasirlabs/waitline/internal/http/middleware"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/notify"
	"github.com/kvasirlabs/waitline/internal/observability/metrics"
	"github.com/kvasirlabs/waitline/internal/queue"
	"github.com/kvasirlabs/waitline/internal/reporting"
	"github.com/kvasirlabs/waitline/internal/ws"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting waitline API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	var (
		store       queue.Store
		catalogRepo catalog.Repository
		pool        *pgxpool.Pool
		reportingDB *sql.DB
		err         error
	)
	if cfg.StoreURI == "memory" {
		logger.Warn("using in-memory store; data will not survive a restart")
		mem := catalog.NewMemory()
		catalogRepo = mem
		store = queue.NewMemory(mem)
	} else {
		pool, err = pgxpool.New(ctx, cfg.StoreURI)
		if err != nil {
			logger.Error("connect postgres failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = queue.NewPostgres(pool)
		catalogRepo = catalog.NewPostgres(pool)

		reportingDB, err = sql.Open("pgx", cfg.StoreURI)
		if err != nil {
			logger.Error("open reporting db failed", "error", err)
			os.Exit(1)
		}
		defer func() { _ = reportingDB.Close() }()
	}

	issuer, err := identity.NewTokenIssuer(cfg.SessionSecret, cfg.TokenTTL, nil)
	if err != nil {
		logger.Error("token issuer init failed", "error", err)
		os.Exit(1)
	}
	sessions := identity.NewSessionStore(redisClient)
	authService := identity.NewService(catalogRepo, issuer, sessions, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	queueMetrics := metrics.NewQueueMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	var publisher queue.Publisher
	var notifier *notify.Notifier
	if cfg.NotifierURL == "" {
		logger.Warn("NOTIFIER_URL unset, push notifications disabled")
	} else {
		sender, err := notify.NewExpoClient(notify.ExpoConfig{
			URL:        cfg.NotifierURL,
			MaxRetries: cfg.NotifyMaxRetries,
			Logger:     logger.Logger,
		})
		if err != nil {
			logger.Error("push client init failed", "error", err)
			os.Exit(1)
		}
		var intentQueue notify.Queue
		if cfg.NotifyQueueURL != "" {
			awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
			if err != nil {
				logger.Error("load AWS config failed", "error", err)
				os.Exit(1)
			}
			intentQueue = notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL)
		} else {
			intentQueue = notify.NewMemoryQueue(cfg.NotifyBuffer)
		}
		notifier = notify.NewNotifier(intentQueue, sender, logger).
			WithWorkers(cfg.NotifyWorkers).
			WithBatchSize(cfg.NotifyBatchSize)
		notifier.Start(ctx)
		publisher = notifier
	}

	eng := queue.NewEngine(queue.EngineConfig{
		Store:              store,
		Publisher:          publisher,
		Logger:             logger,
		Metrics:            queueMetrics,
		Cache:              redisClient,
		WaitCacheTTL:       cfg.WaitCacheTTL,
		UndoWindow:         cfg.UndoWindow,
		RestructureHorizon: cfg.RestructureHorizon,
		MaterialWaitDelta:  cfg.MaterialWaitDelta,
		ConflictRetries:    cfg.ConflictRetries,
	})

	board := ws.NewBoard(func(ctx context.Context, businessID string) (any, error) {
		return eng.HelperWaitTimes(ctx, businessID)
	}, logger)
	eng.SetCommitHook(board.Notify)

	var reportingStore *reporting.Store
	if reportingDB != nil {
		reportingStore = reporting.NewStore(reportingDB, logger)
		go reportingStore.RunRollups(ctx, cfg.ReportingRollupInterval)
	}

	healthChecks := []handlers.HealthCheck{
		{Name: "store", Probe: store.Ping},
		{Name: "redis", Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}

	var reportingHandler *handlers.ReportingHandler
	if reportingStore != nil {
		reportingHandler = handlers.NewReportingHandler(reportingStore, catalogRepo, logger)
	}

	handler := router.New(&router.Config{
		Logger:      logger,
		TokenIssuer: issuer,
		Sessions:    sessions,

		Auth:      handlers.NewAuthHandler(authService, catalogRepo, logger),
		Queue:     handlers.NewQueueHandler(eng, logger),
		Breaks:    handlers.NewBreaksHandler(eng, logger),
		Catalog:   handlers.NewCatalogHandler(catalogRepo, logger),
		Manual:    handlers.NewManualHandler(catalogRepo, logger),
		Reporting: reportingHandler,
		Stats:     handlers.NewStatsHandler(reg, logger),
		Health:    handlers.NewHealthHandler(logger, healthChecks...),
		Board:     board,

		RateLimiter:    httpmiddleware.NewRateLimiter(redisClient, cfg.LoginRateLimit, cfg.LoginRateWindow, logger),
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),

		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
	stop()
	if notifier != nil {
		notifier.Wait()
	}
	logger.Info("stopped")
}
