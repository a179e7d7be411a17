package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/wrench/pkg/analytics"
	"github.com/platinummonkey/wrench/pkg/config"
	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/httputil"
	"github.com/platinummonkey/wrench/pkg/observability"
	"github.com/platinummonkey/wrench/pkg/rbac"
)

const maxRequestBytes = 1 << 20

func main() {
	guard := flag.Bool("guard", true, "Check the acting user's sidebar permissions on every route")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, *guard, logger); err != nil {
		logger.WithError(err).Error("wrench stopped with an error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, guard bool, logger *observability.Logger) error {
	ctx := context.Background()

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var catalog *rbac.Catalog
	if cfg.Catalog.Path != "" {
		if catalog, err = rbac.LoadCatalogFile(cfg.Catalog.Path); err != nil {
			return err
		}
		logger.Infof("Loaded %d system roles from %s", catalog.Len(), cfg.Catalog.Path)
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled && cfg.Cache.RedisURL != "" {
		redisClient, err = rbac.NewRedisClient(ctx, cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			// the L1 cache still serves without Redis
			logger.WithError(err).Warn("Redis unavailable, continuing with the in-process cache only")
			redisClient = nil
		}
	}

	rbacConfig := rbac.Config{
		Catalog:      catalog,
		CacheEnabled: cfg.Cache.Enabled,
		CacheSize:    cfg.Cache.L1Size,
		CacheTTL:     cfg.Cache.TTL,
		Redis:        redisClient,
		GuardRoutes:  guard,
		Metrics:      metrics,
		Logger:       logger,
	}

	var db *sql.DB
	var manager *rbac.Manager
	if cfg.Database.URL != "" {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		if manager, err = rbac.NewSQLManager(ctx, db, rbacConfig); err != nil {
			return err
		}
		logger.Info("Using PostgreSQL stores")
	} else {
		manager = rbac.NewMemoryManager(directory.NewMemoryDirectory(), rbacConfig)
		logger.Warn("No database configured, using in-memory stores")
	}

	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	reports := analytics.NewService(manager.Engine(), manager.Audit(), analytics.Config{
		EventLimit:  cfg.Analytics.EventLimit,
		ScanTimeout: cfg.Analytics.ScanTimeout,
		Scorer: analytics.WeightedScorer{
			RoleWeight:       cfg.Analytics.RoleWeight,
			CustomRoleWeight: cfg.Analytics.CustomRoleWeight,
			Cap:              cfg.Analytics.ScoreCap,
		},
		RarelyUsedThreshold: cfg.Analytics.RarelyUsedThreshold,
	}, analytics.WithMetrics(metrics), analytics.WithLogger(logger))

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.ActorMiddleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBytes),
		observability.HTTPMetricsMiddleware(metrics),
	)
	manager.RegisterRoutes(router)
	analytics.NewHandlers(reports, manager.Guard()).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion))
	healthRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("tracer", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	if db != nil {
		shutdown.Register("database", func(context.Context) error { return db.Close() })
		stopStats := observeDB(db, metrics)
		shutdown.Register("db stats", func(context.Context) error { stopStats(); return nil })
	}

	errs := make(chan error, 2)
	go func() {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("health server: %w", err)
		}
	}()
	go func() {
		logger.Infof("wrench listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("api server: %w", err)
		}
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-errs; err != nil {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	return shutdown.WaitForSignal(waitCtx)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// observeDB copies pool statistics into the metrics every 15 seconds
func observeDB(db *sql.DB, metrics *observability.Metrics) func() {
	ticker := time.NewTicker(15 * time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				metrics.ObserveDBStats(db.Stats())
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
