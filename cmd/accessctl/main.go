package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reviewforge/accessctl/pkg/authz"
	"github.com/reviewforge/accessctl/pkg/config"
	"github.com/reviewforge/accessctl/pkg/httputil"
	"github.com/reviewforge/accessctl/pkg/monitoring"
	"github.com/reviewforge/accessctl/pkg/observability"
	"github.com/reviewforge/accessctl/pkg/permissions"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":       cfg.Server.Port,
		"authz_mode": cfg.Authz.Mode,
	}).Info("starting accessctl")

	// Database is needed for store-mode authorization and for metrics
	// persistence; edge mode without persistence runs without one.
	var db *sql.DB
	if cfg.Database.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.Database.PostgresURL)
		if err != nil {
			logger.WithError(err).Error("failed to open database")
			os.Exit(1)
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		if err := db.Ping(); err != nil {
			logger.WithError(err).Error("failed to ping database")
			os.Exit(1)
		}
	}

	// Prometheus metrics are optional; the monitoring service keeps its own
	// counters either way.
	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	monitorOpts := []monitoring.ServiceOption{}
	if metrics != nil {
		monitorOpts = append(monitorOpts, monitoring.WithPrometheus(metrics))
	}
	if len(cfg.Monitoring.SensitiveResources) > 0 {
		monitorOpts = append(monitorOpts, monitoring.WithSensitiveResources(cfg.Monitoring.SensitiveResources))
	}
	if cfg.Monitoring.PersistenceEnabled {
		store, err := monitoring.NewSQLStore(db)
		if err != nil {
			logger.WithError(err).Error("failed to initialize metrics persistence")
			os.Exit(1)
		}
		monitorOpts = append(monitorOpts, monitoring.WithStore(store))
	}

	monitor := monitoring.NewService(logger, monitorOpts...)
	if cfg.Monitoring.ThresholdOverridesSet() {
		monitor.SetAlertThresholds(thresholdOverrides(cfg.Monitoring))
	}

	// Permission cache: Redis when configured, per-process memory otherwise.
	var (
		cache       permissions.Cache
		healthRedis *redis.Client
	)
	if cfg.Cache.RedisURL != "" {
		redisCache, err := permissions.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, logger)
		if err != nil {
			logger.WithError(err).Error("failed to connect to Redis")
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
		healthRedis = redisCache.Client()
		logger.Info("using Redis permission cache")
	} else {
		cache = permissions.NewMemoryCache(permissions.WithDefaultTTL(cfg.Cache.TTL))
		logger.Info("using in-memory permission cache")
	}

	var authorizer permissions.Authorizer
	switch cfg.Authz.Mode {
	case config.AuthzModeStore:
		ctx := context.Background()
		if err := authz.RunMigrations(ctx, db, logger); err != nil {
			logger.WithError(err).Error("failed to run migrations")
			os.Exit(1)
		}
		store := authz.NewStore(db, logger,
			authz.WithRoleCacheSize(cfg.Authz.RoleCacheSize),
			authz.WithRoleCacheTTL(cfg.Authz.RoleCacheTTL),
		)
		if err := authz.InitializeBuiltInRoles(ctx, store); err != nil {
			logger.WithError(err).Error("failed to initialize built-in roles")
			os.Exit(1)
		}
		authorizer = store
	case config.AuthzModeEdge:
		authorizer = authz.NewEdgeClient(cfg.Authz.EdgeBaseURL, cfg.Authz.EdgeServiceKey, logger,
			authz.WithEdgeRecorder(monitor),
		)
	}

	evaluator := permissions.NewEvaluator(authorizer, cache, logger,
		permissions.WithMonitor(monitor),
		permissions.WithTTL(cfg.Cache.TTL),
	)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	permissions.NewHandlers(evaluator).RegisterRoutes(api)
	monitoring.NewHandlers(monitor).RegisterRoutes(api)

	chain := []httputil.Middleware{
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware(),
		httputil.LoggingMiddleware(logger),
	}
	if metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(metrics))
	}
	handler := httputil.Chain(chain...)(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and Prometheus scrapes live on a separate port.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, healthRedis))
	if registry != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	monitor.Start()

	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.Infof("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}

	monitor.Stop()
	logger.Info("accessctl stopped")
}

// thresholdOverrides converts the flat config fields into the monitoring
// service's partial-override form, leaving zero-valued fields at defaults.
func thresholdOverrides(mc config.MonitoringConfig) monitoring.ThresholdOverrides {
	var o monitoring.ThresholdOverrides
	if mc.CacheHitRateFloor > 0 {
		o.CacheHitRateFloor = &mc.CacheHitRateFloor
	}
	if mc.DenialRateCeiling > 0 {
		o.DenialRateCeiling = &mc.DenialRateCeiling
	}
	if mc.EdgeErrorRateCeiling > 0 {
		o.EdgeErrorRateCeiling = &mc.EdgeErrorRateCeiling
	}
	if mc.CheckLatencyCeilingMs > 0 {
		o.CheckLatencyCeilingMs = &mc.CheckLatencyCeilingMs
	}
	if mc.EdgeLatencyCeilingMs > 0 {
		o.EdgeLatencyCeilingMs = &mc.EdgeLatencyCeilingMs
	}
	if mc.UnauthorizedAttemptLimit > 0 {
		o.UnauthorizedAttemptLimit = &mc.UnauthorizedAttemptLimit
	}
	return o
}
