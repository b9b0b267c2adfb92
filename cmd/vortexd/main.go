// Command vortexd runs the Vortex moderation and permission service.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/vortexhq/vortex/pkg/cache"
	"github.com/vortexhq/vortex/pkg/config"
	"github.com/vortexhq/vortex/pkg/middleware"
	"github.com/vortexhq/vortex/pkg/observability"
	"github.com/vortexhq/vortex/pkg/roles"
	"github.com/vortexhq/vortex/pkg/session"
	"github.com/vortexhq/vortex/pkg/vortex"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting vortexd")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := roles.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("role migrations failed")
		os.Exit(1)
	}
	if err := session.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("session migrations failed")
		os.Exit(1)
	}
	if err := vortex.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("moderation migrations failed")
		os.Exit(1)
	}

	rdb, err := cache.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.WithError(err).Error("invalid redis configuration")
		os.Exit(1)
	}
	if err != nil {
		// The cache is best effort; the client reconnects when Redis
		// comes back.
		logger.WithError(err).Warn("redis unreachable, continuing with degraded cache")
	}
	roleCache := cache.New(rdb, logger, metrics)

	registry := roles.NewRegistry(roles.NewSQLStore(db), roleCache, logger, metrics)
	registry.SetCacheTTL(cfg.Roles.CacheTTL)

	sessionStore := session.NewStore(db)
	sessions := session.NewManager(sessionStore, cfg.Roles.SessionCacheSize, cfg.Roles.SessionCacheTTL, logger)

	checker := roles.NewChecker(registry, sessionStore, session.CurrentIdentity, logger, metrics)
	refresher := roles.NewRefresher(registry, roleCache, logger, metrics)

	// Warm the registry in the background; requests that arrive first
	// trigger the same initialization through the checker.
	go func() {
		initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := registry.EnsureInitialized(initCtx); err != nil {
			logger.WithError(err).Warn("background role initialization failed")
		}
	}()

	service := vortex.NewService(vortex.NewStore(db), checker, refresher, logger, metrics)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Instrument(logger, metrics))
	router.Use(middleware.NewAuth(sessions, true).Handler)
	vortex.NewHandlers(service, logger).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, logger, metrics, db)

	scheduler := startRefreshSchedule(cfg, logger, refresher)

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if scheduler != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			<-scheduler.Stop().Done()
			return nil
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return rdb.Close()
	})

	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		os.Exit(1)
	}
}

// startHealthServer serves liveness, readiness and metrics on a separate
// port so probes never compete with API traffic.
func startHealthServer(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, db *sql.DB) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	srv := &http.Server{Addr: cfg.Server.Host + ":" + cfg.Server.HealthPort, Handler: r}
	go func() {
		logger.WithField("addr", srv.Addr).Info("health server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	return srv
}

// startRefreshSchedule schedules periodic role refreshes when configured.
func startRefreshSchedule(cfg *config.Config, logger *observability.Logger, refresher *roles.Refresher) *cron.Cron {
	if cfg.Roles.RefreshSchedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Roles.RefreshSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		result := refresher.Refresh(ctx, roles.DefaultRefreshOptions())
		logger.WithFields(map[string]interface{}{
			"total":        result.Total,
			"cache_loaded": result.CacheLoaded,
			"db_loaded":    result.DBLoaded,
		}).Info("scheduled role refresh complete")
	})
	if err != nil {
		logger.WithError(err).Error("invalid role refresh schedule, skipping")
		return nil
	}

	c.Start()
	logger.WithField("schedule", cfg.Roles.RefreshSchedule).Info("role refresh scheduled")
	return c
}
