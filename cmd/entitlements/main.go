package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alignex/entitlements/pkg/api"
	"github.com/alignex/entitlements/pkg/config"
	"github.com/alignex/entitlements/pkg/httputil"
	"github.com/alignex/entitlements/pkg/licensing"
	"github.com/alignex/entitlements/pkg/middleware"
	"github.com/alignex/entitlements/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":          cfg.Server.Port,
		"health_port":   cfg.Server.HealthPort,
		"db_driver":     cfg.Database.Driver,
		"cache_backend": cfg.Cache.Backend,
		"auth_mode":     cfg.Auth.Mode,
	}).Info("starting entitlements service")

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("database is unreachable")
		os.Exit(1)
	}
	if err := licensing.RunMigrations(ctx, db, cfg.Database.Driver); err != nil {
		logger.WithError(err).Error("migrations failed")
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis is unreachable at startup")
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if otelProviders != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Error("failed to create OTel metrics")
			os.Exit(1)
		}
		metrics.AttachOTel(otelMetrics)
	}

	var cache licensing.Cache
	var memCache *licensing.MemoryCache
	if cfg.Cache.Backend == "redis" {
		cache = licensing.NewRedisCache(redisClient, logger)
	} else {
		memCache = licensing.NewMemoryCache()
		cache = memCache
	}

	store := licensing.NewStore(db, logger, metrics)
	resolver := licensing.NewResolver(store, cache, logger,
		licensing.WithTTL(cfg.Cache.TTL),
		licensing.WithMetrics(metrics),
		licensing.WithDefaultOrg(cfg.Auth.DefaultOrg),
	)
	handlers := licensing.NewHandlers(store, resolver, logger, cfg.Auth.DefaultUser)
	gate := licensing.NewGate(resolver, cfg.Auth.DefaultUser, cfg.Server.UpgradeURL)

	var identity *middleware.IdentityResolver
	if cfg.Auth.Mode == "oidc" {
		identity, err = middleware.NewOIDCIdentityResolver(ctx, logger,
			cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID, cfg.Auth.DefaultOrg)
		if err != nil {
			logger.WithError(err).Error("failed to initialize OIDC")
			os.Exit(1)
		}
	} else {
		identity = middleware.NewHeaderIdentityResolver(logger,
			cfg.Auth.IdentityHeader, cfg.Auth.DefaultUser, cfg.Auth.DefaultOrg)
	}

	chain := []api.Middleware{
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), logger)))
			})
		},
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		metrics.HTTPMiddleware,
		identity.Middleware,
	}
	if cfg.RateLimit.Enabled {
		if redisClient != nil {
			limiter := middleware.NewDistributedRateLimiter(redisClient, logger,
				int64(cfg.RateLimit.Requests), cfg.RateLimit.Window)
			chain = append(chain, limiter.Middleware)
		} else {
			limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
			chain = append(chain, limiter.Middleware)
		}
	}

	server := api.NewServer(handlers, gate, logger, chain...)

	var apiHandler http.Handler = server
	if otelProviders != nil {
		apiHandler = otelhttp.NewHandler(server, "entitlements-api")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.LivenessHandler())
	healthMux.HandleFunc("/readyz", healthChecker.ReadinessHandler())
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	var sweeper *licensing.Sweeper
	if cfg.Jobs.Enabled {
		sweeper = licensing.NewSweeper(store, memCache, logger, metrics)
		if err := sweeper.Start(licensing.SweeperSchedules{
			CachePurge:     cfg.Jobs.CacheSweep,
			ExpiryReport:   cfg.Jobs.ExpiryReport,
			MetricsRefresh: cfg.Jobs.MetricsRefresh,
		}); err != nil {
			logger.WithError(err).Error("failed to start maintenance sweeper")
			os.Exit(1)
		}
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	if sweeper != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			sweeper.Stop()
			return nil
		})
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
	logger.Info("entitlements service stopped")
}
