package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"streamguard/internal/core/ports"
	"streamguard/internal/core/services"
	httphandlers "streamguard/internal/handlers/http"
	"streamguard/internal/infrastructure/distributed"
	"streamguard/internal/infrastructure/middleware"
	"streamguard/internal/infrastructure/monitoring"
	wssignal "streamguard/internal/infrastructure/signal"
	"streamguard/internal/infrastructure/tokenstore"
	"streamguard/internal/streamservers"
	"streamguard/pkg/circuitbreaker"
	"streamguard/pkg/config"
	"streamguard/pkg/httpx"
	"streamguard/pkg/leader"
	"streamguard/pkg/logger"
	"streamguard/pkg/retry"
	"streamguard/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Sugar().Fatalw("failed to load config", "path", *configPath, "error", err)
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = zapLogger.Sync() }()

	log := zapLogger.Sugar()
	log.Infow("configuration loaded",
		"path", *configPath,
		"stream_servers", len(cfg.StreamServers),
		"token_cache", cfg.TokenCache.Backend,
	)

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := monitoring.NewHealthChecker()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = dialRedis(ctx, cfg, log)
		if err != nil {
			log.Fatalw("failed to connect to Redis", "error", err)
		}
		checker.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}, 2*time.Second)
	}

	tokens, closeTokens := newTokenStore(cfg, redisClient, log)

	registry := streamservers.NewRegistry(cfg.StreamServers)
	registry.Attach(streamservers.Deps{
		HTTPClient: httpx.NewClient(cfg.HTTPClient.Timeout),
		Logger:     log,
		Tokens:     tokens,
		TokenTTL:   cfg.TokenCache.TTL,
	})
	for _, name := range registry.Dangling() {
		log.Warnw("dependsOn references an unknown stream server", "name", name)
	}

	var targets []services.Target
	for _, entry := range registry.Enabled() {
		targets = append(targets, services.Target{
			Name:    entry.Name,
			Backend: entry.StreamServer,
			Scenes:  entry.Scenes(cfg.Switcher.Scenes),
		})
	}
	if len(targets) == 0 {
		log.Warn("no enabled stream servers configured")
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	monitor := services.NewMonitorService(targets, services.MonitorConfig{
		Interval: cfg.Switcher.Interval,
		// login plus one process fetch
		Timeout:  2 * cfg.HTTPClient.Timeout,
		Triggers: cfg.Switcher.Triggers,
	}, collector, log)

	wsServer := wssignal.NewWebSocketServer(monitor, collector, cfg.RateLimiting.WebSocket.MaxConcurrent, log)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger), collector),
		middleware.ErrorHandlerMiddleware(log),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	httphandlers.NewHealthHandler(checker, startTime).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	auth := middleware.TokenAuthMiddleware(cfg.Server.APIToken)
	if cfg.Server.APIToken == "" {
		log.Warn("server.api_token is empty, API is unauthenticated")
	}

	api := router.Group("/api/v1")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg), auth)
	httphandlers.NewServerHandler(registry, monitor, cfg.Switcher.Triggers, cfg.Switcher.Scenes).SetupRoutes(api)

	router.GET("/ws/decisions", auth, gin.WrapF(wsServer.HandleWebSocket))

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Switcher.Enabled {
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	} else {
		log.Info("switcher disabled, decisions are only evaluated on request")
	}

	if cfg.Events.Enabled {
		instanceID := uuid.NewString()
		bus := distributed.NewEventBus(redisClient, instanceID, cfg.Events.Channel, log)
		// one publisher per Redis, however many instances poll
		lease := leader.NewLease(redisClient, cfg.Events.Channel+":leader", instanceID, cfg.Events.LeaseTTL)
		g.Go(func() error {
			return leader.Run(gctx, lease, func(ctx context.Context) error {
				return bus.Forward(ctx, monitor)
			}, log)
		})
		log.Infow("publishing decision changes", "channel", cfg.Events.Channel)
	}

	g.Go(func() error {
		log.Infow("Starting StreamGuard server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down StreamGuard server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Error force closing server", "error", closeErr)
			}
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down tracer provider", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorw("Server failed", "error", err)
	}

	closeTokens()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Errorw("Error closing Redis client", "error", err)
		}
	}
	log.Info("StreamGuard server stopped")
}

func dialRedis(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*redis.Client, error) {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Redis.ConnectAttempts

	return tokenstore.DialRedis(ctx, tokenstore.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, retryCfg, log)
}

// newTokenStore builds the configured session cache. A nil store disables
// caching and every poll logs in again.
func newTokenStore(cfg *config.Config, client *redis.Client, log *zap.SugaredLogger) (ports.TokenStore, func()) {
	if !cfg.TokenCache.Enabled {
		return nil, func() {}
	}

	if !cfg.UsesRedis() {
		store := tokenstore.NewMemory(cfg.TokenCache.TTL)
		return store, store.Close
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.Redis.BreakerFailures
	breakerCfg.Timeout = cfg.Redis.BreakerTimeout

	return tokenstore.NewRedis(client, breakerCfg, log), func() {}
}
