package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	intDatabase "pulsechat-backend/internal/database"
	callHandler "pulsechat-backend/internal/handler/http/call"
	messageHandler "pulsechat-backend/internal/handler/http/message"
	wsHandler "pulsechat-backend/internal/handler/ws"
	"pulsechat-backend/internal/middleware"
	"pulsechat-backend/internal/repository/cassandra"
	"pulsechat-backend/internal/repository/cockroach"
	"pulsechat-backend/internal/repository/memory"
	redisRepo "pulsechat-backend/internal/repository/redis"
	"pulsechat-backend/internal/service/call"
	"pulsechat-backend/internal/service/presence"
	"pulsechat-backend/internal/service/relay"
	"pulsechat-backend/internal/signaling"
	"pulsechat-backend/pkg/config"
	"pulsechat-backend/pkg/constants"
	pkgDatabase "pulsechat-backend/pkg/database"
	"pulsechat-backend/pkg/jwt"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/metrics"
)

// groupStore is what the call machines and the history handler need from a group directory
type groupStore interface {
	relay.GroupDirectory
	callHandler.GroupDirectory
}

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		logger.InitDefault()
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, 15*time.Minute)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 2. Call-log persistence, falling back to limited mode
	var (
		directStore call.DirectCallStore = memory.NewDirectCallRepository()
		groupCalls  call.GroupCallStore  = memory.NewGroupCallRepository()
		groups      groupStore           = memory.NewGroupRepository()
	)
	if cfg.Database.Enabled {
		db, err := pkgDatabase.ConnectCockroachWithRetry(ctx, cfg.Database)
		if err != nil {
			logger.Warn("Running in limited mode without call log persistence", zap.Error(err))
		} else {
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				logger.Fatal("Failed to apply database schema", zap.Error(err))
			}
			directStore = cockroach.NewDirectCallRepository(db.Pool)
			groupCalls = cockroach.NewGroupCallRepository(db.Pool)
			groups = cockroach.NewGroupRepository(db.Pool)
			logger.Info("Connected to CockroachDB", zap.String("host", cfg.Database.Host))
		}
	}
	directStore = call.NewBreakerDirectStore(directStore)
	groupCalls = call.NewBreakerGroupStore(groupCalls)

	// 3. Presence
	registry := presence.NewRegistry()
	signalRelay := relay.New(registry, groups, appMetrics)

	dispatcherOpts := []signaling.Option{
		signaling.WithMetrics(appMetrics),
		signaling.WithEndCallsOnDisconnect(cfg.WebSocket.CallEndOnDisconnect),
	}

	if cfg.Redis.Enabled {
		redisDB := intDatabase.NewRedisDB(cfg.Redis, appMetrics.Registry())
		defer redisDB.Close()
		if err := redisDB.HealthCheck(ctx); err != nil {
			logger.Warn("Redis unreachable, presence mirror starts degraded", zap.Error(err))
		}
		redisDB.StartHealthCheck(ctx, 10*time.Second)

		presenceRepo := redisRepo.NewPresenceRepository(redisDB)
		mirror := presence.NewMirror(presenceRepo)
		registry.Subscribe(mirror.Observe)
		go mirror.Run(ctx)

		dispatcherOpts = append(dispatcherOpts, signaling.WithPresenceToucher(presenceRepo))
		logger.Info("Presence mirror enabled", zap.String("redis_host", cfg.Redis.Host))
	}

	// 4. Call machines and dispatcher
	machineOpts := []call.Option{
		call.WithMetrics(appMetrics),
		call.WithStoreTimeout(constants.DefaultTimeout),
	}
	directMachine := call.NewDirectMachine(directStore, signalRelay, machineOpts...)
	groupMachine := call.NewGroupMachine(groupCalls, groups, signalRelay, machineOpts...)
	dispatcher := signaling.NewDispatcher(registry, signalRelay, directMachine, groupMachine, dispatcherOpts...)

	hub := wsHandler.NewSignalingHub(dispatcher, wsHandler.HubConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxConnections:  cfg.WebSocket.MaxConnections,
		EventsPerSecond: cfg.WebSocket.EventsPerSecond,
		EventBurst:      cfg.WebSocket.EventBurst,
	})

	// 5. Rate limiters
	globalWindow := middleware.NewFixedWindowLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	messageWindow := middleware.NewFixedWindowLimiter(cfg.MessageRateLimit.MaxRequests, cfg.MessageRateLimit.Window)
	globalWindow.StartCleanup(ctx, constants.RateLimitSweepInterval)
	messageWindow.StartCleanup(ctx, constants.RateLimitSweepInterval)

	globalLimiter := middleware.NewRateLimiter("global", globalWindow,
		middleware.UserOrIPKey("u:", "ip:"),
		middleware.WritesOnly(),
		middleware.WithRateLimitMetrics(appMetrics))
	messageLimiter := middleware.NewRateLimiter("message", messageWindow,
		middleware.UserOrIPKey("msg:", "msgip:"),
		middleware.WithRateLimitMetrics(appMetrics))

	// 6. Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName))
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))
	router.GET("/ws", hub.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	v1.Use(globalLimiter.Middleware())
	{
		callHandler.NewHandler(directStore, groupCalls, groups).RegisterRoutes(v1)

		if cfg.Cassandra.Enabled {
			cass, err := pkgDatabase.NewCassandraDB(cfg.Cassandra)
			if err != nil {
				logger.Warn("Cassandra unavailable, message endpoints disabled", zap.Error(err))
			} else {
				defer cass.Close()
				messages := cassandra.NewMessageRepository(cass.Session)
				messageHandler.NewHandler(messages, groups, signalRelay).
					RegisterRoutes(v1, messageLimiter.Middleware())
				logger.Info("Message endpoints enabled")
			}
		}
	}

	// 7. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("Signaling sockets did not close in time", zap.Error(err))
	}
	stop()

	logger.Info("Server exited")
}
