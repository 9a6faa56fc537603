package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/services"
	httphandlers "meetsignal/internal/handlers/http"
	"meetsignal/internal/infrastructure/middleware"
	"meetsignal/internal/infrastructure/monitoring"
	"meetsignal/internal/infrastructure/reliability"
	repositories "meetsignal/internal/infrastructure/repositories"
	signalserver "meetsignal/internal/infrastructure/signal"
	"meetsignal/internal/infrastructure/tasks"
	"meetsignal/pkg/circuitbreaker"
	"meetsignal/pkg/config"
	"meetsignal/pkg/logger"
	"meetsignal/pkg/retry"
	"meetsignal/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/meetsignal/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("No config file loaded, using defaults", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalw("Invalid configuration", "error", err)
	}

	instanceID := uuid.NewString()
	log = log.With("instance_id", instanceID)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "meetsignal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	repoFactory, err := repositories.NewRepositoryFactory(startupCtx, cfg, instanceID, log)
	cancelStartup()
	if err != nil {
		log.Fatalw("Failed to create repository factory", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	retryConfig := retry.DefaultConfig()
	directory := reliability.NewResilientRoomDirectory(
		repoFactory.CreateRoomDirectory(),
		cfg.Admission.RoomCacheTTL,
		retryConfig,
		circuitbreaker.DefaultConfig(),
		collector,
		log,
	)
	plans := reliability.NewResilientPlanResolver(
		repoFactory.CreatePlanResolver(),
		cfg.Admission.PlanCacheTTL,
		retryConfig,
		circuitbreaker.DefaultConfig(),
		collector,
		log,
	)

	busCtx, stopBus := context.WithCancel(context.Background())
	bus, err := repoFactory.CreateGroupBus(busCtx, collector)
	if err != nil {
		log.Fatalw("Failed to create group bus", "error", err)
	}

	dispatcher := tasks.NewDispatcher(tasks.Config{
		Workers:   cfg.Tasks.Workers,
		QueueSize: cfg.Tasks.QueueSize,
		Retry: retry.Config{
			Enabled:      true,
			MaxAttempts:  cfg.Tasks.MaxAttempts,
			InitialDelay: cfg.Tasks.InitialDelay,
			MaxDelay:     cfg.Tasks.MaxDelay,
			Multiplier:   2,
			Jitter:       true,
		},
		TaskTimeout: 10 * time.Second,
	}, collector, log)

	clocks := repoFactory.CreateSessionClockStore()
	assignments := repoFactory.CreateAssignmentStore()
	roster := repoFactory.CreateRoster()

	// authorization reads bypass the room cache
	verifier := services.NewModeratorVerifier(directory.Uncached(), plans)

	watchdogs := services.NewDurationWatchdogManager(services.WatchdogConfig{
		PollInterval: cfg.Watchdog.PollInterval,
		WarningLead:  cfg.Watchdog.WarningLead,
	}, bus, clocks, collector, log)

	authService := services.NewAuthService(cfg.Auth.JWTSecret)
	admissionService := services.NewAdmissionService(
		directory,
		plans,
		repoFactory.CreatePresenceCounter(),
		clocks,
		assignments,
		watchdogs,
		defaultPlan(cfg.Admission.DefaultPlan),
		collector,
		log,
	)
	approvalService := services.NewApprovalService(services.ApprovalConfig{
		RequestTTL: cfg.Approval.RequestTTL,
		PendingTTL: cfg.Approval.PendingTTL,
	}, directory, verifier, repoFactory.CreateApprovalStore(), bus, dispatcher, repoFactory.CreateAccessGrantRepository(), collector, log)
	breakoutService := services.NewBreakoutService(services.BreakoutConfig{
		MaxPerRoom:    cfg.Breakout.MaxPerRoom,
		AssignmentTTL: cfg.Breakout.AssignmentTTL,
	}, verifier, repoFactory.CreateBreakoutRepository(), assignments, repoFactory.CreateLocker(), bus, log)
	moderationService := services.NewModerationService(verifier, bus, log)

	wsServer := signalserver.NewServer(signalserver.ConfigFrom(cfg, instanceID), signalserver.Deps{
		Auth:       authService,
		Admission:  admissionService,
		Approvals:  approvalService,
		Breakouts:  breakoutService,
		Moderation: moderationService,
		Bus:        bus,
		Roster:     roster,
		Metrics:    collector,
		Logger:     log,
	})

	roomHandler := httphandlers.NewRoomHandler(admissionService, approvalService, breakoutService, moderationService, roster, log)

	health := monitoring.NewHealthChecker()
	health.AddRedisCheck(repoFactory.RedisClient(), 2*time.Second)
	health.AddCheck("repositories", repoFactory.HealthCheck, 2*time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
	)

	wsServer.Register(router)

	api := router.Group("")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	roomHandler.SetupRoutes(api, authService)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.Connections(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		if status.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting meetsignal server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down meetsignal server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// sockets first so their cleanup can still reach the stores
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error closing websocket sessions", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if cleaner, ok := roster.(interface{ CleanupInstance(context.Context) error }); ok {
		if err := cleaner.CleanupInstance(shutdownCtx); err != nil {
			log.Warnw("Failed to clean up roster entries", "error", err)
		}
	}

	watchdogs.Stop()
	approvalService.Stop()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Warnw("Task dispatcher did not drain", "error", err)
	}

	stopBus()
	if err := bus.Close(); err != nil {
		log.Errorw("Error closing group bus", "error", err)
	}
	directory.Stop()
	plans.Stop()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Error flushing traces", "error", err)
	}

	log.Info("meetsignal server stopped")
}

func defaultPlan(p config.PlanDefaults) domain.PlanLimits {
	return domain.PlanLimits{
		Tier:                 domain.PlanTier(p.Tier),
		MaxParticipants:      p.MaxParticipants,
		MaxDuration:          p.MaxDuration,
		BreakoutRoomsEnabled: p.BreakoutRoomsEnabled,
		WaitingRoomEnabled:   p.WaitingRoomEnabled,
		RecordingEnabled:     p.RecordingEnabled,
	}
}
