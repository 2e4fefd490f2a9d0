package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/weaverhq/queue-service/config"
	"github.com/weaverhq/queue-service/internal/database"
	"github.com/weaverhq/queue-service/internal/handlers"
	"github.com/weaverhq/queue-service/internal/middleware"
	"github.com/weaverhq/queue-service/internal/sweepers"
	"github.com/weaverhq/queue-service/internal/taskqueue"
	"github.com/weaverhq/queue-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting queue service")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx := context.Background()

	telemetryCfg := telemetry.GetConfigFromEnv()
	telemetryCfg.Enabled = telemetryCfg.Enabled || cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		telemetryCfg.Endpoint = cfg.Telemetry.Endpoint
	}
	telemetryCfg.Environment = cfg.Telemetry.Environment
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	queue := taskqueue.New(database.Pool(), logger)
	if err := queue.EnsureSchema(ctx); err != nil {
		// The queue must not operate against an unverified schema.
		logger.Fatal().Err(err).Msg("Failed to initialize task queue schema")
	}

	reportLeftoverRunningTasks(ctx, queue, logger)

	taskSweeper := sweepers.NewTaskQueueSweeper(queue, logger, sweepers.Config{
		Interval:          cfg.Sweeper.Interval,
		RetentionDays:     cfg.Sweeper.RetentionDays,
		RecoverStale:      cfg.Sweeper.RecoverStale,
		StaleRunningAfter: cfg.Sweeper.StaleRunningAfter,
	})
	go taskSweeper.Start(ctx)

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers.InitTaskQueue(queue)

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware())
	internal.Use(middleware.ServiceRateLimitMiddleware(50, 100))
	internal.Use(middleware.RateLimitMiddleware())
	{
		internal.GET("/health", handlers.HealthCheck)
		internal.GET("/stats", handlers.GetQueueStats)

		tasks := internal.Group("/tasks")
		{
			tasks.POST("", handlers.EnqueueTask)
			tasks.GET("", handlers.ListPendingTasks)
			tasks.GET("/next", handlers.DequeueTasks)
			tasks.GET("/running", handlers.ListRunningTasks)
			tasks.GET("/:taskId", handlers.GetTask)
			tasks.POST("/:taskId/claim", handlers.ClaimTask)
			tasks.PUT("/:taskId/status", handlers.UpdateTaskStatus)
			tasks.POST("/:taskId/cancel", handlers.CancelTask)
		}

		maintenance := internal.Group("/maintenance")
		{
			maintenance.POST("/cleanup", handlers.CleanupTasks)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	taskSweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown telemetry")
	}

	logger.Info().Msg("Server exited")
}

// reportLeftoverRunningTasks logs tasks still marked RUNNING from a previous
// process. The claim protocol has no lease, so these are left untouched;
// recovery is the sweeper's opt-in stale pass or an explicit cancel.
func reportLeftoverRunningTasks(ctx context.Context, queue *taskqueue.Queue, logger *zerolog.Logger) {
	running, err := queue.GetRunningTasks(ctx, "")
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to scan running tasks at startup")
		return
	}
	if len(running) == 0 {
		logger.Info().Msg("No running tasks left over from previous process")
		return
	}

	for _, task := range running {
		assignee := ""
		if task.AssignedTo != nil {
			assignee = *task.AssignedTo
		}
		logger.Warn().
			Str("task_id", task.ID).
			Str("task_type", task.TaskType).
			Str("assigned_to", assignee).
			Time("updated_at", task.UpdatedAt).
			Msg("Task still running from previous process")
	}
	logger.Warn().Int("count", len(running)).Msg("Leftover running tasks detected")
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "queue-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		end := time.Now()
		latency := end.Sub(start)

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
