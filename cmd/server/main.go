package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/client"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/handler"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/middleware"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/realtime"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/repository"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/scheduler"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Runtime-tunable engine configuration
	configManager := config.NewManager(cfg.Engine, logger)
	if report := configManager.ValidateConfig(); !report.Valid {
		logger.Fatal("Invalid engine configuration", zap.Strings("errors", report.Errors))
	}

	// Connect to database
	db, err := connectToDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis client (if enabled)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// Test Redis connection
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			logger.Warn("Failed to connect to Redis, running without unread-count cache", zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Connected to Redis", zap.String("address", cfg.Redis.URL))
		}
	}

	// Initialize the realtime publisher (Kafka)
	var publisher service.RealtimePublisher
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := realtime.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.RealtimeTopic, cfg.Kafka.ClientID, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info("Initialized realtime publisher",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.RealtimeTopic))
	} else {
		publisher = realtime.NopPublisher{}
		logger.Warn("Kafka disabled, realtime events will be dropped")
	}

	// Create repositories and clients
	messageRepo := repository.NewMessageRepository(db, logger)
	userClient := client.NewUserClient(cfg.Identity.URL, cfg.Identity.ServiceKey, logger)

	var mailer service.Mailer
	if cfg.Email.Enabled {
		mailer = client.NewEmailClient(
			cfg.Email.Host,
			cfg.Email.Port,
			cfg.Email.Username,
			cfg.Email.Password,
			cfg.Email.From,
			logger,
		)
	}

	// Create services
	messageService := service.NewMessageService(messageRepo, publisher, redisClient, cfg.Engine.UnreadCacheTTL, logger)
	cleanupService := service.NewCleanupService(messageRepo, configManager, logger)
	recoveryService := service.NewRecoveryService(configManager, logger)
	deliveryService := service.NewDeliveryService(
		messageService,
		messageRepo,
		publisher,
		mailer,
		userClient,
		recoveryService,
		configManager,
		logger,
	)

	// Start the periodic jobs
	jobScheduler := scheduler.NewScheduler(cfg.Scheduler, cleanupService, messageRepo, logger)
	jobScheduler.Start()
	defer jobScheduler.Stop()

	// Create HTTP server
	router := setupRouter(messageService, deliveryService, cleanupService, recoveryService, jobScheduler, configManager, cfg.Server.ServiceKey, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Create logger config
	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.DBName,
		dbConfig.SSLMode,
	)

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

func setupRouter(
	messageService *service.MessageService,
	deliveryService *service.DeliveryService,
	cleanupService *service.CleanupService,
	recoveryService *service.RecoveryService,
	jobScheduler *scheduler.Scheduler,
	configManager *config.Manager,
	serviceKey string,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"scheduler": jobScheduler.GetStatus(),
		})
	})

	messageHandler := handler.NewMessageHandler(messageService, deliveryService, logger)
	adminHandler := handler.NewAdminHandler(cleanupService, recoveryService, jobScheduler, configManager, logger)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages", messageHandler.Deliver)
		v1.GET("/messages/:id/state", messageHandler.GetRecipientState)

		v1.GET("/system-messages", messageHandler.GetSystemMessages)
		v1.PATCH("/system-messages/:id/read", messageHandler.MarkRead)
		v1.DELETE("/system-messages/:id", messageHandler.DeleteFromSystem)

		v1.GET("/notifications", messageHandler.GetBellNotifications)
		v1.GET("/notifications/unread-counts", messageHandler.GetUnreadCounts)
		v1.PATCH("/notifications/:id/read", messageHandler.MarkRead)
		v1.DELETE("/notifications/:id", messageHandler.RemoveFromBell)
	}

	// Internal maintenance routes, service-to-service only
	internal := router.Group("/internal")
	internal.Use(middleware.ServiceKey(serviceKey, logger))
	{
		internal.POST("/cleanup", adminHandler.TriggerCleanup)
		internal.GET("/scheduler/status", adminHandler.SchedulerStatus)
		internal.GET("/recovery/stats", adminHandler.RecoveryStats)
		internal.POST("/recovery/reset", adminHandler.ResetRecovery)
		internal.GET("/config", adminHandler.GetConfig)
		internal.PATCH("/config", adminHandler.UpdateConfig)
		internal.GET("/config/validate", adminHandler.ValidateConfig)
		internal.GET("/config/history", adminHandler.ConfigHistory)
	}

	return router
}
