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
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/di"
	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/migrations"
	"github.com/prohmpiriya/facility-rental/pkg/config"
	"github.com/prohmpiriya/facility-rental/pkg/database"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
	pkgredis "github.com/prohmpiriya/facility-rental/pkg/redis"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

const serviceName = "reservation-service"

func main() {
	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       logLevel(cfg),
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Service...", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	// Initialize tracing
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry init failed, tracing disabled", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	loc, err := cfg.Booking.Location()
	if err != nil {
		appLog.Fatal("Invalid booking timezone", zap.String("timezone", cfg.Booking.Timezone), zap.Error(err))
	}

	// Initialize database connection
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:             cfg.Database.Host,
		Port:             cfg.Database.Port,
		User:             cfg.Database.User,
		Password:         cfg.Database.Password,
		Database:         cfg.Database.DBName,
		SSLMode:          cfg.Database.SSLMode,
		MaxConns:         int32(cfg.Database.MaxConns),
		MinConns:         int32(cfg.Database.MinConns),
		MaxConnLifetime:  cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:  cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:   cfg.Database.ConnectTimeout,
		ApplicationName:  serviceName,
		StatementTimeout: cfg.Database.StatementTimeout,
		MaxRetries:       cfg.Database.ConnectRetries,
		RetryInterval:    cfg.Database.RetryInterval,
		TxRetries:        cfg.Database.TxRetries,
		EnableTracing:    cfg.OTel.Enabled,
	})
	if err != nil {
		appLog.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
			appLog.Fatal("Database migration failed", zap.Error(err))
		}
		appLog.Info("Database migrated")
	}

	// Initialize Redis connection
	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
	})
	if err != nil {
		appLog.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected")

	// Initialize Kafka event publisher
	eventPublisher := newEventPublisher(ctx, cfg, appLog)
	defer eventPublisher.Close()

	// Hold expiry tasks are scheduled on asynq; the periodic sweep is the fallback
	var holdScheduler service.HoldScheduler = service.NoOpHoldScheduler{}
	if cfg.Queue.Enabled {
		queueClient := asynq.NewClient(queueRedisOpt(cfg))
		defer queueClient.Close()
		holdScheduler = service.NewAsynqHoldScheduler(queueClient)
		appLog.Info("Hold expiry queue enabled", zap.Int("redis_db", cfg.Queue.RedisDB))
	}

	provider, err := di.NewPaymentProvider(&cfg.Payment)
	if err != nil {
		appLog.Fatal("Payment provider init failed", zap.Error(err))
	}
	appLog.Info("Payment provider ready", zap.String("provider", provider.Name()))

	// Build dependency injection container
	container, err := di.NewContainer(&di.ContainerConfig{
		DB:                 db,
		Redis:              redisClient,
		EventPublisher:     eventPublisher,
		HoldScheduler:      holdScheduler,
		Provider:           provider,
		Locker:             pkgredis.NewLocker(redisClient.Client(), "facility:lock:"),
		Location:           loc,
		SlotMinutes:        cfg.Booking.SlotMinutes,
		DefaultOpen:        cfg.Booking.DefaultOpen,
		DefaultClose:       cfg.Booking.DefaultClose,
		HoldWindow:         cfg.Booking.HoldWindow,
		Currency:           cfg.Booking.Currency,
		MaxCartItems:       cfg.Booking.MaxCartItems,
		BookedCacheTTL:     cfg.Booking.BookedCacheTTL,
		ProviderTimeout:    cfg.Payment.ProviderTimeout,
		LockTTL:            cfg.Payment.LockTTL,
		LockWait:           cfg.Payment.LockWait,
		ReconcileWindow:    cfg.Payment.ReconcileWindow,
		SweepInterval:      cfg.Booking.SweepInterval,
		SweepBatchSize:     cfg.Booking.SweepBatchSize,
		CompletionInterval: cfg.Booking.CompletionInterval,
	})
	if err != nil {
		appLog.Fatal("Container init failed", zap.Error(err))
	}

	// Setup Gin
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(serviceName))
	router.Use(middleware.RequestLogger(metrics.ObserveRequest))

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// API routes
	v1 := router.Group("/api/v1")
	v1.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.App.Version,
			"service": serviceName,
		})
	})
	container.RegisterRoutes(v1, &di.RouteConfig{
		Auth: middleware.RequireAuth(&middleware.AuthConfig{
			Secret: cfg.JWT.Secret,
			Issuer: cfg.JWT.Issuer,
		}),
		Idempotency: middleware.Idempotency(&middleware.IdempotencyConfig{
			Redis:         redisClient.Client(),
			TTL:           24 * time.Hour,
			ProcessingTTL: cfg.Payment.ProviderTimeout + 10*time.Second,
		}),
	})

	// In-process sweeper for single-node deployments without cmd/hold-sweeper
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if cfg.Booking.EnableSweeper {
		if err := container.ExpiryWorker.Start(workerCtx); err != nil {
			appLog.Fatal("Expiry worker start failed", zap.Error(err))
		}
		go container.CompletionWorker.Start(workerCtx)
		appLog.Info("In-process sweeper started",
			zap.Duration("sweep_interval", cfg.Booking.SweepInterval),
			zap.Duration("completion_interval", cfg.Booking.CompletionInterval),
		)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		appLog.Info("Reservation Service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	stopWorkers()
	if cfg.Booking.EnableSweeper {
		container.ExpiryWorker.Stop()
	}

	appLog.Info("Server exited gracefully")
}

func logLevel(cfg *config.Config) string {
	if cfg.App.Debug {
		return "debug"
	}
	return "info"
}

func queueRedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Queue.RedisDB,
	}
}

func newEventPublisher(ctx context.Context, cfg *config.Config, appLog *logger.Logger) service.EventPublisher {
	if !cfg.Kafka.Enabled {
		appLog.Info("Kafka disabled, using no-op publisher")
		return service.NewNoOpEventPublisher()
	}
	publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		ServiceName: serviceName,
		ClientID:    cfg.Kafka.ClientID,
	})
	if err != nil {
		appLog.Warn("Kafka connection failed, using no-op publisher", zap.Error(err))
		return service.NewNoOpEventPublisher()
	}
	appLog.Info("Kafka event publisher connected", zap.String("topic", cfg.Kafka.Topic))
	return publisher
}
