package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/di"
	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/config"
	"github.com/prohmpiriya/facility-rental/pkg/database"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	pkgredis "github.com/prohmpiriya/facility-rental/pkg/redis"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

const serviceName = "hold-sweeper"

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	level := "info"
	if cfg.App.Debug {
		level = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       level,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Hold Sweeper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry init failed, tracing disabled", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())
	metrics.Init()

	loc, err := cfg.Booking.Location()
	if err != nil {
		appLog.Fatal("Invalid booking timezone", zap.String("timezone", cfg.Booking.Timezone), zap.Error(err))
	}

	// Initialize database connection; migrations are owned by the API service
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
		appLog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	// Initialize Redis connection
	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      20,
		MinIdleConns:  2,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected")

	var eventPublisher service.EventPublisher = service.NewNoOpEventPublisher()
	if cfg.Kafka.Enabled {
		publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: serviceName,
			ClientID:    cfg.Kafka.ClientID + "-sweeper",
		})
		if err != nil {
			appLog.Warn("Kafka connection failed, using no-op publisher", zap.Error(err))
		} else {
			eventPublisher = publisher
		}
	}
	defer eventPublisher.Close()

	provider, err := di.NewPaymentProvider(&cfg.Payment)
	if err != nil {
		appLog.Fatal("Payment provider init failed", zap.Error(err))
	}

	container, err := di.NewContainer(&di.ContainerConfig{
		DB:                 db,
		Redis:              redisClient,
		EventPublisher:     eventPublisher,
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

	// Per-hold expiry tasks scheduled by the API service
	var queueServer *asynq.Server
	if cfg.Queue.Enabled {
		queueServer = asynq.NewServer(
			asynq.RedisClientOpt{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Queue.RedisDB,
			},
			asynq.Config{
				Concurrency: cfg.Queue.Concurrency,
				Queues:      map[string]int{"default": 1},
				Logger:      appLog.Zap().Sugar(),
			},
		)
		if err := queueServer.Start(di.NewTaskMux(container)); err != nil {
			appLog.Fatal("Failed to start task server", zap.Error(err))
		}
		appLog.Info("Task server started", zap.Int("concurrency", cfg.Queue.Concurrency))
	}

	// Periodic sweeps catch holds whose task was lost and end finished reservations
	if err := container.ExpiryWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start expiry worker", zap.Error(err))
	}
	go container.CompletionWorker.Start(ctx)

	appLog.Info("Hold Sweeper started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down hold sweeper...")
	if queueServer != nil {
		queueServer.Shutdown()
	}
	cancel()
	container.ExpiryWorker.Stop()

	appLog.Info("Hold Sweeper exited gracefully")
}
