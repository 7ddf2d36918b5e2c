package di

import (
	"fmt"
	"time"

	"github.com/prohmpiriya/facility-rental/internal/cache"
	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/gateway"
	"github.com/prohmpiriya/facility-rental/internal/handler"
	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/internal/repository"
	"github.com/prohmpiriya/facility-rental/internal/saga"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/internal/worker"
	"github.com/prohmpiriya/facility-rental/pkg/database"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	"github.com/prohmpiriya/facility-rental/pkg/redis"
	pkgsaga "github.com/prohmpiriya/facility-rental/pkg/saga"
)

// Container holds all dependencies for the reservation service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	ResourceRepo    repository.ResourceRepository
	ScheduleRepo    repository.ScheduleRepository
	ReservationRepo repository.ReservationRepository
	PaymentRepo     repository.PaymentRepository

	// Collaborators
	EventPublisher service.EventPublisher
	HoldScheduler  service.HoldScheduler
	BookedCache    cache.BookedIntervalCache
	Provider       gateway.PaymentProvider

	// Services
	CatalogService      service.CatalogService
	AvailabilityService service.AvailabilityService
	ReservationService  service.ReservationService
	PaymentSaga         *saga.PaymentSaga

	// Handlers
	HealthHandler       *handler.HealthHandler
	AvailabilityHandler *handler.AvailabilityHandler
	ReservationHandler  *handler.ReservationHandler
	PaymentHandler      *handler.PaymentHandler
	AdminHandler        *handler.AdminHandler

	// Workers
	ExpiryWorker      *worker.ExpiryWorker
	CompletionWorker  *worker.CompletionWorker
	HoldExpiryHandler *worker.HoldExpiryTaskHandler
}

// ContainerConfig contains configuration for building the container.
// Without a DB the in-memory repositories are used.
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *redis.Client
	EventPublisher service.EventPublisher
	HoldScheduler  service.HoldScheduler
	Provider       gateway.PaymentProvider
	// Locker serializes payment work per reservation; nil means process-local
	Locker saga.Locker

	Location       *time.Location
	SlotMinutes    int
	DefaultOpen    string
	DefaultClose   string
	HoldWindow     time.Duration
	Currency       string
	MaxCartItems   int
	BookedCacheTTL time.Duration

	ProviderTimeout time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	ReconcileWindow time.Duration

	SweepInterval      time.Duration
	SweepBatchSize     int
	CompletionInterval time.Duration
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("container config is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("payment provider is required")
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		EventPublisher: cfg.EventPublisher,
		HoldScheduler:  cfg.HoldScheduler,
		Provider:       cfg.Provider,
	}
	if c.EventPublisher == nil {
		c.EventPublisher = service.NewNoOpEventPublisher()
	}
	if c.HoldScheduler == nil {
		c.HoldScheduler = service.NoOpHoldScheduler{}
	}

	hours, err := defaultHours(cfg.DefaultOpen, cfg.DefaultClose)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	if cfg.DB != nil {
		c.ResourceRepo = repository.NewPostgresResourceRepository(cfg.DB, hours)
		c.ScheduleRepo = repository.NewPostgresScheduleRepository(cfg.DB, loc)
		c.ReservationRepo = repository.NewPostgresReservationRepository(cfg.DB)
		c.PaymentRepo = repository.NewPostgresPaymentRepository(cfg.DB)
	} else {
		c.ResourceRepo = repository.NewMemoryResourceRepository(hours)
		c.ScheduleRepo = repository.NewMemoryScheduleRepository(loc)
		c.ReservationRepo = repository.NewMemoryReservationRepository()
		c.PaymentRepo = repository.NewMemoryPaymentRepository()
	}

	if cfg.Redis != nil {
		c.BookedCache = cache.NewRedisBookedIntervalCache(cfg.Redis.Client(), cfg.BookedCacheTTL, loc)
	} else {
		c.BookedCache = cache.NewNoOpBookedIntervalCache()
	}

	// Initialize services
	c.CatalogService = service.NewCatalogService(c.ResourceRepo, c.ScheduleRepo, loc)
	c.AvailabilityService = service.NewAvailabilityService(
		c.ResourceRepo,
		c.ScheduleRepo,
		c.ReservationRepo,
		c.BookedCache,
		&service.AvailabilityServiceConfig{
			Location:     loc,
			SlotMinutes:  cfg.SlotMinutes,
			DefaultHours: hours,
		},
	)
	c.ReservationService = service.NewReservationService(
		c.ResourceRepo,
		c.ReservationRepo,
		c.AvailabilityService,
		c.EventPublisher,
		c.HoldScheduler,
		c.BookedCache,
		&service.ReservationServiceConfig{
			HoldWindow:   cfg.HoldWindow,
			Currency:     cfg.Currency,
			MaxCartItems: cfg.MaxCartItems,
			Location:     loc,
		},
	)

	// Saga instances are persisted next to the reservations when a database is configured
	var orchestrator *pkgsaga.Orchestrator
	if cfg.DB != nil {
		orchestrator = pkgsaga.NewOrchestrator(&pkgsaga.OrchestratorConfig{
			Store:    pkgsaga.NewPostgresStore(cfg.DB.Pool()),
			Logger:   logger.Get().Named("saga").KV(),
			Observer: func(name, step string, status pkgsaga.StepStatus, d time.Duration) {
				metrics.ObserveSagaStep(name, step, string(status), d)
			},
		})
	}

	c.PaymentSaga, err = saga.NewPaymentSaga(&saga.PaymentSagaConfig{
		Reservations:    c.ReservationService,
		Payments:        c.PaymentRepo,
		Provider:        c.Provider,
		EventPublisher:  c.EventPublisher,
		Locker:          cfg.Locker,
		Orchestrator:    orchestrator,
		ProviderTimeout: cfg.ProviderTimeout,
		LockTTL:         cfg.LockTTL,
		LockWait:        cfg.LockWait,
		ReconcileWindow: cfg.ReconcileWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build payment saga: %w", err)
	}

	// Initialize handlers
	checks := map[string]handler.HealthChecker{}
	if cfg.DB != nil {
		checks["postgres"] = cfg.DB
	}
	if cfg.Redis != nil {
		checks["redis"] = cfg.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.AvailabilityHandler = handler.NewAvailabilityHandler(c.AvailabilityService, c.CatalogService, loc)
	c.ReservationHandler = handler.NewReservationHandler(c.ReservationService, c.PaymentSaga)
	c.PaymentHandler = handler.NewPaymentHandler(c.PaymentSaga)
	c.AdminHandler = handler.NewAdminHandler(&handler.AdminHandlerConfig{
		Reservations: c.ReservationService,
		Payments:     c.PaymentSaga,
		Catalog:      c.CatalogService,
		Availability: c.AvailabilityService,
		Location:     loc,
	})

	// Initialize workers; expiry goes through the saga so captured sessions are settled
	c.ExpiryWorker = worker.NewExpiryWorker(c.PaymentSaga, &worker.ExpiryWorkerConfig{
		ScanInterval: cfg.SweepInterval,
		BatchSize:    cfg.SweepBatchSize,
	})
	c.CompletionWorker = worker.NewCompletionWorker(&worker.CompletionWorkerConfig{
		Interval:  cfg.CompletionInterval,
		BatchSize: cfg.SweepBatchSize,
	}, c.ReservationService, nil)
	c.HoldExpiryHandler = worker.NewHoldExpiryTaskHandler(c.PaymentSaga)

	return c, nil
}

func defaultHours(openAt, closeAt string) (*domain.OperatingHours, error) {
	hours := domain.DefaultOperatingHours("")
	if openAt != "" {
		m, err := domain.ParseClock(openAt)
		if err != nil {
			return nil, fmt.Errorf("invalid default open time %q: %w", openAt, err)
		}
		hours.OpenMinute = m
	}
	if closeAt != "" {
		m, err := domain.ParseClock(closeAt)
		if err != nil {
			return nil, fmt.Errorf("invalid default close time %q: %w", closeAt, err)
		}
		hours.CloseMinute = m
	}
	if hours.OpenMinute >= hours.CloseMinute {
		return nil, fmt.Errorf("default open time %s must be before close time %s", openAt, closeAt)
	}
	return hours, nil
}
