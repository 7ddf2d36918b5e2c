package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
)

// HoldExpirer releases unpaid holds whose window elapsed
type HoldExpirer interface {
	ExpireHolds(ctx context.Context, limit int) (int, error)
}

// SessionReconciler settles payment sessions left behind by failed
// compensations. An expirer that also implements it is reconciled after
// every scan.
type SessionReconciler interface {
	ReconcileSessions(ctx context.Context, limit int) (int, error)
}

// ExpiryWorkerConfig contains configuration for the expiry worker
type ExpiryWorkerConfig struct {
	// ScanInterval is the interval between scans for elapsed holds
	ScanInterval time.Duration
	// BatchSize is the number of holds released per scan
	BatchSize int
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
	}
}

// ExpiryWorker periodically releases elapsed PENDING_PAYMENT holds. It backs up
// the per-reservation asynq task, so a lost task only delays the release.
// After each scan it reconciles stale payment sessions when it can.
type ExpiryWorker struct {
	expirer    HoldExpirer
	reconciler SessionReconciler
	config     *ExpiryWorkerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalExpired     int64
	totalReconciled  int64
	totalErrors      int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(expirer HoldExpirer, config *ExpiryWorkerConfig) *ExpiryWorker {
	if config == nil {
		config = DefaultExpiryWorkerConfig()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultExpiryWorkerConfig().ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultExpiryWorkerConfig().BatchSize
	}

	reconciler, _ := expirer.(SessionReconciler)

	return &ExpiryWorker{
		expirer:    expirer,
		reconciler: reconciler,
		config:     config,
		log:        logger.Get().Named("expiry_worker"),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the expiry worker
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry worker",
		zap.Duration("interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.scan(ctx)

	return nil
}

// Stop stops the expiry worker and waits for the current scan
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry worker stopped")
}

func (w *ExpiryWorker) scan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce releases one batch of elapsed holds
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	expired, err := w.expirer.ExpireHolds(ctx, w.config.BatchSize)
	metrics.RecordWorkerRun("hold_expiry", err)

	w.mu.Lock()
	w.lastScanTime = time.Now()
	w.lastExpiredCount = expired
	w.totalExpired += int64(expired)
	if err != nil {
		w.totalErrors++
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("Failed to release expired holds", zap.Int("released", expired), zap.Error(err))
	} else if expired > 0 {
		w.log.Info("Released expired holds", zap.Int("released", expired))
	}

	if w.reconciler != nil {
		w.reconcile(ctx)
	}
}

func (w *ExpiryWorker) reconcile(ctx context.Context) {
	settled, err := w.reconciler.ReconcileSessions(ctx, w.config.BatchSize)
	metrics.RecordWorkerRun("session_reconcile", err)

	w.mu.Lock()
	w.totalReconciled += int64(settled)
	if err != nil {
		w.totalErrors++
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("Failed to reconcile payment sessions", zap.Error(err))
		return
	}
	if settled > 0 {
		w.log.Info("Reconciled payment sessions", zap.Int("settled", settled))
	}
}

// GetStats returns worker statistics
func (w *ExpiryWorker) GetStats() *ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpiryWorkerStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired,
		TotalReconciled:  w.totalReconciled,
		TotalErrors:      w.totalErrors,
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpiryWorkerStats contains worker statistics
type ExpiryWorkerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	TotalReconciled  int64     `json:"total_reconciled"`
	TotalErrors      int64     `json:"total_errors"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
