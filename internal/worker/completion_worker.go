package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
)

// Completer completes confirmed reservations whose last item ended
type Completer interface {
	CompleteElapsed(ctx context.Context, limit int) (int, error)
}

// CompletionWorkerConfig holds configuration for the completion worker
type CompletionWorkerConfig struct {
	// Interval is the time between passes (default: 5 minutes)
	Interval time.Duration
	// BatchSize caps the reservations completed per pass (default: 200)
	BatchSize int
}

// CompletionWorker moves ended CONFIRMED reservations to COMPLETED
type CompletionWorker struct {
	config    *CompletionWorkerConfig
	completer Completer
	log       *logger.Logger

	mu             sync.Mutex
	totalCompleted int64
	lastRunTime    time.Time
}

// NewCompletionWorker creates a new completion worker
func NewCompletionWorker(cfg *CompletionWorkerConfig, completer Completer, log *logger.Logger) *CompletionWorker {
	if cfg == nil {
		cfg = &CompletionWorkerConfig{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if log == nil {
		log = logger.Get()
	}

	return &CompletionWorker{
		config:    cfg,
		completer: completer,
		log:       log.Named("completion_worker"),
	}
}

// Start runs passes until ctx is cancelled
func (w *CompletionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.log.Info("Completion worker started", zap.Duration("interval", w.config.Interval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Completion worker stopping...")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce completes one batch and returns how many reservations moved.
// A full batch is followed by another pass right away.
func (w *CompletionWorker) RunOnce(ctx context.Context) int {
	total := 0
	for {
		n, err := w.completer.CompleteElapsed(ctx, w.config.BatchSize)
		metrics.RecordWorkerRun("completion", err)
		total += n
		if err != nil {
			w.log.Error("Failed to complete elapsed reservations", zap.Error(err))
			break
		}
		if n < w.config.BatchSize || ctx.Err() != nil {
			break
		}
	}

	w.mu.Lock()
	w.totalCompleted += int64(total)
	w.lastRunTime = time.Now()
	w.mu.Unlock()

	if total > 0 {
		w.log.Info("Completed elapsed reservations", zap.Int("count", total))
	}
	return total
}

// TotalCompleted returns the number of reservations completed since start
func (w *CompletionWorker) TotalCompleted() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalCompleted
}
