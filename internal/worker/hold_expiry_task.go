package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
)

// SingleHoldExpirer releases one elapsed hold. It reports false when the
// reservation was paid, already released or busy in a payment call.
type SingleHoldExpirer interface {
	ExpireHold(ctx context.Context, reservationID string) (bool, error)
}

// HoldExpiryTaskHandler processes service.TypeHoldExpiry tasks
type HoldExpiryTaskHandler struct {
	expirer SingleHoldExpirer
	log     *logger.Logger
}

// NewHoldExpiryTaskHandler creates the asynq handler for hold expiry
func NewHoldExpiryTaskHandler(expirer SingleHoldExpirer) *HoldExpiryTaskHandler {
	return &HoldExpiryTaskHandler{
		expirer: expirer,
		log:     logger.Get().Named("hold_expiry_task"),
	}
}

// ProcessTask implements asynq.Handler
func (h *HoldExpiryTaskHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var p service.HoldExpiryPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		h.log.Error("Invalid hold expiry payload", zap.Error(err))
		return fmt.Errorf("invalid hold expiry payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.ReservationID == "" {
		return fmt.Errorf("hold expiry payload has no reservation id: %w", asynq.SkipRetry)
	}

	released, err := h.expirer.ExpireHold(ctx, p.ReservationID)
	metrics.RecordWorkerRun("hold_expiry_task", err)
	if err != nil {
		h.log.WarnContext(ctx, "Hold expiry failed, asynq will retry",
			zap.String("reservation_id", p.ReservationID),
			zap.Error(err),
		)
		return err
	}

	// not released means paid, already gone, or locked by a payment call; the sweep covers the last case
	h.log.InfoContext(ctx, "Hold expiry processed",
		zap.String("reservation_id", p.ReservationID),
		zap.Bool("released", released),
	)
	return nil
}

// NewServeMux registers every task handler of the hold sweeper
func NewServeMux(holdExpiry *HoldExpiryTaskHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(service.TypeHoldExpiry, holdExpiry)
	return mux
}
