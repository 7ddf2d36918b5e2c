// Package saga drives a held reservation through payment to confirmation.
//
// The happy path is create → open session → provider result → confirm. Any
// failure after the hold exists cancels the reservation and settles the
// provider session: an uncaptured session is marked FAILED, a captured one
// is refunded. HTTP callers run the same steps split across Checkout and
// Complete; Execute runs them in one call through pkg/saga.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/facility-rental/internal/domain"
	"github.com/prohmpiriya/facility-rental/internal/gateway"
	"github.com/prohmpiriya/facility-rental/internal/metrics"
	"github.com/prohmpiriya/facility-rental/internal/repository"
	"github.com/prohmpiriya/facility-rental/internal/service"
	"github.com/prohmpiriya/facility-rental/pkg/logger"
	pkgredis "github.com/prohmpiriya/facility-rental/pkg/redis"
	pkgsaga "github.com/prohmpiriya/facility-rental/pkg/saga"
	"github.com/prohmpiriya/facility-rental/pkg/retry"
	"github.com/prohmpiriya/facility-rental/pkg/telemetry"
)

const (
	// PaymentSagaName is the pkg/saga definition run by Execute
	PaymentSagaName = "reservation_payment"

	StepCreateReservation = "create_reservation"
	StepOpenSession       = "open_payment_session"
	StepAwaitResult       = "await_provider_result"
	StepConfirmPayment    = "confirm_payment"

	// ReasonPaymentFailed prefixes the cancel reason of a failed payment
	ReasonPaymentFailed = "payment failed"
	// ReasonSagaCompensation is the cancel reason when Execute unwinds
	ReasonSagaCompensation = "payment saga compensation"
)

// Locker serializes payment work per reservation
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// PaymentSagaConfig holds the saga's collaborators and timings
type PaymentSagaConfig struct {
	Reservations   service.ReservationService
	Payments       repository.PaymentRepository
	Provider       gateway.PaymentProvider
	EventPublisher service.EventPublisher
	Locker         Locker
	Orchestrator   *pkgsaga.Orchestrator

	// ProviderTimeout bounds every wait on the provider result
	ProviderTimeout time.Duration
	// LockTTL bounds how long one reservation stays locked
	LockTTL time.Duration
	// LockWait is how long Complete and Fail wait for a busy reservation
	LockWait    time.Duration
	StepTimeout time.Duration
	MaxRetries  int

	// ReconcileAfter is the quiet period before a session is re-verified
	ReconcileAfter time.Duration
	// ReconcileWindow is how far back unsettled sessions are re-verified
	ReconcileWindow time.Duration
}

// Result is the outcome of a one-shot Execute
type Result struct {
	Reservation *domain.Reservation
	Session     *domain.PaymentSession
	SagaID      string
}

// PaymentSaga orchestrates checkout, capture verification and compensation
type PaymentSaga struct {
	reservations    service.ReservationService
	payments        repository.PaymentRepository
	provider        gateway.PaymentProvider
	eventPublisher  service.EventPublisher
	locker          Locker
	orchestrator    *pkgsaga.Orchestrator
	providerTimeout time.Duration
	lockTTL         time.Duration
	lockWait        time.Duration
	stepTimeout     time.Duration
	maxRetries      int
	reconcileAfter  time.Duration
	reconcileWindow time.Duration
	now             func() time.Time
}

// NewPaymentSaga creates the saga and registers its definition
func NewPaymentSaga(cfg *PaymentSagaConfig) (*PaymentSaga, error) {
	if cfg == nil || cfg.Reservations == nil || cfg.Payments == nil || cfg.Provider == nil {
		return nil, fmt.Errorf("reservations, payments and provider are required")
	}

	s := &PaymentSaga{
		reservations:    cfg.Reservations,
		payments:        cfg.Payments,
		provider:        cfg.Provider,
		eventPublisher:  cfg.EventPublisher,
		locker:          cfg.Locker,
		orchestrator:    cfg.Orchestrator,
		providerTimeout: cfg.ProviderTimeout,
		lockTTL:         cfg.LockTTL,
		lockWait:        cfg.LockWait,
		stepTimeout:     cfg.StepTimeout,
		maxRetries:      cfg.MaxRetries,
		reconcileAfter:  cfg.ReconcileAfter,
		reconcileWindow: cfg.ReconcileWindow,
		now:             time.Now,
	}
	if s.providerTimeout <= 0 {
		s.providerTimeout = 30 * time.Second
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 60 * time.Second
	}
	if s.lockWait <= 0 {
		s.lockWait = 5 * time.Second
	}
	if s.stepTimeout <= 0 {
		s.stepTimeout = 30 * time.Second
	}
	if s.reconcileAfter <= 0 {
		s.reconcileAfter = s.providerTimeout
	}
	if s.reconcileWindow <= 0 {
		s.reconcileWindow = 24 * time.Hour
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	if s.eventPublisher == nil {
		s.eventPublisher = service.NewNoOpEventPublisher()
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.orchestrator == nil {
		s.orchestrator = pkgsaga.NewOrchestrator(&pkgsaga.OrchestratorConfig{
			Logger:   logger.Get().Named("saga").KV(),
			Observer: observeStep,
		})
	}

	if err := s.orchestrator.Register(s.Definition()); err != nil {
		return nil, err
	}
	return s, nil
}

func observeStep(saga, step string, status pkgsaga.StepStatus, d time.Duration) {
	metrics.ObserveSagaStep(saga, step, string(status), d)
}

// Definition builds the reservation_payment saga
func (s *PaymentSaga) Definition() *pkgsaga.Definition {
	def := pkgsaga.NewDefinition(PaymentSagaName)
	def.WithTimeout(s.providerTimeout + 4*s.stepTimeout)

	// Step 1: hold the slots; undone by cancelling the reservation
	def.AddStep(&pkgsaga.Step{
		Name:       StepCreateReservation,
		Execute:    s.createReservationExecute,
		Compensate: s.createReservationCompensate,
		Timeout:    s.stepTimeout,
	})

	// Step 2: open the provider checkout; undone by failing or refunding the session
	def.AddStep(&pkgsaga.Step{
		Name:       StepOpenSession,
		Execute:    s.openSessionExecute,
		Compensate: s.openSessionCompensate,
		Timeout:    s.stepTimeout,
		Retries:    s.maxRetries,
	})

	// Step 3: wait for the customer; nothing to undo on its own
	def.AddStep(&pkgsaga.Step{
		Name:    StepAwaitResult,
		Execute: s.awaitResultExecute,
		Timeout: s.providerTimeout + time.Second,
	})

	// Step 4: verify the amount and confirm; a failure refunds through step 2
	def.AddStep(&pkgsaga.Step{
		Name:    StepConfirmPayment,
		Execute: s.confirmPaymentExecute,
		Timeout: s.stepTimeout,
	})

	return def
}

// Execute creates a reservation and runs it through payment in one call
func (s *PaymentSaga) Execute(ctx context.Context, userID string, items []domain.CartItem, insuranceDocRef string, customer domain.Customer) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.payment.execute")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.Int("item_count", len(items)))

	inst, err := s.orchestrator.Execute(ctx, PaymentSagaName, pkgsaga.Data{
		"user_id":           userID,
		"items":             items,
		"insurance_doc_ref": insuranceDocRef,
		"customer":          customer,
	})
	if err != nil {
		sagaErr := s.executionFailure(ctx, inst, err)
		telemetry.Fail(span, sagaErr)
		return nil, sagaErr
	}

	data := inst.GetData()
	reservation, err := s.reservations.GetReservation(ctx, data.String("reservation_id"))
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	session, err := s.payments.GetByProviderPaymentID(ctx, data.String("provider_payment_id"))
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	metrics.RecordSagaOutcome("execute", "success")
	span.SetAttributes(attribute.String("reservation_id", reservation.ID), attribute.String("saga_id", inst.ID))
	span.SetStatus(codes.Ok, "")
	return &Result{Reservation: reservation, Session: session, SagaID: inst.ID}, nil
}

// executionFailure turns an orchestrator error into a *domain.SagaError and
// raises an alert for every compensation that failed
func (s *PaymentSaga) executionFailure(ctx context.Context, inst *pkgsaga.Instance, err error) error {
	var execErr *pkgsaga.ExecutionError
	if !errors.As(err, &execErr) {
		metrics.RecordSagaOutcome("execute", "failed")
		return err
	}

	var reservationID string
	if inst != nil {
		reservationID = inst.GetData().String("reservation_id")
	}

	sagaErr := &domain.SagaError{Stage: stageOfStep(execErr.Step), ReservationID: reservationID, Err: execErr.Err}
	var inner *domain.SagaError
	if errors.As(execErr.Err, &inner) {
		sagaErr.Stage = inner.Stage
		sagaErr.Err = inner.Err
	}

	var reservation *domain.Reservation
	if reservationID != "" {
		reservation, _ = s.reservations.GetReservation(ctx, reservationID)
	}
	for _, c := range execErr.Compensations {
		s.alert(ctx, stageOfStep(c.Step), reservation, c.Err)
	}
	sagaErr.CompensationFailed = execErr.CompensationFailed()

	outcome := "failed"
	if sagaErr.CompensationFailed {
		outcome = "compensation_failed"
	}
	metrics.RecordSagaOutcome("execute", outcome)
	return sagaErr
}

func stageOfStep(step string) domain.SagaStage {
	switch step {
	case StepCreateReservation:
		return domain.StageCreate
	case StepOpenSession:
		return domain.StageCheckout
	case StepAwaitResult:
		return domain.StagePayment
	default:
		return domain.StageConfirm
	}
}

// Step 1: Create Reservation - Execute
func (s *PaymentSaga) createReservationExecute(ctx context.Context, data pkgsaga.Data) (pkgsaga.Data, error) {
	items, _ := data["items"].([]domain.CartItem)
	reservation, err := s.reservations.CreateReservation(ctx, data.String("user_id"), items, data.String("insurance_doc_ref"))
	if err != nil {
		// conflicts and validation errors do not improve on retry
		return nil, retry.Permanent(&domain.SagaError{Stage: domain.StageCreate, Err: err})
	}
	return pkgsaga.Data{"reservation_id": reservation.ID}, nil
}

// Step 1: Create Reservation - Compensate (Cancel)
func (s *PaymentSaga) createReservationCompensate(ctx context.Context, data pkgsaga.Data) error {
	_, err := s.reservations.Cancel(ctx, data.String("reservation_id"), service.ActorSystem, ReasonSagaCompensation)
	if err != nil && !errors.Is(err, domain.ErrStaleState) {
		return fmt.Errorf("failed to cancel reservation: %w", err)
	}
	return nil
}

// Step 2: Open Session - Execute
func (s *PaymentSaga) openSessionExecute(ctx context.Context, data pkgsaga.Data) (pkgsaga.Data, error) {
	reservation, err := s.reservations.GetReservation(ctx, data.String("reservation_id"))
	if err != nil {
		return nil, &domain.SagaError{Stage: domain.StageCheckout, Err: err}
	}

	customer, _ := data["customer"].(domain.Customer)
	session, err := s.openSession(ctx, reservation, customer)
	if err != nil {
		return nil, &domain.SagaError{Stage: domain.StageCheckout, ReservationID: reservation.ID, Err: err}
	}
	return pkgsaga.Data{
		"session_id":          session.ID,
		"provider_payment_id": session.ProviderPaymentID,
	}, nil
}

// Step 2: Open Session - Compensate (Fail or Refund)
func (s *PaymentSaga) openSessionCompensate(ctx context.Context, data pkgsaga.Data) error {
	session, err := s.payments.GetByProviderPaymentID(ctx, data.String("provider_payment_id"))
	if err != nil {
		return fmt.Errorf("failed to load payment session: %w", err)
	}
	reservation, err := s.reservations.GetReservation(ctx, session.ReservationID)
	if err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}
	return s.settleSession(ctx, reservation, session, "saga_compensation", ReasonSagaCompensation)
}

// Step 3: Await Provider Result - Execute
func (s *PaymentSaga) awaitResultExecute(ctx context.Context, data pkgsaga.Data) (pkgsaga.Data, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	result, err := s.provider.AwaitResult(waitCtx, data.String("provider_payment_id"))
	if err != nil {
		return nil, &domain.SagaError{Stage: domain.StagePayment, ReservationID: data.String("reservation_id"), Err: err}
	}
	if !result.Captured {
		return nil, &domain.SagaError{Stage: domain.StagePayment, ReservationID: data.String("reservation_id"), Err: notCaptured(result)}
	}
	return pkgsaga.Data{"captured_amount": result.Amount}, nil
}

// Step 4: Confirm Payment - Execute
func (s *PaymentSaga) confirmPaymentExecute(ctx context.Context, data pkgsaga.Data) (pkgsaga.Data, error) {
	session, err := s.payments.GetByProviderPaymentID(ctx, data.String("provider_payment_id"))
	if err != nil {
		return nil, &domain.SagaError{Stage: domain.StageConfirm, Err: err}
	}
	reservation, err := s.reservations.GetReservation(ctx, session.ReservationID)
	if err != nil {
		return nil, &domain.SagaError{Stage: domain.StageConfirm, Err: err}
	}

	captured, _ := data["captured_amount"].(int64)
	if err := checkAmount(reservation, session, captured); err != nil {
		return nil, retry.Permanent(&domain.SagaError{Stage: domain.StageVerify, ReservationID: reservation.ID, Err: err})
	}

	if _, err := s.confirm(ctx, reservation, session); err != nil {
		return nil, retry.Permanent(&domain.SagaError{Stage: domain.StageConfirm, ReservationID: reservation.ID, Err: err})
	}
	return nil, nil
}

// Checkout opens a provider session for a held reservation owned by userID
func (s *PaymentSaga) Checkout(ctx context.Context, userID, reservationID string, customer domain.Customer) (*domain.PaymentSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.payment.checkout")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID), attribute.String("user_id", userID))

	release, err := s.lock(ctx, reservationID)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	defer release()

	reservation, err := s.reservations.GetUserReservation(ctx, userID, reservationID)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	if err := s.checkPayable(reservation); err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	if active, err := s.payments.GetActiveByReservation(ctx, reservationID); err == nil {
		err = fmt.Errorf("%w: session %s is %s", domain.ErrCheckoutInProgress, active.ID, active.Status)
		telemetry.Fail(span, err)
		return nil, err
	} else if !errors.Is(err, domain.ErrPaymentSessionNotFound) {
		telemetry.Fail(span, err)
		return nil, err
	}

	session, err := s.openSession(ctx, reservation, customer)
	if err != nil {
		if errors.Is(err, domain.ErrCheckoutInProgress) {
			telemetry.Fail(span, err)
			return nil, err
		}
		sagaErr := s.fail(ctx, domain.StageCheckout, reservation, nil, err)
		metrics.RecordSagaOutcome("checkout", outcomeOf(sagaErr))
		telemetry.Fail(span, sagaErr)
		return nil, sagaErr
	}

	metrics.RecordSagaOutcome("checkout", "success")
	span.SetAttributes(attribute.String("session_id", session.ID), attribute.String("provider_payment_id", session.ProviderPaymentID))
	span.SetStatus(codes.Ok, "")
	return session, nil
}

// checkPayable rejects reservations that can no longer take a payment
func (s *PaymentSaga) checkPayable(r *domain.Reservation) error {
	if r.Status.IsTerminal() {
		return &domain.StaleStateError{ReservationID: r.ID, Status: r.Status}
	}
	if !r.CanConfirm() {
		return fmt.Errorf("%w: reservation is %s", domain.ErrInvalidTransition, r.Status)
	}
	if r.HoldExpiresAt != nil && !r.HoldExpiresAt.After(s.now()) {
		return fmt.Errorf("%w: hold expired at %s", domain.ErrInvalidTransition, r.HoldExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// openSession opens the provider checkout and records it. The amount is
// always the stored total, never a client-supplied value.
func (s *PaymentSaga) openSession(ctx context.Context, reservation *domain.Reservation, customer domain.Customer) (*domain.PaymentSession, error) {
	now := s.now()
	session := &domain.PaymentSession{
		ID:               uuid.New().String(),
		ReservationID:    reservation.ID,
		Provider:         s.provider.Name(),
		Status:           domain.SessionInitiated,
		Amount:           reservation.TotalAmount,
		Currency:         reservation.Currency,
		OrderDescription: reservation.OrderDescription(s.reservations.ResourceNames(ctx, reservation)),
		Customer:         customer,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	opened, err := s.provider.OpenSession(ctx, &gateway.SessionRequest{
		SessionID:     session.ID,
		ReservationID: reservation.ID,
		Amount:        session.Amount,
		Currency:      session.Currency,
		Description:   session.OrderDescription,
		Customer:      customer,
		Metadata:      map[string]string{"user_id": reservation.UserID},
	})
	if err != nil {
		return nil, err
	}
	session.ProviderPaymentID = opened.ProviderPaymentID
	session.ClientSecret = opened.ClientSecret

	if err := s.payments.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Complete verifies the provider capture and confirms the reservation.
// Only the reservation's owner or an administrator may complete it.
// Repeating it after success returns the confirmed reservation, including
// while a concurrent completion still holds the reservation.
func (s *PaymentSaga) Complete(ctx context.Context, actor, providerPaymentID string, isAdmin bool) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.payment.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("provider_payment_id", providerPaymentID),
		attribute.String("actor", actor),
		attribute.Bool("is_admin", isAdmin),
	)

	session, err := s.authorize(ctx, actor, providerPaymentID, isAdmin)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("reservation_id", session.ReservationID))

	release, err := s.lockWaiting(ctx, session.ReservationID)
	if err != nil {
		if settled, ok := s.settledResult(ctx, providerPaymentID); ok {
			span.SetStatus(codes.Ok, "")
			return settled, nil
		}
		telemetry.Fail(span, err)
		return nil, err
	}
	defer release()

	reservation, err := s.completeLocked(ctx, providerPaymentID)
	if err != nil {
		metrics.RecordSagaOutcome("complete", outcomeOf(err))
		telemetry.Fail(span, err)
		return reservation, err
	}

	span.SetStatus(codes.Ok, "")
	return reservation, nil
}

// authorize loads the session and checks that actor may act on its
// reservation before anything is locked or changed
func (s *PaymentSaga) authorize(ctx context.Context, actor, providerPaymentID string, isAdmin bool) (*domain.PaymentSession, error) {
	session, err := s.payments.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}
	if isAdmin {
		return session, nil
	}
	if _, err := s.reservations.GetUserReservation(ctx, actor, session.ReservationID); err != nil {
		return nil, err
	}
	return session, nil
}

// settledResult returns the confirmed reservation of a captured session
func (s *PaymentSaga) settledResult(ctx context.Context, providerPaymentID string) (*domain.Reservation, bool) {
	session, err := s.payments.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil || session.Status != domain.SessionCaptured {
		return nil, false
	}
	reservation, err := s.reservations.GetReservation(ctx, session.ReservationID)
	if err != nil {
		return nil, false
	}
	if reservation.Status != domain.StatusConfirmed && reservation.Status != domain.StatusCompleted {
		return nil, false
	}
	metrics.RecordSagaOutcome("complete", "idempotent")
	return reservation, true
}

func (s *PaymentSaga) completeLocked(ctx context.Context, providerPaymentID string) (*domain.Reservation, error) {
	// reload under the lock; a concurrent call may have settled it
	session, err := s.payments.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}
	reservation, err := s.reservations.GetReservation(ctx, session.ReservationID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case domain.SessionCaptured:
		if reservation.Status == domain.StatusConfirmed || reservation.Status == domain.StatusCompleted {
			metrics.RecordSagaOutcome("complete", "idempotent")
			return reservation, nil
		}
		// captured but never confirmed; only a refund is left
		return reservation, s.fail(ctx, domain.StageConfirm, reservation, session,
			&domain.StaleStateError{ReservationID: reservation.ID, Status: reservation.Status})
	case domain.SessionRefunded:
		return reservation, &domain.SagaError{Stage: domain.StagePayment, ReservationID: reservation.ID, Err: domain.ErrPaymentFailed}
	case domain.SessionFailed:
		// a capture that lands after the session failed still has to go back
		if err := s.settleSession(ctx, reservation, session, session.FailureCode, ReasonPaymentFailed); err != nil {
			s.alert(ctx, domain.StagePayment, reservation, err)
		}
		return reservation, &domain.SagaError{Stage: domain.StagePayment, ReservationID: reservation.ID, Err: domain.ErrPaymentFailed}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	result, err := s.provider.AwaitResult(waitCtx, providerPaymentID)
	cancel()
	if err != nil {
		return reservation, s.fail(ctx, domain.StagePayment, reservation, session, err)
	}
	if !result.Captured {
		return reservation, s.fail(ctx, domain.StagePayment, reservation, session, notCaptured(result))
	}

	if err := checkAmount(reservation, session, result.Amount); err != nil {
		return reservation, s.fail(ctx, domain.StageVerify, reservation, session, err)
	}

	if reservation.Status != domain.StatusPendingPayment {
		// the sweep or the user won the race
		return reservation, s.fail(ctx, domain.StageConfirm, reservation, session,
			&domain.StaleStateError{ReservationID: reservation.ID, Status: reservation.Status})
	}

	confirmed, err := s.confirm(ctx, reservation, session)
	if err != nil {
		return reservation, s.fail(ctx, domain.StageConfirm, reservation, session, err)
	}

	metrics.RecordSagaOutcome("complete", "success")
	return confirmed, nil
}

// confirm records the capture and moves the reservation to CONFIRMED
func (s *PaymentSaga) confirm(ctx context.Context, reservation *domain.Reservation, session *domain.PaymentSession) (*domain.Reservation, error) {
	capturedAt := s.now()
	if _, err := s.payments.UpdateStatus(ctx, session.ID,
		[]domain.PaymentSessionStatus{domain.SessionInitiated},
		domain.SessionCaptured,
		repository.SessionUpdate{CapturedAt: &capturedAt},
	); err != nil {
		return nil, fmt.Errorf("failed to record capture: %w", err)
	}
	return s.reservations.Confirm(ctx, reservation.ID)
}

// Fail handles a decline reported by the client. A payment the provider
// actually captured is completed instead. Only the reservation's owner or
// an administrator may report it.
func (s *PaymentSaga) Fail(ctx context.Context, actor, providerPaymentID, code, message string, isAdmin bool) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.payment.fail")
	defer span.End()

	span.SetAttributes(
		attribute.String("provider_payment_id", providerPaymentID),
		attribute.String("code", code),
		attribute.String("actor", actor),
		attribute.Bool("is_admin", isAdmin),
	)

	session, err := s.authorize(ctx, actor, providerPaymentID, isAdmin)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	release, err := s.lockWaiting(ctx, session.ReservationID)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	defer release()

	session, err = s.payments.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	if session.Status != domain.SessionInitiated {
		reservation, err := s.reservations.GetReservation(ctx, session.ReservationID)
		if err != nil {
			telemetry.Fail(span, err)
			return nil, err
		}
		return reservation, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	result, verifyErr := s.provider.VerifyCapture(verifyCtx, providerPaymentID)
	cancel()
	if verifyErr == nil && result.Captured {
		span.AddEvent("reported_failure_was_captured")
		return s.completeLocked(ctx, providerPaymentID)
	}

	reservation, err := s.reservations.GetReservation(ctx, session.ReservationID)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	if code == "" {
		code = "client_reported"
	}
	cause := &domain.PaymentProviderError{Provider: s.provider.Name(), Code: code, Err: errors.New(message)}
	sagaErr := s.fail(ctx, domain.StagePayment, reservation, session, cause)
	metrics.RecordSagaOutcome("fail", outcomeOf(sagaErr))

	cancelled, err := s.reservations.GetReservation(ctx, reservation.ID)
	if err != nil {
		return reservation, sagaErr
	}
	span.SetStatus(codes.Ok, "")
	return cancelled, sagaErr
}

// CancelReservation cancels for a user or administrator and refunds a captured payment
func (s *PaymentSaga) CancelReservation(ctx context.Context, actor, reservationID, reason string, isAdmin bool) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.payment.cancel")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("actor", actor),
		attribute.Bool("is_admin", isAdmin),
	)

	release, err := s.lock(ctx, reservationID)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}
	defer release()

	var reservation *domain.Reservation
	if isAdmin {
		reservation, err = s.reservations.GetReservation(ctx, reservationID)
	} else {
		reservation, err = s.reservations.GetUserReservation(ctx, actor, reservationID)
	}
	if err != nil {
		telemetry.Fail(span, err)
		return nil, err
	}

	cancelled, err := s.reservations.Cancel(ctx, reservation.ID, actor, reason)
	if err != nil {
		// terminal already: a no-op for the caller
		if errors.Is(err, domain.ErrStaleState) {
			span.SetAttributes(attribute.Bool("stale", true))
			return cancelled, err
		}
		telemetry.Fail(span, err)
		return nil, err
	}

	if session, err := s.payments.GetActiveByReservation(ctx, reservation.ID); err == nil {
		if err := s.settleSession(ctx, cancelled, session, "cancelled", reason); err != nil {
			s.alert(ctx, domain.StageConfirm, cancelled, err)
		}
	} else if !errors.Is(err, domain.ErrPaymentSessionNotFound) {
		s.alert(ctx, domain.StageConfirm, cancelled, err)
	}

	metrics.RecordSagaOutcome("cancel", "success")
	span.SetStatus(codes.Ok, "")
	return cancelled, nil
}

// ExpireHold releases one elapsed hold and settles its session. A
// reservation whose payment is in flight is left for the next run.
func (s *PaymentSaga) ExpireHold(ctx context.Context, reservationID string) (bool, error) {
	release, err := s.lock(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrCheckoutInProgress) {
			return false, nil
		}
		return false, err
	}
	defer release()

	reservation, expired, err := s.reservations.ExpireHold(ctx, reservationID)
	if err != nil || !expired {
		return false, err
	}

	session, err := s.payments.GetActiveByReservation(ctx, reservationID)
	if errors.Is(err, domain.ErrPaymentSessionNotFound) {
		return true, nil
	}
	if err != nil {
		s.alert(ctx, domain.StagePayment, reservation, err)
		return true, nil
	}
	if err := s.settleSession(ctx, reservation, session, "hold_expired", service.ReasonHoldExpired); err != nil {
		s.alert(ctx, domain.StagePayment, reservation, err)
	}
	return true, nil
}

// ExpireHolds releases up to limit elapsed holds
func (s *PaymentSaga) ExpireHolds(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.payment.expire_holds")
	defer span.End()

	ids, err := s.reservations.ListExpiredHolds(ctx, limit)
	if err != nil {
		telemetry.Fail(span, err)
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.ExpireHold(ctx, id)
		if err != nil {
			logger.Get().WarnContext(ctx, "failed to expire hold",
				zap.String("reservation_id", id),
				zap.Error(err),
			)
			continue
		}
		if ok {
			expired++
		}
	}

	metrics.RecordExpiration(expired)
	span.SetAttributes(attribute.Int("expired_count", expired))
	span.SetStatus(codes.Ok, "")
	return expired, nil
}

// ReconcileSessions re-verifies up to limit sessions left INITIATED or FAILED
// behind a reservation that no longer takes payment. Late captures are
// refunded and uncaptured payments are cancelled. It returns how many
// sessions changed.
func (s *PaymentSaga) ReconcileSessions(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.payment.reconcile_sessions")
	defer span.End()

	now := s.now()
	sessions, err := s.payments.ListUnsettled(ctx, now.Add(-s.reconcileWindow), now.Add(-s.reconcileAfter), limit)
	if err != nil {
		telemetry.Fail(span, err)
		return 0, err
	}

	settled := 0
	for _, session := range sessions {
		changed, err := s.reconcileSession(ctx, session)
		if err != nil {
			logger.Get().WarnContext(ctx, "failed to reconcile payment session",
				zap.String("session_id", session.ID),
				zap.String("reservation_id", session.ReservationID),
				zap.Error(err),
			)
			continue
		}
		if changed {
			settled++
		}
	}

	metrics.RecordReconciliation(settled)
	span.SetAttributes(attribute.Int("checked_count", len(sessions)), attribute.Int("settled_count", settled))
	span.SetStatus(codes.Ok, "")
	return settled, nil
}

func (s *PaymentSaga) reconcileSession(ctx context.Context, session *domain.PaymentSession) (bool, error) {
	release, err := s.lock(ctx, session.ReservationID)
	if err != nil {
		if errors.Is(err, domain.ErrCheckoutInProgress) {
			return false, nil
		}
		return false, err
	}
	defer release()

	reservation, err := s.reservations.GetReservation(ctx, session.ReservationID)
	if err != nil {
		return false, err
	}
	if reservation.Status.IsActive() {
		// a live checkout or a confirmed booking; the hold expiry owns it
		return false, nil
	}

	current, err := s.payments.GetByProviderPaymentID(ctx, session.ProviderPaymentID)
	if err != nil {
		return false, err
	}
	if current.Status != domain.SessionInitiated && current.Status != domain.SessionFailed {
		return false, nil
	}

	if err := s.settleSession(ctx, reservation, current, "reconciled", "reservation "+string(reservation.Status)); err != nil {
		s.alert(ctx, domain.StagePayment, reservation, err)
		return false, err
	}

	after, err := s.payments.GetByProviderPaymentID(ctx, session.ProviderPaymentID)
	if err != nil {
		return false, err
	}
	if after.Status == current.Status {
		// nothing to do yet; move it to the back of the queue
		_, _ = s.payments.UpdateStatus(ctx, current.ID,
			[]domain.PaymentSessionStatus{current.Status}, current.Status, repository.SessionUpdate{})
		return false, nil
	}
	return true, nil
}

// fail cancels the reservation, settles the session and reports the cause.
// Compensation errors are alerted and never replace cause.
func (s *PaymentSaga) fail(ctx context.Context, stage domain.SagaStage, reservation *domain.Reservation, session *domain.PaymentSession, cause error) error {
	ctx = context.WithoutCancel(ctx)
	sagaErr := &domain.SagaError{Stage: stage, ReservationID: reservation.ID, Err: cause}

	code := failureCode(cause)
	if reservation.Status.IsActive() {
		cancelled, err := s.reservations.Cancel(ctx, reservation.ID, service.ActorSystem, ReasonPaymentFailed+": "+code)
		switch {
		case err == nil:
			reservation = cancelled
		case errors.Is(err, domain.ErrStaleState):
		default:
			sagaErr.CompensationFailed = true
			s.alert(ctx, stage, reservation, fmt.Errorf("cancel reservation: %w", err))
		}
	}

	if session != nil {
		if err := s.settleSession(ctx, reservation, session, code, cause.Error()); err != nil {
			sagaErr.CompensationFailed = true
			s.alert(ctx, stage, reservation, err)
		}
	}

	s.publishPayment(ctx, domain.EventPaymentFailed, reservation, map[string]string{
		"stage":  string(stage),
		"code":   code,
		"reason": cause.Error(),
	})

	logger.Get().WarnContext(ctx, "payment saga failed",
		zap.String("reservation_id", reservation.ID),
		zap.String("stage", string(stage)),
		zap.String("code", code),
		zap.Error(cause),
	)
	return sagaErr
}

// settleSession ends an active session after its reservation was cancelled:
// a captured payment is refunded, an uncaptured one is cancelled at the
// provider and marked FAILED. A session the provider cannot confirm either
// way is left as it is and reported; ReconcileSessions retries it.
func (s *PaymentSaga) settleSession(ctx context.Context, reservation *domain.Reservation, session *domain.PaymentSession, code, reason string) error {
	ctx = context.WithoutCancel(ctx)

	refundAmount := int64(0)
	switch session.Status {
	case domain.SessionCaptured:
		refundAmount = session.Amount
	case domain.SessionInitiated, domain.SessionFailed:
		verifyCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
		result, err := s.provider.VerifyCapture(verifyCtx, session.ProviderPaymentID)
		cancel()
		if err != nil {
			return fmt.Errorf("verify session %s: %w", session.ID, err)
		}
		if result.Captured {
			refundAmount = result.Amount
		}
	default:
		return nil
	}

	if refundAmount == 0 {
		if session.Status == domain.SessionFailed {
			return nil
		}
		cancelCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
		err := s.provider.Cancel(cancelCtx, session.ProviderPaymentID)
		cancel()
		if err != nil {
			// a capture may have landed after the verify
			return fmt.Errorf("cancel payment %s: %w", session.ProviderPaymentID, err)
		}
		_, err = s.payments.UpdateStatus(ctx, session.ID,
			[]domain.PaymentSessionStatus{domain.SessionInitiated},
			domain.SessionFailed,
			repository.SessionUpdate{FailureCode: code, FailureReason: reason},
		)
		if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("mark session %s failed: %w", session.ID, err)
		}
		return nil
	}

	if err := s.provider.Refund(ctx, session.ProviderPaymentID, refundAmount, reason); err != nil {
		return fmt.Errorf("refund %s: %w", session.ProviderPaymentID, err)
	}
	if _, err := s.payments.UpdateStatus(ctx, session.ID,
		[]domain.PaymentSessionStatus{domain.SessionInitiated, domain.SessionCaptured, domain.SessionFailed},
		domain.SessionRefunded,
		repository.SessionUpdate{FailureCode: code, FailureReason: reason},
	); err != nil {
		return fmt.Errorf("mark session %s refunded: %w", session.ID, err)
	}

	s.publishPayment(ctx, domain.EventPaymentRefunded, reservation, map[string]string{
		"session_id":          session.ID,
		"provider_payment_id": session.ProviderPaymentID,
		"amount":              fmt.Sprintf("%d", refundAmount),
		"reason":              reason,
	})
	return nil
}

// alert reports a compensation that needs manual attention
func (s *PaymentSaga) alert(ctx context.Context, stage domain.SagaStage, reservation *domain.Reservation, err error) {
	reservationID := ""
	if reservation != nil {
		reservationID = reservation.ID
	}

	logger.Get().ErrorContext(ctx, "payment saga compensation failed",
		zap.Bool("alert", true),
		zap.String("reservation_id", reservationID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	metrics.RecordCompensationFailure(string(stage))

	if reservation != nil {
		s.publishPayment(ctx, domain.EventReservationCompensationFailed, reservation, map[string]string{
			"stage": string(stage),
			"error": err.Error(),
		})
	}
}

func (s *PaymentSaga) publishPayment(ctx context.Context, eventType domain.ReservationEventType, reservation *domain.Reservation, metadata map[string]string) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.eventPublisher.PublishPaymentEvent(pubCtx, eventType, reservation, metadata); err != nil {
		logger.Get().WarnContext(ctx, "failed to publish payment event",
			zap.String("event_type", string(eventType)),
			zap.String("reservation_id", reservation.ID),
			zap.Error(err),
		)
	}
}

// lock takes the per-reservation payment lock. A held lock means another
// checkout, completion or expiry is running for the reservation.
func (s *PaymentSaga) lock(ctx context.Context, reservationID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, "reservation:"+reservationID, s.lockTTL)
	if err != nil {
		if errors.Is(err, pkgredis.ErrLockHeld) {
			return nil, domain.ErrCheckoutInProgress
		}
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Get().WarnContext(ctx, "failed to release reservation lock",
				zap.String("reservation_id", reservationID),
				zap.Error(err),
			)
		}
	}, nil
}

// lockWaiting polls a busy reservation lock for up to lockWait
func (s *PaymentSaga) lockWaiting(ctx context.Context, reservationID string) (func(), error) {
	var release func()
	interval := s.lockWait / 20
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	err := retry.Do(ctx, &retry.Config{
		MaxRetries:      int(s.lockWait / interval),
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1,
	}, func(ctx context.Context) error {
		r, err := s.lock(ctx, reservationID)
		if err != nil {
			if errors.Is(err, domain.ErrCheckoutInProgress) {
				return err
			}
			return retry.Permanent(err)
		}
		release = r
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCheckoutInProgress) {
			return nil, domain.ErrCheckoutInProgress
		}
		return nil, err
	}
	return release, nil
}

func checkAmount(reservation *domain.Reservation, session *domain.PaymentSession, captured int64) error {
	if captured != session.Amount || captured != reservation.TotalAmount {
		return &domain.AmountMismatchError{Expected: reservation.TotalAmount, Actual: captured}
	}
	return nil
}

func notCaptured(result *gateway.CaptureResult) error {
	code := result.FailureCode
	if code == "" {
		code = result.Status
	}
	return fmt.Errorf("%w: %s %s", domain.ErrPaymentNotCaptured, code, result.FailureReason)
}

func failureCode(err error) string {
	var perr *domain.PaymentProviderError
	var stale *domain.StaleStateError
	switch {
	case errors.As(err, &perr):
		return perr.Code
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrPaymentNotCaptured):
		return "not_captured"
	case errors.As(err, &stale):
		return "reservation_" + string(stale.Status)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func outcomeOf(err error) string {
	var sagaErr *domain.SagaError
	if errors.As(err, &sagaErr) && sagaErr.CompensationFailed {
		return "compensation_failed"
	}
	return "failed"
}

// LocalLocker is an in-process Locker for a single API instance and tests
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	token uint64
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

// Acquire takes key until release or ttl, whichever comes first
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.held[key]; ok && time.Now().Before(until) {
		return nil, pkgredis.ErrLockHeld
	}
	until := time.Now().Add(ttl)
	l.held[key] = until

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
		return nil
	}, nil
}
