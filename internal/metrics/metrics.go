package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reservation counters
	ReservationsCreated    prometheus.Counter
	ReservationsConflicted prometheus.Counter
	ReservationsConfirmed  prometheus.Counter
	ReservationsCancelled  *prometheus.CounterVec
	ReservationsCompleted  prometheus.Counter
	HoldsExpired           prometheus.Counter
	SessionsReconciled     prometheus.Counter

	// Saga metrics
	SagaStepDuration           *prometheus.HistogramVec
	SagaOutcomes               *prometheus.CounterVec
	SagaCompensationFailures   *prometheus.CounterVec
	PaymentProviderCallLatency *prometheus.HistogramVec

	// HTTP
	RequestDuration *prometheus.HistogramVec

	// Worker runs
	WorkerRuns *prometheus.CounterVec

	initOnce sync.Once
)

// Init registers all metrics with the default registry. It is safe to call more than once.
func Init() {
	initOnce.Do(func() {
		InitWith(prometheus.DefaultRegisterer)
	})
}

// InitWith registers all metrics with reg
func InitWith(reg prometheus.Registerer) {
	factory := promauto.With(reg)

	ReservationsCreated = factory.NewCounter(prometheus.CounterOpts{
		Name: "facility_reservations_created_total",
		Help: "Total number of reservations held",
	})
	ReservationsConflicted = factory.NewCounter(prometheus.CounterOpts{
		Name: "facility_reservations_conflicted_total",
		Help: "Total number of reservation attempts rejected by a slot conflict",
	})
	ReservationsConfirmed = factory.NewCounter(prometheus.CounterOpts{
		Name: "facility_reservations_confirmed_total",
		Help: "Total number of reservations confirmed by payment",
	})
	ReservationsCancelled = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_reservations_cancelled_total",
		Help: "Total number of cancelled reservations by actor kind",
	}, []string{"actor"})
	ReservationsCompleted = factory.NewCounter(prometheus.CounterOpts{
		Name: "facility_reservations_completed_total",
		Help: "Total number of reservations marked completed",
	})
	HoldsExpired = factory.NewCounter(prometheus.CounterOpts{
		Name: "facility_holds_expired_total",
		Help: "Total number of unpaid holds released by the sweep",
	})
	SessionsReconciled = factory.NewCounter(prometheus.CounterOpts{
		Name: "facility_payment_sessions_reconciled_total",
		Help: "Total number of stale payment sessions refunded or cancelled by the sweep",
	})

	SagaStepDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facility_saga_step_duration_seconds",
		Help:    "Duration of saga steps and compensations",
		Buckets: prometheus.DefBuckets,
	}, []string{"saga", "step", "status"})
	SagaOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_saga_outcomes_total",
		Help: "Payment saga results by stage",
	}, []string{"operation", "outcome"})
	SagaCompensationFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_saga_compensation_failures_total",
		Help: "Compensations that returned an error and need manual attention",
	}, []string{"stage"})
	PaymentProviderCallLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facility_payment_provider_call_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "call", "result"})

	RequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facility_http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	WorkerRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_worker_runs_total",
		Help: "Background worker iterations by result",
	}, []string{"worker", "result"})
}

// RecordReservationCreated counts a held reservation
func RecordReservationCreated() {
	if ReservationsCreated != nil {
		ReservationsCreated.Inc()
	}
}

// RecordConflict counts a rejected create
func RecordConflict() {
	if ReservationsConflicted != nil {
		ReservationsConflicted.Inc()
	}
}

// RecordConfirmation counts a confirmed reservation
func RecordConfirmation() {
	if ReservationsConfirmed != nil {
		ReservationsConfirmed.Inc()
	}
}

// RecordCancellation counts a cancellation; actor is user, admin or system
func RecordCancellation(actor string) {
	if ReservationsCancelled != nil {
		ReservationsCancelled.WithLabelValues(actor).Inc()
	}
}

// RecordCompletion counts completed reservations
func RecordCompletion(count int) {
	if ReservationsCompleted != nil && count > 0 {
		ReservationsCompleted.Add(float64(count))
	}
}

// RecordExpiration counts released holds
func RecordExpiration(count int) {
	if HoldsExpired != nil && count > 0 {
		HoldsExpired.Add(float64(count))
	}
}

// RecordReconciliation counts sessions settled by the sweep
func RecordReconciliation(count int) {
	if SessionsReconciled != nil && count > 0 {
		SessionsReconciled.Add(float64(count))
	}
}

// ObserveSagaStep matches saga.StepObserver
func ObserveSagaStep(saga, step, status string, d time.Duration) {
	if SagaStepDuration != nil {
		SagaStepDuration.WithLabelValues(saga, step, status).Observe(d.Seconds())
	}
}

// RecordSagaOutcome counts a saga operation result
func RecordSagaOutcome(operation, outcome string) {
	if SagaOutcomes != nil {
		SagaOutcomes.WithLabelValues(operation, outcome).Inc()
	}
}

// RecordCompensationFailure counts a failed compensation at stage
func RecordCompensationFailure(stage string) {
	if SagaCompensationFailures != nil {
		SagaCompensationFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveProviderCall records the latency of a provider call
func ObserveProviderCall(provider, call string, err error, d time.Duration) {
	if PaymentProviderCallLatency == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	PaymentProviderCallLatency.WithLabelValues(provider, call, result).Observe(d.Seconds())
}

// ObserveRequest records one HTTP request; it matches middleware.DurationObserver
func ObserveRequest(method, route string, status int, d time.Duration) {
	if RequestDuration != nil {
		RequestDuration.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
	}
}

// RecordWorkerRun counts one worker iteration
func RecordWorkerRun(worker string, err error) {
	if WorkerRuns == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	WorkerRuns.WithLabelValues(worker, result).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
