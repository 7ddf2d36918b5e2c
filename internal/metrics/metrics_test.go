package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	InitWith(prometheus.NewRegistry())

	RecordReservationCreated()
	RecordConflict()
	RecordConflict()
	RecordCancellation("system")
	RecordExpiration(3)
	RecordExpiration(0)
	RecordReconciliation(2)
	RecordCompensationFailure("VERIFY")
	ObserveSagaStep("reservation_payment", "create_reservation", "completed", 10*time.Millisecond)
	ObserveProviderCall("mock", "verify", errors.New("timeout"), time.Second)
	ObserveRequest("POST", "/api/v1/reservations", 409, 5*time.Millisecond)
	RecordWorkerRun("hold_expiry", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(ReservationsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(ReservationsConflicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(ReservationsCancelled.WithLabelValues("system")))
	assert.Equal(t, 3.0, testutil.ToFloat64(HoldsExpired))
	assert.Equal(t, 2.0, testutil.ToFloat64(SessionsReconciled))
	assert.Equal(t, 1.0, testutil.ToFloat64(SagaCompensationFailures.WithLabelValues("VERIFY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkerRuns.WithLabelValues("hold_expiry", "ok")))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 302: "3xx", 404: "4xx", 502: "5xx"}
	for status, want := range tests {
		assert.Equal(t, want, statusClass(status))
	}
}
