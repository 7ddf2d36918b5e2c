package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seoul = time.FixedZone("KST", 9*60*60)

func at(day, hh, mm int) time.Time {
	return time.Date(2025, time.March, day, hh, mm, 0, 0, seoul)
}

func TestInterval_Overlaps(t *testing.T) {
	base := Interval{Start: at(3, 10, 0), End: at(3, 11, 0)}

	tests := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"identical", base, true},
		{"partial overlap", Interval{Start: at(3, 10, 30), End: at(3, 11, 30)}, true},
		{"contained", Interval{Start: at(3, 10, 15), End: at(3, 10, 45)}, true},
		{"touching end is free", Interval{Start: at(3, 11, 0), End: at(3, 12, 0)}, false},
		{"touching start is free", Interval{Start: at(3, 9, 0), End: at(3, 10, 0)}, false},
		{"disjoint", Interval{Start: at(3, 14, 0), End: at(3, 15, 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(base))
		})
	}
}

func TestCoveredByUnion(t *testing.T) {
	target := Interval{Start: at(3, 9, 0), End: at(3, 18, 0)}

	assert.True(t, CoveredByUnion(target, []Interval{
		{Start: at(3, 12, 0), End: at(3, 19, 0)},
		{Start: at(3, 8, 0), End: at(3, 12, 0)},
	}))
	assert.False(t, CoveredByUnion(target, []Interval{
		{Start: at(3, 8, 0), End: at(3, 12, 0)},
		{Start: at(3, 12, 30), End: at(3, 19, 0)},
	}))
	assert.False(t, CoveredByUnion(target, nil))
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("all")
	require.NoError(t, err)
	assert.True(t, s.IsAll())
	assert.Equal(t, "all", s.String())

	s, err = ParseScope("resource:hall-a")
	require.NoError(t, err)
	assert.Equal(t, "hall-a", s.ResourceID)
	assert.Equal(t, "resource:hall-a", s.String())

	_, err = ParseScope("resource:")
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = ParseScope("everything")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestScope_AppliesTo(t *testing.T) {
	all := ScopeAll()
	r1 := ScopeResource("r1")
	r2 := ScopeResource("r2")

	assert.True(t, all.AppliesTo(r1))
	assert.True(t, all.AppliesTo(all))
	assert.True(t, r1.AppliesTo(r1))
	assert.False(t, r1.AppliesTo(r2))
	assert.False(t, r1.AppliesTo(all))
}

func TestReservationStatus(t *testing.T) {
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.True(t, StatusPendingPayment.IsActive())
	assert.False(t, ReservationStatus("HELD").IsValid())

	r := &Reservation{Status: StatusConfirmed, Items: []ReservationItem{{EndAt: at(3, 11, 0)}}}
	assert.False(t, r.CanConfirm())
	assert.True(t, r.CanCancel())
	assert.False(t, r.CanComplete(at(3, 10, 59)))
	assert.True(t, r.CanComplete(at(3, 11, 0)))
}

func TestValidateCart(t *testing.T) {
	item := func(res string, sh, eh int) CartItem {
		return CartItem{ResourceID: res, StartAt: at(3, sh, 0), EndAt: at(3, eh, 0)}
	}

	tests := []struct {
		name    string
		items   []CartItem
		wantErr bool
	}{
		{"empty", nil, true},
		{"single", []CartItem{item("r1", 10, 11)}, false},
		{"same resource disjoint", []CartItem{item("r1", 10, 11), item("r1", 11, 12)}, false},
		{"same resource overlapping", []CartItem{item("r1", 10, 12), item("r1", 11, 13)}, true},
		{"different resources overlapping", []CartItem{item("r1", 10, 12), item("e1", 10, 12)}, false},
		{"quantity two", []CartItem{{ResourceID: "r1", StartAt: at(3, 10, 0), EndAt: at(3, 11, 0), Quantity: 2}}, true},
		{"too many", []CartItem{item("a", 9, 10), item("b", 9, 10), item("c", 9, 10)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCart(tt.items, 2)
			if tt.wantErr {
				assert.True(t, IsValidationError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSlotShape(t *testing.T) {
	timeRes := &Resource{ID: "r1", BookingUnit: UnitTime}
	dayRes := &Resource{ID: "d1", BookingUnit: UnitDay}

	tests := []struct {
		name    string
		res     *Resource
		iv      Interval
		wantErr bool
	}{
		{"zero length", timeRes, Interval{Start: at(3, 10, 0), End: at(3, 10, 0)}, true},
		{"inverted", timeRes, Interval{Start: at(3, 11, 0), End: at(3, 10, 0)}, true},
		{"aligned half hour", timeRes, Interval{Start: at(3, 10, 30), End: at(3, 11, 30)}, false},
		{"misaligned start", timeRes, Interval{Start: at(3, 10, 15), End: at(3, 11, 15)}, true},
		{"whole day", dayRes, Interval{Start: at(3, 0, 0), End: at(5, 0, 0)}, false},
		{"partial day", dayRes, Interval{Start: at(3, 9, 0), End: at(4, 0, 0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSlotShape(tt.res, tt.iv, seoul, 30)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriceItem(t *testing.T) {
	hourly := &Resource{BookingUnit: UnitTime, PricePerUnit: 20000}
	units, amount := PriceItem(hourly, Interval{Start: at(3, 10, 0), End: at(3, 12, 0)}, seoul)
	assert.Equal(t, int64(2), units)
	assert.Equal(t, int64(40000), amount)

	// a started hour is billed in full
	units, amount = PriceItem(hourly, Interval{Start: at(3, 10, 0), End: at(3, 11, 30)}, seoul)
	assert.Equal(t, int64(2), units)
	assert.Equal(t, int64(40000), amount)

	units, amount = PriceItem(hourly, Interval{Start: at(3, 10, 0), End: at(3, 10, 30)}, seoul)
	assert.Equal(t, int64(1), units)
	assert.Equal(t, int64(20000), amount)

	daily := &Resource{BookingUnit: UnitDay, PricePerUnit: 50000}
	units, amount = PriceItem(daily, Interval{Start: at(3, 0, 0), End: at(6, 0, 0)}, seoul)
	assert.Equal(t, int64(3), units)
	assert.Equal(t, int64(150000), amount)
}

func TestTypedErrors(t *testing.T) {
	conflict := &ConflictError{ResourceID: "r1", StartAt: at(3, 10, 0), EndAt: at(3, 11, 0)}
	assert.True(t, errors.Is(conflict, ErrSlotConflict))
	assert.True(t, IsConflictError(conflict))

	mismatch := &AmountMismatchError{Expected: 100, Actual: 90}
	assert.True(t, errors.Is(mismatch, ErrAmountMismatch))
	assert.True(t, IsPaymentError(mismatch))

	cause := errors.New("card declined")
	provider := &PaymentProviderError{Provider: "mock", Code: "declined", Err: cause}
	assert.True(t, errors.Is(provider, cause))
	assert.True(t, IsPaymentError(provider))

	saga := &SagaError{Stage: StageVerify, Err: mismatch}
	var got *AmountMismatchError
	assert.True(t, errors.As(saga, &got))
	assert.Equal(t, int64(90), got.Actual)

	stale := &StaleStateError{ReservationID: "x", Status: StatusCancelled}
	assert.True(t, errors.Is(stale, ErrStaleState))
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	m, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, 1440, m)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
	_, err = ParseClock("9")
	assert.Error(t, err)
}
