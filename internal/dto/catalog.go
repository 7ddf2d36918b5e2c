package dto

import (
	"time"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

// DateLayout is the calendar date format used in query strings
const DateLayout = "2006-01-02"

// BookedIntervalsResponse lists the occupied slots of one local day
type BookedIntervalsResponse struct {
	Date       string                  `json:"date"`
	ResourceID string                  `json:"resource_id,omitempty"`
	Intervals  []domain.BookedInterval `json:"intervals"`
}

// DateStatusResponse is one calendar day
type DateStatusResponse struct {
	Date    string `json:"date"`
	Open    bool   `json:"open"`
	Holiday string `json:"holiday,omitempty"`
}

// OpenDatesResponse is the open/closed calendar of a scope
type OpenDatesResponse struct {
	Scope string               `json:"scope"`
	Dates []DateStatusResponse `json:"dates"`
}

// ResourceResponse represents a resource in API response
type ResourceResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Category     string         `json:"category"`
	BookingUnit  string         `json:"booking_unit"`
	PricePerUnit int64          `json:"price_per_unit"`
	Active       bool           `json:"active"`
	Hours        *HoursResponse `json:"hours,omitempty"`
}

// HoursResponse is a daily operating window
type HoursResponse struct {
	Open     string   `json:"open"`
	Close    string   `json:"close"`
	RestDays []string `json:"rest_days"`
}

// FromResource converts a resource and its optional hours
func FromResource(r *domain.Resource, hours *domain.OperatingHours) *ResourceResponse {
	out := &ResourceResponse{
		ID:           r.ID,
		Name:         r.Name,
		Category:     string(r.Category),
		BookingUnit:  string(r.BookingUnit),
		PricePerUnit: r.PricePerUnit,
		Active:       r.Active,
	}
	if hours != nil {
		rest := make([]string, 0, len(hours.RestDays))
		for _, d := range hours.RestDays {
			rest = append(rest, d.String())
		}
		out.Hours = &HoursResponse{
			Open:     clock(hours.OpenMinute),
			Close:    clock(hours.CloseMinute),
			RestDays: rest,
		}
	}
	return out
}

func clock(minute int) string {
	return time.Date(0, 1, 1, minute/60, minute%60, 0, 0, time.UTC).Format("15:04")
}

// CreateRuleRequest represents an administrator BLOCK/ALLOW rule
type CreateRuleRequest struct {
	Scope   string    `json:"scope" binding:"required"`
	Kind    string    `json:"kind" binding:"required,oneof=BLOCK ALLOW"`
	StartAt time.Time `json:"start_at" binding:"required"`
	EndAt   time.Time `json:"end_at" binding:"required"`
	Reason  string    `json:"reason,omitempty" binding:"max=500"`
}

// RuleResponse represents a schedule rule in API response
type RuleResponse struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Kind      string    `json:"kind"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Reason    string    `json:"reason,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FromRule converts a schedule rule
func FromRule(r *domain.ScheduleRule) *RuleResponse {
	return &RuleResponse{
		ID:        r.ID,
		Scope:     r.Scope.String(),
		Kind:      string(r.Kind),
		StartAt:   r.StartAt,
		EndAt:     r.EndAt,
		Reason:    r.Reason,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
	}
}

// FromRules converts a rule list, never returning nil
func FromRules(rules []*domain.ScheduleRule) []*RuleResponse {
	out := make([]*RuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, FromRule(r))
	}
	return out
}

// UpsertHolidayRequest creates or renames a holiday
type UpsertHolidayRequest struct {
	Date string `json:"date" binding:"required"`
	Name string `json:"name" binding:"required,max=100"`
}

// HolidayResponse represents a holiday in API response
type HolidayResponse struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// FromHolidays converts holidays rendering dates in loc
func FromHolidays(list []*domain.Holiday, loc *time.Location) []*HolidayResponse {
	out := make([]*HolidayResponse, 0, len(list))
	for _, h := range list {
		out = append(out, &HolidayResponse{Date: h.Date.In(loc).Format(DateLayout), Name: h.Name})
	}
	return out
}

// ScheduleResponse is the administrator calendar of a range
type ScheduleResponse struct {
	From     string                  `json:"from"`
	To       string                  `json:"to"`
	Booked   []domain.BookedInterval `json:"booked"`
	Rules    []*RuleResponse         `json:"rules"`
	Holidays []*HolidayResponse      `json:"holidays"`
}
