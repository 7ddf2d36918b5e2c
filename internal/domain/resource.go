package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResourceCategory classifies a bookable resource
type ResourceCategory string

const (
	CategorySpace     ResourceCategory = "SPACE"
	CategoryEquipment ResourceCategory = "EQUIPMENT"
)

// BookingUnit is the billing unit of a resource
type BookingUnit string

const (
	// UnitTime resources are booked in slots and priced per hour
	UnitTime BookingUnit = "TIME"
	// UnitDay resources are booked in whole local days and priced per day
	UnitDay BookingUnit = "DAY"
)

// Resource is a bookable space or piece of equipment
type Resource struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Category     ResourceCategory `json:"category"`
	BookingUnit  BookingUnit      `json:"booking_unit"`
	PricePerUnit int64            `json:"price_per_unit"`
	Active       bool             `json:"active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Default operating window and rest days
const (
	DefaultOpenMinute  = 9 * 60
	DefaultCloseMinute = 18 * 60
)

// DefaultRestDays are closed unless an ALLOW rule opens them
var DefaultRestDays = []time.Weekday{time.Saturday, time.Sunday}

// OperatingHours is the daily window of a resource, in minutes from local midnight
type OperatingHours struct {
	ResourceID  string         `json:"resource_id"`
	OpenMinute  int            `json:"open_minute"`
	CloseMinute int            `json:"close_minute"`
	RestDays    []time.Weekday `json:"rest_days"`
}

// DefaultOperatingHours returns 09:00-18:00 with weekends off
func DefaultOperatingHours(resourceID string) *OperatingHours {
	return &OperatingHours{
		ResourceID:  resourceID,
		OpenMinute:  DefaultOpenMinute,
		CloseMinute: DefaultCloseMinute,
		RestDays:    append([]time.Weekday(nil), DefaultRestDays...),
	}
}

// For returns a copy of h bound to resourceID
func (h *OperatingHours) For(resourceID string) *OperatingHours {
	c := *h
	c.ResourceID = resourceID
	c.RestDays = append([]time.Weekday(nil), h.RestDays...)
	return &c
}

// IsRestDay reports whether the weekday is a weekly rest day
func (h *OperatingHours) IsRestDay(day time.Weekday) bool {
	for _, d := range h.RestDays {
		if d == day {
			return true
		}
	}
	return false
}

// Window returns the operating interval on the given local date
func (h *OperatingHours) Window(date time.Time, loc *time.Location) Interval {
	day := StartOfDay(date, loc)
	return Interval{
		Start: day.Add(time.Duration(h.OpenMinute) * time.Minute),
		End:   day.Add(time.Duration(h.CloseMinute) * time.Minute),
	}
}

// ParseClock parses "HH:MM" into minutes from midnight
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hh*60 + mm, nil
}

// Interval is a half-open time range [Start, End)
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps is the half-open overlap test
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}

// Contains reports whether o lies entirely within i
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Duration returns End - Start
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// StartOfDay returns local midnight of t's date in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// DayInterval returns the whole local day containing t
func DayInterval(t time.Time, loc *time.Location) Interval {
	start := StartOfDay(t, loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// CoveredByUnion reports whether the rule intervals together cover target
func CoveredByUnion(target Interval, intervals []Interval) bool {
	cursor := target.Start
	for {
		if !cursor.Before(target.End) {
			return true
		}
		advanced := false
		for _, iv := range intervals {
			if !iv.Start.After(cursor) && iv.End.After(cursor) {
				cursor = iv.End
				advanced = true
			}
		}
		if !advanced {
			return false
		}
	}
}
