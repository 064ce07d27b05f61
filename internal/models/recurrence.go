package models

import (
	"strings"
	"time"
)

// Frequency of a recurrence pattern.
type Frequency string

const (
	FrequencyDaily  Frequency = "DAILY"
	FrequencyWeekly Frequency = "WEEKLY"
	FrequencyCustom Frequency = "CUSTOM"
)

const (
	MinOccurrences  = 1
	MaxOccurrences  = 52
	MinInterval     = 1
	MaxInterval     = 365
	DefaultInterval = 1
)

// WeekdayCodes is the fixed vocabulary for weekly patterns, indexed by time.Weekday.
var WeekdayCodes = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// ParseWeekdayCode maps a code such as "MON" to its weekday. Matching is case-insensitive.
func ParseWeekdayCode(code string) (time.Weekday, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, c := range WeekdayCodes {
		if c == code {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// WeekdayCode is the inverse of ParseWeekdayCode.
func WeekdayCode(d time.Weekday) string {
	return WeekdayCodes[int(d)%7]
}

type RecurrencePattern struct {
	ID              int64      `json:"id,omitempty"`
	ParentBookingID int64      `json:"parent_booking_id,omitempty"`
	Frequency       Frequency  `json:"frequency"`
	Interval        int        `json:"interval,omitempty"`
	DaysOfWeek      []string   `json:"days_of_week,omitempty"`
	MaxOccurrences  int        `json:"max_occurrences"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	// UTCOffset is the zone offset in seconds of the series' first start.
	// Stores may hand times back in UTC; weekday codes refer to this offset.
	UTCOffset       int        `json:"utc_offset"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
}

// EffectiveInterval returns the interval with the default applied.
func (p *RecurrencePattern) EffectiveInterval() int {
	if p.Interval == 0 {
		return DefaultInterval
	}
	return p.Interval
}

// Occurrence is one concrete time window generated from a pattern.
type Occurrence struct {
	Number int       `json:"occurrence_number"`
	Start  time.Time `json:"start_time"`
	End    time.Time `json:"end_time"`
}
