package recurrence

import (
	"strings"
	"time"

	"venuebook/internal/models"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// ROption maps a pattern onto an RFC 5545 rule starting at baseStart.
// CUSTOM patterns are day-based and render as DAILY.
func ROption(p models.RecurrencePattern, baseStart time.Time) rrule.ROption {
	p = Normalize(p)
	opt := rrule.ROption{
		Freq:     rrule.DAILY,
		Dtstart:  baseStart,
		Interval: p.Interval,
		Count:    p.MaxOccurrences,
		Wkst:     rrule.SU,
	}
	if p.Frequency == models.FrequencyWeekly {
		opt.Freq = rrule.WEEKLY
		for _, code := range p.DaysOfWeek {
			if d, ok := models.ParseWeekdayCode(code); ok {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
			}
		}
	}
	if p.EndDate != nil {
		opt.Until = *p.EndDate
	}
	return opt
}

// RRule renders the pattern as an RRULE value (without the DTSTART line),
// e.g. "FREQ=WEEKLY;INTERVAL=1;WKST=SU;COUNT=4;BYDAY=MO,WE".
func RRule(p models.RecurrencePattern, baseStart time.Time) (string, error) {
	if err := Validate(p, baseStart, baseStart.Add(time.Second)); err != nil {
		return "", err
	}
	r, err := rrule.NewRRule(ROption(p, baseStart))
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(r.String(), "\n") {
		if strings.HasPrefix(line, "RRULE:") {
			return strings.TrimPrefix(line, "RRULE:"), nil
		}
	}
	return r.String(), nil
}
