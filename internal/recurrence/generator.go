// Package recurrence expands recurrence patterns into concrete occurrences.
//
// Generation is pure: the same pattern and base interval always produce the
// same occurrences, so the availability check and the persisted series agree.
package recurrence

import (
	"sort"
	"strings"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/models"

	"github.com/jinzhu/now"
)

// Weeks are anchored on Sunday, matching the SUN..SAT code order.
var weekAnchor = &now.Config{WeekStartDay: time.Sunday}

// Validate checks the pattern and base interval without generating anything.
func Validate(p models.RecurrencePattern, baseStart, baseEnd time.Time) error {
	switch p.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyCustom:
	default:
		return domain.Validation("frequency", "must be one of DAILY, WEEKLY, CUSTOM (got %q)", p.Frequency)
	}

	if p.MaxOccurrences < models.MinOccurrences || p.MaxOccurrences > models.MaxOccurrences {
		return domain.Validation("max_occurrences", "must be between %d and %d (got %d)",
			models.MinOccurrences, models.MaxOccurrences, p.MaxOccurrences)
	}

	if p.Interval != 0 && (p.Interval < models.MinInterval || p.Interval > models.MaxInterval) {
		return domain.Validation("interval", "must be between %d and %d (got %d)",
			models.MinInterval, models.MaxInterval, p.Interval)
	}

	if p.Frequency == models.FrequencyWeekly {
		if len(p.DaysOfWeek) == 0 {
			return domain.Validation("days_of_week", "at least one weekday is required for WEEKLY patterns")
		}
		var invalid []string
		for _, code := range p.DaysOfWeek {
			if _, ok := models.ParseWeekdayCode(code); !ok {
				invalid = append(invalid, code)
			}
		}
		if len(invalid) > 0 {
			return domain.Validation("days_of_week", "unrecognized weekday codes: %s (expected %s)",
				strings.Join(invalid, ", "), strings.Join(models.WeekdayCodes[:], ", "))
		}
	}

	if !baseStart.Before(baseEnd) {
		return domain.Validation("end_time", "must be after start_time")
	}

	if p.EndDate != nil && p.EndDate.Before(baseStart) {
		return domain.Validation("end_date", "must not precede the first occurrence start")
	}

	return nil
}

// Normalize applies defaults and canonicalizes weekday codes (upper case,
// de-duplicated, SUN..SAT order). The pattern must already be valid.
func Normalize(p models.RecurrencePattern) models.RecurrencePattern {
	p.Interval = p.EffectiveInterval()
	if len(p.DaysOfWeek) == 0 {
		return p
	}

	seen := make(map[time.Weekday]bool, len(p.DaysOfWeek))
	days := make([]time.Weekday, 0, len(p.DaysOfWeek))
	for _, code := range p.DaysOfWeek {
		d, ok := models.ParseWeekdayCode(code)
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	codes := make([]string, len(days))
	for i, d := range days {
		codes[i] = models.WeekdayCode(d)
	}
	p.DaysOfWeek = codes
	return p
}

// GenerateOccurrences validates p and expands it from [baseStart, baseEnd).
// The result holds between 1 and p.MaxOccurrences entries numbered from 1.
func GenerateOccurrences(p models.RecurrencePattern, baseStart, baseEnd time.Time) ([]models.Occurrence, error) {
	if err := Validate(p, baseStart, baseEnd); err != nil {
		return nil, err
	}
	return generate(Normalize(p), baseStart, baseEnd, models.GenerationSafetyFactor*p.MaxOccurrences)
}

func generate(p models.RecurrencePattern, baseStart, baseEnd time.Time, limit int) ([]models.Occurrence, error) {
	var (
		out []models.Occurrence
		err error
	)
	duration := baseEnd.Sub(baseStart)

	switch p.Frequency {
	case models.FrequencyWeekly:
		out, err = generateWeekly(p, baseStart, duration, limit)
	default:
		out, err = generateDaily(p, baseStart, duration, limit)
	}
	if err != nil {
		return nil, err
	}

	if len(out) > p.MaxOccurrences {
		out = out[:p.MaxOccurrences]
	}
	if len(out) == 0 {
		return nil, domain.Validation("pattern", "pattern produces no occurrences")
	}
	return out, nil
}

func generateDaily(p models.RecurrencePattern, baseStart time.Time, duration time.Duration, limit int) ([]models.Occurrence, error) {
	out := make([]models.Occurrence, 0, p.MaxOccurrences)
	current := baseStart

	for iterations := 1; len(out) < p.MaxOccurrences; iterations++ {
		if iterations > limit {
			return nil, domain.GenerationSafety(iterations, limit)
		}
		if p.EndDate != nil && current.After(*p.EndDate) {
			break
		}
		out = append(out, models.Occurrence{
			Number: len(out) + 1,
			Start:  current,
			End:    current.Add(duration),
		})
		current = current.AddDate(0, 0, p.Interval)
	}

	return out, nil
}

func generateWeekly(p models.RecurrencePattern, baseStart time.Time, duration time.Duration, limit int) ([]models.Occurrence, error) {
	selected := make(map[time.Weekday]bool, len(p.DaysOfWeek))
	for _, code := range p.DaysOfWeek {
		if d, ok := models.ParseWeekdayCode(code); ok {
			selected[d] = true
		}
	}

	hour, minute, sec := baseStart.Clock()
	loc := baseStart.Location()
	anchor := weekAnchor.With(baseStart).BeginningOfWeek()

	out := make([]models.Occurrence, 0, p.MaxOccurrences)
	for iterations := 1; len(out) < p.MaxOccurrences; iterations++ {
		if iterations > limit {
			return nil, domain.GenerationSafety(iterations, limit)
		}

		for i := 0; i < 7 && len(out) < p.MaxOccurrences; i++ {
			day := anchor.AddDate(0, 0, i)
			if !selected[day.Weekday()] {
				continue
			}
			start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, sec, baseStart.Nanosecond(), loc)
			if start.Before(baseStart) {
				continue
			}
			if p.EndDate != nil && start.After(*p.EndDate) {
				return out, nil
			}
			out = append(out, models.Occurrence{
				Number: len(out) + 1,
				Start:  start,
				End:    start.Add(duration),
			})
		}

		anchor = anchor.AddDate(0, 0, 7*p.Interval)
	}

	return out, nil
}
