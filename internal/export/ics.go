package export

import (
	"fmt"
	"io"
	"strconv"

	"venuebook/internal/models"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const productID = "-//venuebook//series export//EN"

// uidNamespace scopes the name-based UUIDs used as event UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:venuebook:booking"))

// BookingUID is stable per booking id, so re-exported calendars update
// existing events instead of duplicating them.
func BookingUID(id int64) string {
	return uuid.NewSHA1(uidNamespace, []byte(strconv.FormatInt(id, 10))).String() + "@venuebook"
}

// WriteSeriesICS writes one VEVENT per booking. Occurrences are listed
// individually rather than as a single RRULE event because each one carries
// its own status.
func WriteSeriesICS(w io.Writer, s SeriesExport) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if s.Resource != "" {
		cal.SetXWRCalName(s.Resource)
	}

	for _, b := range s.Bookings {
		ev := cal.AddEvent(BookingUID(b.ID))
		ev.SetDtStampTime(stamp(b).UTC())
		ev.SetStartAt(b.StartTime.UTC())
		ev.SetEndAt(b.EndTime.UTC())
		ev.SetSummary(b.Title)
		if s.Resource != "" {
			ev.SetLocation(s.Resource)
		}
		ev.SetStatus(icsStatus(b.Status))
		ev.SetDescription(describe(b, s.RRule))
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("error writing calendar: %w", err)
	}
	return nil
}

func icsStatus(status models.BookingStatus) ical.ObjectStatus {
	switch status {
	case models.StatusConfirmed:
		return ical.ObjectStatusConfirmed
	case models.StatusRejected, models.StatusCancelled:
		return ical.ObjectStatusCancelled
	default:
		return ical.ObjectStatusTentative
	}
}

func describe(b *models.Booking, rrule string) string {
	desc := fmt.Sprintf("Status: %s", b.Status)
	if b.OccurrenceNumber != nil {
		desc = fmt.Sprintf("Occurrence %d. %s", *b.OccurrenceNumber, desc)
	}
	if b.RejectionReason != "" {
		desc += fmt.Sprintf(" (%s)", b.RejectionReason)
	}
	if rrule != "" {
		desc += "\nSeries rule: " + rrule
	}
	return desc
}
