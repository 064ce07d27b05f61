// Package export renders booking series as spreadsheets and calendars.
package export

import (
	"fmt"
	"io"
	"time"

	"venuebook/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Series"

// SeriesExport is the data both renderers need. Bookings are expected in
// occurrence order.
type SeriesExport struct {
	Resource string
	Bookings []*models.Booking
	Pattern  *models.RecurrencePattern
	RRule    string
}

var xlsxHeaders = []string{"#", "Title", "Date", "Start", "End", "Status", "Owner", "Attendees"}

// WriteSeriesXLSX writes a one-sheet workbook listing every occurrence.
func WriteSeriesXLSX(w io.Writer, s SeriesExport) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", seriesHeading(s))
	_ = f.MergeCell(sheetName, "A1", lastColumn()+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range xlsxHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, b := range s.Bookings {
		row := i + 3
		values := []interface{}{
			occurrenceNumber(b),
			b.Title,
			b.StartTime.UTC().Format("2006-01-02"),
			b.StartTime.UTC().Format("15:04"),
			b.EndTime.UTC().Format("15:04"),
			string(b.Status),
			b.UserName,
			attendees(b),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("error writing cell %s: %w", cell, err)
			}
		}
		if styleID, err := statusStyle(f, b.Status); err == nil {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(xlsxHeaders), row)
			_ = f.SetCellStyle(sheetName, first, last, styleID)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 6)
	_ = f.SetColWidth(sheetName, "B", "B", 30)
	_ = f.SetColWidth(sheetName, "C", "F", 14)
	_ = f.SetColWidth(sheetName, "G", "G", 24)
	_ = f.SetColWidth(sheetName, "H", "H", 10)

	_ = f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func seriesHeading(s SeriesExport) string {
	heading := s.Resource
	if len(s.Bookings) > 0 {
		first, last := s.Bookings[0], s.Bookings[len(s.Bookings)-1]
		heading = fmt.Sprintf("%s: %s - %s", s.Resource,
			first.StartTime.UTC().Format("02.01.2006"), last.StartTime.UTC().Format("02.01.2006"))
	}
	if s.RRule != "" {
		heading += " (" + s.RRule + ")"
	}
	return heading
}

func statusStyle(f *excelize.File, status models.BookingStatus) (int, error) {
	color := "#FFFFFF"
	switch status {
	case models.StatusConfirmed:
		color = "#C6EFCE"
	case models.StatusPending, models.StatusAwaitingExternal:
		color = "#FFEB9C"
	case models.StatusRejected, models.StatusCancelled:
		color = "#FFC7CE"
	}
	return f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
}

func lastColumn() string {
	name, _ := excelize.ColumnNumberToName(len(xlsxHeaders))
	return name
}

func occurrenceNumber(b *models.Booking) interface{} {
	if b.OccurrenceNumber == nil {
		return 1
	}
	return *b.OccurrenceNumber
}

func attendees(b *models.Booking) interface{} {
	if b.AttendeeCount == nil {
		return ""
	}
	return *b.AttendeeCount
}

func stamp(b *models.Booking) time.Time {
	if b.CreatedAt.IsZero() {
		return b.StartTime
	}
	return b.CreatedAt
}
