package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/export"
	"venuebook/internal/models"
	"venuebook/internal/recurrence"
	"venuebook/internal/service"

	"github.com/go-playground/validator/v10"
)

type resourceDTO struct {
	Kind string `json:"kind" validate:"required,oneof=room venue"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

func (d resourceDTO) ref() models.ResourceRef {
	return models.ResourceRef{Kind: models.ResourceKind(d.Kind), ID: d.ID}
}

// patternDTO only checks shape; bounds and weekday codes are validated by
// the generator so its messages reach the client unchanged.
type patternDTO struct {
	Frequency      string     `json:"frequency" validate:"required"`
	Interval       int        `json:"interval"`
	DaysOfWeek     []string   `json:"days_of_week"`
	MaxOccurrences int        `json:"max_occurrences"`
	EndDate        *time.Time `json:"end_date"`
}

func (d patternDTO) pattern() models.RecurrencePattern {
	return models.RecurrencePattern{
		Frequency:      models.Frequency(strings.ToUpper(strings.TrimSpace(d.Frequency))),
		Interval:       d.Interval,
		DaysOfWeek:     d.DaysOfWeek,
		MaxOccurrences: d.MaxOccurrences,
		EndDate:        d.EndDate,
	}
}

type availabilityRequest struct {
	Resource         resourceDTO `json:"resource"`
	Start            time.Time   `json:"start" validate:"required"`
	End              time.Time   `json:"end" validate:"required,gtfield=Start"`
	ExcludeBookingID int64       `json:"exclude_booking_id" validate:"gte=0"`
}

type previewRequest struct {
	Pattern patternDTO `json:"pattern"`
	Start   time.Time  `json:"start" validate:"required"`
	End     time.Time  `json:"end" validate:"required,gtfield=Start"`
}

type seriesCheckRequest struct {
	Resource         resourceDTO `json:"resource"`
	Pattern          patternDTO  `json:"pattern"`
	Start            time.Time   `json:"start" validate:"required"`
	End              time.Time   `json:"end" validate:"required,gtfield=Start"`
	ExcludeBookingID int64       `json:"exclude_booking_id" validate:"gte=0"`
}

type bookingRequest struct {
	Resource      resourceDTO `json:"resource"`
	Title         string      `json:"title" validate:"required,max=200"`
	AttendeeCount *int        `json:"attendee_count" validate:"omitempty,gte=0"`
	UserID        int64       `json:"user_id" validate:"gte=0"`
	Start         time.Time   `json:"start" validate:"required"`
	End           time.Time   `json:"end" validate:"required,gtfield=Start"`
}

type seriesRequest struct {
	bookingRequest
	Pattern patternDTO `json:"pattern"`
}

type statusRequest struct {
	IDs    []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Status string  `json:"status" validate:"required,oneof=PENDING CONFIRMED AWAITING_EXTERNAL REJECTED CANCELLED"`
	Reason string  `json:"reason" validate:"max=500"`
}

type idsRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type previewResponse struct {
	Occurrences []models.Occurrence `json:"occurrences"`
	RRule       string              `json:"rrule"`
}

type bookingsResponse struct {
	Bookings []*models.Booking `json:"bookings"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs struct validation. Failures are
// written as 400 and reported as false.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	field := verrs[0].Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error: strings.Join(msgs, "; "),
		Kind:  domain.KindValidation.String(),
		Field: field,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.svc.Checker.CheckAvailability(r.Context(), service.AvailabilityQuery{
		Resource:         req.Resource.ref(),
		Start:            req.Start,
		End:              req.End,
		ExcludeBookingID: req.ExcludeBookingID,
		Viewer:           IdentityFromContext(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleScanResources(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseResourceKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("start")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC 3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("end")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be an RFC 3339 timestamp")
		return
	}

	opts := service.ScanOptions{Viewer: IdentityFromContext(r.Context())}
	if raw := q.Get("include_inactive"); raw != "" {
		if opts.IncludeInactive, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "include_inactive must be a boolean")
			return
		}
	}
	if raw := q.Get("exclude_booking_id"); raw != "" {
		if opts.ExcludeBookingID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "exclude_booking_id must be an integer")
			return
		}
	}

	res, err := s.svc.Checker.ScanResources(r.Context(), kind, start, end, opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handlePreviewRecurrence(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !s.decode(w, r, &req) {
		return
	}

	p := req.Pattern.pattern()
	occs, err := recurrence.GenerateOccurrences(p, req.Start, req.End)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	rule, err := recurrence.RRule(recurrence.Normalize(p), req.Start)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Occurrences: occs, RRule: rule})
}

func (s *HTTPServer) handleCheckSeries(w http.ResponseWriter, r *http.Request) {
	var req seriesCheckRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.svc.Series.CheckSeriesAvailability(r.Context(), service.SeriesCheck{
		Resource:         req.Resource.ref(),
		Pattern:          req.Pattern.pattern(),
		BaseStart:        req.Start,
		BaseEnd:          req.End,
		ExcludeBookingID: req.ExcludeBookingID,
		Viewer:           IdentityFromContext(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// newBooking builds the template booking. Only admins may book on behalf of
// another user; owner name and email are copied from the user record.
func (s *HTTPServer) newBooking(r *http.Request, req bookingRequest) (*models.Booking, error) {
	actor := IdentityFromContext(r.Context())
	owner := actor.UserID
	if req.UserID != 0 && req.UserID != actor.UserID {
		if !actor.IsAdmin() {
			return nil, errForbidden
		}
		owner = req.UserID
	}

	b := &models.Booking{
		Title:         strings.TrimSpace(req.Title),
		AttendeeCount: req.AttendeeCount,
		StartTime:     req.Start,
		EndTime:       req.End,
	}
	b.SetResource(req.Resource.ref())
	if owner == 0 {
		return b, nil
	}

	user, err := s.svc.Store.GetUser(r.Context(), owner)
	if err != nil {
		return nil, err
	}
	b.UserID = models.Int64Ptr(user.ID)
	b.UserName = user.Name
	b.UserEmail = user.Email
	return b, nil
}

var errForbidden = errors.New("admin role required")

func (s *HTTPServer) writeBookingError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errForbidden) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	s.writeDomainError(w, r, err)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	b, err := s.newBooking(r, req)
	if err != nil {
		s.writeBookingError(w, r, err)
		return
	}
	if err := s.svc.Bookings.CreateBooking(r.Context(), b, IdentityFromContext(r.Context())); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req seriesRequest
	if !s.decode(w, r, &req) {
		return
	}

	b, err := s.newBooking(r, req.bookingRequest)
	if err != nil {
		s.writeBookingError(w, r, err)
		return
	}
	series, err := s.svc.Series.CreateSeries(r.Context(), service.SeriesRequest{
		Booking:   *b,
		Pattern:   req.Pattern.pattern(),
		BaseStart: req.Start,
		BaseEnd:   req.End,
	}, IdentityFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, series)
}

func (s *HTTPServer) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	series, err := s.svc.Series.GetSeries(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *HTTPServer) handleCancelSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	series, err := s.svc.Series.CancelSeries(r.Context(), id, IdentityFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *HTTPServer) handleUpdateStatuses(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}

	updated, err := s.svc.Bookings.UpdateStatuses(r.Context(), req.IDs, models.BookingStatus(req.Status), req.Reason, IdentityFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingsResponse{Bookings: updated})
}

func (s *HTTPServer) handleDeleteBookings(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var req idsRequest
	if !s.decode(w, r, &req) {
		return
	}

	removed, err := s.svc.Bookings.DeleteBookings(r.Context(), req.IDs, IdentityFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingsResponse{Bookings: removed})
}

func (s *HTTPServer) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !IdentityFromContext(r.Context()).IsAdmin() {
		writeError(w, http.StatusForbidden, errForbidden.Error())
		return false
	}
	return true
}

func (s *HTTPServer) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.writeExport(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.WriteSeriesXLSX)
}

func (s *HTTPServer) handleExportICS(w http.ResponseWriter, r *http.Request) {
	s.writeExport(w, r, "ics", "text/calendar; charset=utf-8", export.WriteSeriesICS)
}

// writeExport renders into a buffer first so a render failure can still
// produce a JSON error instead of a truncated file.
func (s *HTTPServer) writeExport(w http.ResponseWriter, r *http.Request, ext, contentType string, render func(io.Writer, export.SeriesExport) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	series, err := s.svc.Series.GetSeries(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	data := export.SeriesExport{Bookings: series.Bookings(), Pattern: series.Pattern, RRule: series.RRule}
	if ref, ok := series.Parent.Resource(); ok {
		if res, err := s.svc.Store.GetResource(r.Context(), ref); err == nil {
			data.Resource = res.Name
		} else {
			data.Resource = ref.String()
		}
	}

	var buf bytes.Buffer
	if err := render(&buf, data); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"series_%d.%s\"", series.Parent.ID, ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
