package domain

import (
	"errors"
	"fmt"
	"strings"

	"venuebook/internal/models"
)

// Kind classifies core errors. Adapters translate kinds into transport codes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindGenerationSafety
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindGenerationSafety:
		return "generation_safety"
	default:
		return "internal"
	}
}

// OccurrenceConflict is a generated occurrence that collides with existing bookings.
type OccurrenceConflict struct {
	Occurrence models.Occurrence     `json:"occurrence"`
	Conflicts  []models.ConflictView `json:"conflicts"`
}

// Error is the typed error returned by the booking core.
type Error struct {
	Kind    Kind
	Field   string
	Message string

	// Conflicts is set for single-interval conflicts.
	Conflicts []models.ConflictView
	// Occurrences is set when a series could not be committed.
	Occurrences []OccurrenceConflict

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a validation error pinned to field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for an entity such as "booking".
func NotFound(entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, Field: entity, Message: fmt.Sprintf("%s %d not found", entity, id)}
}

// Conflict builds a conflict error carrying the colliding bookings.
func Conflict(message string, conflicts []models.ConflictView) *Error {
	return &Error{Kind: KindConflict, Message: message, Conflicts: conflicts}
}

// SeriesConflict builds a conflict error carrying per-occurrence conflicts.
func SeriesConflict(occurrences []OccurrenceConflict) *Error {
	return &Error{
		Kind:        KindConflict,
		Message:     fmt.Sprintf("%d occurrence(s) conflict with existing bookings", len(occurrences)),
		Occurrences: occurrences,
	}
}

// GenerationSafety reports a pattern that exceeded the generator's iteration bound.
func GenerationSafety(iterations, limit int) *Error {
	return &Error{
		Kind:    KindGenerationSafety,
		Field:   "pattern",
		Message: fmt.Sprintf("generation aborted after %d iterations (limit %d)", iterations, limit),
	}
}

// Internal wraps an unexpected error.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation is true for validation errors, generation safety included.
func IsValidation(err error) bool {
	k := KindOf(err)
	return k == KindValidation || k == KindGenerationSafety
}

func IsConflict(err error) bool { return KindOf(err) == KindConflict }

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// ErrLockNotAcquired is returned by resource lockers when the wait expires.
var ErrLockNotAcquired = errors.New("resource lock not acquired")
