// Package appointment implements the appointment scheduler: slot validation
// against doctor availability, double-booking protection, completion with
// optional follow-ups, and cancellation that clears diagnosis references.
package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state. Completed, cancelled and
// no_show are terminal.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Appointment length bounds when the end time is set explicitly.
const (
	MinDurationMinutes = 10
	MaxDurationMinutes = 240
)

// Appointment is a scheduled doctor-patient encounter. Date is YYYY-MM-DD and
// the times are HH:MM clock strings; a slot whose end wraps past midnight
// still belongs to Date.
type Appointment struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	DoctorID              uuid.UUID  `json:"doctor_id"`
	Date                  string     `json:"date"`
	StartTime             string     `json:"start_time"`
	EndTime               string     `json:"end_time"`
	Status                Status     `json:"status"`
	PreNotes              *string    `json:"pre_notes,omitempty"`
	PostNotes             *string    `json:"post_notes,omitempty"`
	DiagnosisID           *uuid.UUID `json:"diagnosis_id,omitempty"`
	FollowupAppointmentID *uuid.UUID `json:"followup_appointment_id,omitempty"`
	CancelledBy           *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelReason          *string    `json:"cancel_reason,omitempty"`
	VersionID             int        `json:"version_id"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsTerminal reports whether no further status change is allowed.
func (a *Appointment) IsTerminal() bool {
	return a.Status != StatusScheduled
}

// ParseClock converts an HH:MM string to minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: expected HH:MM, got %q", ErrValidation, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as HH:MM, wrapping at 24h.
func FormatClock(minutes int) string {
	minutes %= 24 * 60
	if minutes < 0 {
		minutes += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// AddMinutes computes an end time from a start time and duration with
// minute-level wraparound: 16:45+30 is 17:15, 23:45+30 is 00:15 the next day.
// The boolean reports whether the end rolled past midnight.
func AddMinutes(start string, minutes int) (string, bool, error) {
	s, err := ParseClock(start)
	if err != nil {
		return "", false, err
	}
	end := s + minutes
	return FormatClock(end), end >= 24*60, nil
}

// ParseDate validates a YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expected YYYY-MM-DD, got %q", ErrValidation, s)
	}
	return d, nil
}

// slotLength returns the appointment length in minutes. An end at or before
// the start is read as wrapping past midnight.
func slotLength(startTime, endTime string) (int, error) {
	start, err := ParseClock(startTime)
	if err != nil {
		return 0, err
	}
	end, err := ParseClock(endTime)
	if err != nil {
		return 0, err
	}
	length := end - start
	if length <= 0 {
		length += 24 * 60
	}
	return length, nil
}

func validateLength(length int) error {
	if length < MinDurationMinutes || length > MaxDurationMinutes {
		return fmt.Errorf("%w: appointment length must be between %d and %d minutes",
			ErrValidation, MinDurationMinutes, MaxDurationMinutes)
	}
	return nil
}

// overlaps reports whether two [start, end) intervals on the same date
// collide. Intervals that wrap past midnight extend beyond 24h.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	if aEnd <= aStart {
		aEnd += 24 * 60
	}
	if bEnd <= bStart {
		bEnd += 24 * 60
	}
	return aStart < bEnd && bStart < aEnd
}
