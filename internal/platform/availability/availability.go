// Package availability tracks recurring weekly working windows for doctors
// and answers the single question the scheduler needs: is this doctor
// available for this slot.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWindowNotFound = errors.New("availability window not found")
	ErrInvalidWindow  = errors.New("invalid availability window")
)

// Window is one recurring weekly availability window. Times are clock
// strings in HH:MM, end exclusive. A doctor with no windows at all is
// treated as always available so onboarding does not block booking.
type Window struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Weekday   int       `json:"weekday"` // 0 = Sunday, matching time.Weekday
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks window shape before persistence.
func (w *Window) Validate() error {
	if w.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidWindow)
	}
	if w.Weekday < 0 || w.Weekday > 6 {
		return fmt.Errorf("%w: weekday must be 0-6", ErrInvalidWindow)
	}
	start, err := parseClock(w.StartTime)
	if err != nil {
		return fmt.Errorf("%w: start_time: %v", ErrInvalidWindow, err)
	}
	end, err := parseClock(w.EndTime)
	if err != nil {
		return fmt.Errorf("%w: end_time: %v", ErrInvalidWindow, err)
	}
	if end <= start {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidWindow)
	}
	return nil
}

// Repository stores availability windows.
type Repository interface {
	Create(ctx context.Context, w *Window) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Window, error)
	ListByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*Window, error)
}

// Provider answers slot availability queries for the scheduler.
type Provider struct {
	repo Repository
}

func NewProvider(repo Repository) *Provider { return &Provider{repo: repo} }

// IsAvailable reports whether [start, end) on the given date falls inside one
// of the doctor's windows for that weekday. Date is YYYY-MM-DD, times HH:MM.
// Doctors with no configured windows are available for any slot.
func (p *Provider) IsAvailable(ctx context.Context, doctorID uuid.UUID, date, startTime, endTime string) (bool, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false, fmt.Errorf("%w: date: %v", ErrInvalidWindow, err)
	}
	start, err := parseClock(startTime)
	if err != nil {
		return false, fmt.Errorf("%w: start_time: %v", ErrInvalidWindow, err)
	}
	end, err := parseClock(endTime)
	if err != nil {
		return false, fmt.Errorf("%w: end_time: %v", ErrInvalidWindow, err)
	}

	all, err := p.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return false, err
	}
	if len(all) == 0 {
		return true, nil
	}

	windows, err := p.repo.ListByDoctorWeekday(ctx, doctorID, int(day.Weekday()))
	if err != nil {
		return false, err
	}
	for _, w := range windows {
		ws, err1 := parseClock(w.StartTime)
		we, err2 := parseClock(w.EndTime)
		if err1 != nil || err2 != nil {
			continue
		}
		// Slots that roll past midnight only need to start inside a window;
		// the tail belongs to the booked date.
		if end < start {
			if start >= ws && start < we {
				return true, nil
			}
			continue
		}
		if start >= ws && end <= we {
			return true, nil
		}
	}
	return false, nil
}

// parseClock converts HH:MM to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
