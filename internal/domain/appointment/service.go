package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/platform/notify"
)

// SlotChecker answers whether a slot falls inside a doctor's published
// weekly availability. Implemented by the availability provider.
type SlotChecker interface {
	IsAvailable(ctx context.Context, doctorID uuid.UUID, date, startTime, endTime string) (bool, error)
}

// DiagnosisLink maintains the weak back-reference a diagnosis holds to its
// most recent appointment. Implemented by the diagnosis service.
type DiagnosisLink interface {
	SetAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error
	ClearAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error
}

// Config carries the scheduling knobs.
type Config struct {
	DurationMinutes int // default slot length
	FollowUpDays    int // follow-up offset from the completed appointment
}

type Service struct {
	repo      Repository
	slots     SlotChecker
	diagnoses DiagnosisLink
	notifier  *notify.Emitter
	cfg       Config
	log       zerolog.Logger
}

func NewService(repo Repository, slots SlotChecker, diagnoses DiagnosisLink, notifier *notify.Emitter, cfg Config, log zerolog.Logger) *Service {
	if cfg.DurationMinutes <= 0 {
		cfg.DurationMinutes = 30
	}
	if cfg.FollowUpDays <= 0 {
		cfg.FollowUpDays = 7
	}
	return &Service{repo: repo, slots: slots, diagnoses: diagnoses, notifier: notifier, cfg: cfg, log: log}
}

// CreateInput is the appointment creation request.
type CreateInput struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	Date        string     `json:"date"`
	StartTime   string     `json:"start_time"`
	EndTime     string     `json:"end_time"` // optional explicit override
	PreNotes    string     `json:"pre_notes"`
	DiagnosisID *uuid.UUID `json:"diagnosis_id"`
}

// Create books a slot. The end time defaults to start plus the configured
// duration; an explicit end must keep the appointment between
// MinDurationMinutes and MaxDurationMinutes. A slot outside the doctor's
// availability, overlapping an existing scheduled appointment, or losing
// the insert race fails with ErrSlotUnavailable.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in CreateInput) (*Appointment, error) {
	return s.create(ctx, in, notify.EventAppointmentScheduled)
}

// create books the slot and emits the single event for the transition. The
// caller picks the event so a follow-up booking announces itself as a
// follow-up, not as a second generic scheduling.
func (s *Service) create(ctx context.Context, in CreateInput, event string) (*Appointment, error) {
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id and doctor_id are required", ErrValidation)
	}
	if _, err := ParseDate(in.Date); err != nil {
		return nil, err
	}
	if _, err := ParseClock(in.StartTime); err != nil {
		return nil, err
	}

	endTime := in.EndTime
	if endTime == "" {
		var err error
		endTime, _, err = AddMinutes(in.StartTime, s.cfg.DurationMinutes)
		if err != nil {
			return nil, err
		}
	} else {
		length, err := slotLength(in.StartTime, endTime)
		if err != nil {
			return nil, err
		}
		if err := validateLength(length); err != nil {
			return nil, err
		}
	}

	available, err := s.slots.IsAvailable(ctx, in.DoctorID, in.Date, in.StartTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}
	if !available {
		return nil, fmt.Errorf("%w: outside doctor availability", ErrSlotUnavailable)
	}
	if err := s.checkOverlap(ctx, in.DoctorID, in.Date, in.StartTime, endTime, uuid.Nil); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:   in.PatientID,
		DoctorID:    in.DoctorID,
		Date:        in.Date,
		StartTime:   in.StartTime,
		EndTime:     endTime,
		Status:      StatusScheduled,
		DiagnosisID: in.DiagnosisID,
	}
	if strings.TrimSpace(in.PreNotes) != "" {
		notes := in.PreNotes
		a.PreNotes = &notes
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	if a.DiagnosisID != nil {
		if err := s.diagnoses.SetAssociatedAppointment(ctx, *a.DiagnosisID, a.ID); err != nil {
			s.log.Error().Err(err).
				Str("appointment_id", a.ID.String()).
				Str("diagnosis_id", a.DiagnosisID.String()).
				Msg("link appointment to diagnosis")
		}
	}

	s.notifier.Emit(event, map[string]string{
		"appointment_id": a.ID.String(),
		"patient_id":     a.PatientID.String(),
		"doctor_id":      a.DoctorID.String(),
		"date":           a.Date,
		"start_time":     a.StartTime,
	})
	return a, nil
}

// Complete marks a scheduled appointment completed and optionally books a
// follow-up at the configured day offset, same time of day. A follow-up that
// cannot be booked (slot taken) is logged and skipped; the completion stands.
func (s *Service) Complete(ctx context.Context, id, actorID uuid.UUID, postNotes string, followUp bool) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, a.Status)
	}

	a.Status = StatusCompleted
	if strings.TrimSpace(postNotes) != "" {
		notes := postNotes
		a.PostNotes = &notes
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.notifier.Emit(notify.EventAppointmentCompleted, map[string]string{
		"appointment_id": a.ID.String(),
		"patient_id":     a.PatientID.String(),
		"date":           a.Date,
	})

	if followUp {
		if fu, err := s.createFollowUp(ctx, a); err != nil {
			s.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("follow-up not booked")
		} else {
			a.FollowupAppointmentID = &fu.ID
			if err := s.repo.Update(ctx, a); err != nil {
				s.log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("record follow-up link")
			}
		}
	}
	return a, nil
}

func (s *Service) createFollowUp(ctx context.Context, a *Appointment) (*Appointment, error) {
	day, err := ParseDate(a.Date)
	if err != nil {
		return nil, err
	}
	date := day.AddDate(0, 0, s.cfg.FollowUpDays).Format("2006-01-02")

	return s.create(ctx, CreateInput{
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		Date:        date,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		DiagnosisID: a.DiagnosisID,
	}, notify.EventFollowUpScheduled)
}

// Cancel cancels a scheduled appointment. The reason is mandatory and the
// acting user is recorded. When the appointment is the diagnosis's current
// associated appointment the reference is cleared, never cascaded.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (*Appointment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: cancel reason is required", ErrValidation)
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, a.Status)
	}

	a.Status = StatusCancelled
	a.CancelledBy = &actorID
	a.CancelReason = &reason
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	if a.DiagnosisID != nil {
		if err := s.diagnoses.ClearAssociatedAppointment(ctx, *a.DiagnosisID, a.ID); err != nil {
			s.log.Error().Err(err).
				Str("appointment_id", a.ID.String()).
				Str("diagnosis_id", a.DiagnosisID.String()).
				Msg("clear diagnosis appointment reference")
		}
	}

	s.notifier.Emit(notify.EventAppointmentCancelled, map[string]string{
		"appointment_id": a.ID.String(),
		"patient_id":     a.PatientID.String(),
		"date":           a.Date,
		"start_time":     a.StartTime,
	})
	return a, nil
}

// MarkNoShow marks a scheduled appointment as missed.
func (s *Service) MarkNoShow(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: cannot mark a %s appointment as no-show", ErrInvalidTransition, a.Status)
	}

	a.Status = StatusNoShow
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.notifier.Emit(notify.EventAppointmentNoShow, map[string]string{
		"appointment_id": a.ID.String(),
		"doctor_id":      a.DoctorID.String(),
		"date":           a.Date,
		"start_time":     a.StartTime,
	})
	return a, nil
}

// UpdateInput carries editable fields; empty strings leave a field unchanged.
type UpdateInput struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	PreNotes  string `json:"pre_notes"`
	PostNotes string `json:"post_notes"`
	VersionID int    `json:"version_id"`
}

// Update edits notes and, for scheduled appointments, the slot. A slot change
// is re-validated against availability and overlap.
func (s *Service) Update(ctx context.Context, id, actorID uuid.UUID, in UpdateInput) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.VersionID > 0 && in.VersionID != a.VersionID {
		return nil, ErrConcurrentModification
	}

	slotChanged := false
	if in.Date != "" && in.Date != a.Date {
		if _, err := ParseDate(in.Date); err != nil {
			return nil, err
		}
		a.Date = in.Date
		slotChanged = true
	}
	if in.StartTime != "" && in.StartTime != a.StartTime {
		if _, err := ParseClock(in.StartTime); err != nil {
			return nil, err
		}
		// Moving only the start keeps the appointment's current length; an
		// explicit end in the same request overrides it below.
		length, err := slotLength(a.StartTime, a.EndTime)
		if err != nil {
			return nil, err
		}
		a.StartTime = in.StartTime
		end, _, err := AddMinutes(in.StartTime, length)
		if err != nil {
			return nil, err
		}
		a.EndTime = end
		slotChanged = true
	}
	if in.EndTime != "" && in.EndTime != a.EndTime {
		if _, err := ParseClock(in.EndTime); err != nil {
			return nil, err
		}
		a.EndTime = in.EndTime
		slotChanged = true
	}
	if slotChanged {
		if a.Status != StatusScheduled {
			return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, a.Status)
		}
		length, err := slotLength(a.StartTime, a.EndTime)
		if err != nil {
			return nil, err
		}
		if err := validateLength(length); err != nil {
			return nil, err
		}
		available, err := s.slots.IsAvailable(ctx, a.DoctorID, a.Date, a.StartTime, a.EndTime)
		if err != nil {
			return nil, fmt.Errorf("check availability: %w", err)
		}
		if !available {
			return nil, fmt.Errorf("%w: outside doctor availability", ErrSlotUnavailable)
		}
		if err := s.checkOverlap(ctx, a.DoctorID, a.Date, a.StartTime, a.EndTime, a.ID); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(in.PreNotes) != "" {
		notes := in.PreNotes
		a.PreNotes = &notes
	}
	if strings.TrimSpace(in.PostNotes) != "" {
		notes := in.PostNotes
		a.PostNotes = &notes
	}

	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// checkOverlap rejects a slot colliding with another scheduled appointment
// for the doctor on that date. The unique index still guards the race for
// identical start times; this catches partial overlaps up front.
func (s *Service) checkOverlap(ctx context.Context, doctorID uuid.UUID, date, startTime, endTime string, excludeID uuid.UUID) error {
	existing, err := s.repo.ListScheduledByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return fmt.Errorf("list scheduled appointments: %w", err)
	}
	start, err := ParseClock(startTime)
	if err != nil {
		return err
	}
	end, err := ParseClock(endTime)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		os, err1 := ParseClock(other.StartTime)
		oe, err2 := ParseClock(other.EndTime)
		if err1 != nil || err2 != nil {
			continue
		}
		if overlaps(start, end, os, oe) {
			return fmt.Errorf("%w: overlaps appointment at %s", ErrSlotUnavailable, other.StartTime)
		}
	}
	return nil
}
