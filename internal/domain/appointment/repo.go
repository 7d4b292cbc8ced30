package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for appointments. Create returns
// ErrSlotUnavailable when the doctor/date/start uniqueness constraint for
// scheduled appointments is violated; Update performs an optimistic version
// check and returns ErrConcurrentModification on a stale version.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error

	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListScheduledByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error)
}
