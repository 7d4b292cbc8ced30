package report

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for reports. Update performs an
// optimistic version check and returns ErrConcurrentModification on a stale
// version.
type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error)
	ListByDiagnosis(ctx context.Context, diagnosisID uuid.UUID) ([]*Report, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Report, error)
}
