package diagnosis

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for diagnoses. GetByID returns the
// entity hydrated with its conversation and tests. Update and UpdateWithTests
// perform an optimistic version check and return ErrConcurrentModification
// when the stored version does not match.
type Repository interface {
	Create(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error)

	AppendTurn(ctx context.Context, t *Turn) error

	Update(ctx context.Context, d *Diagnosis) error
	UpdateWithTests(ctx context.Context, d *Diagnosis, tests []*RequiredTest) error

	SetAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error
	ClearAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error
}
