package diagnosis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed diagnosis repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const diagCols = `id, patient_id, status, ai_summary,
	suggested_doctor_id, suggested_doctor_reason, suggested_doctor_confirmed,
	final_doctor_id, doctor_notes, associated_appointment_id,
	version_id, created_at, updated_at`

func scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	err := row.Scan(&d.ID, &d.PatientID, &d.Status, &d.AISummary,
		&d.SuggestedDoctorID, &d.SuggestedDoctorReason, &d.SuggestedDoctorConfirmed,
		&d.FinalDoctorID, &d.DoctorNotes, &d.AssociatedAppointmentID,
		&d.VersionID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Diagnosis) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	d.ID = uuid.New()
	d.VersionID = 1
	_, err = tx.Exec(ctx, `
		INSERT INTO diagnosis (id, patient_id, status, ai_summary,
			suggested_doctor_id, suggested_doctor_reason, suggested_doctor_confirmed,
			final_doctor_id, doctor_notes, associated_appointment_id, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.PatientID, d.Status, d.AISummary,
		d.SuggestedDoctorID, d.SuggestedDoctorReason, d.SuggestedDoctorConfirmed,
		d.FinalDoctorID, d.DoctorNotes, d.AssociatedAppointmentID, d.VersionID)
	if err != nil {
		return err
	}
	for _, t := range d.Conversation {
		t.ID = uuid.New()
		t.DiagnosisID = d.ID
		if err := insertTurn(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, t := range d.Tests {
		t.DiagnosisID = d.ID
		if err := insertTest(ctx, tx, t); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	d, err := scanDiagnosis(r.pool.QueryRow(ctx, `SELECT `+diagCols+` FROM diagnosis WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *repoPG) hydrate(ctx context.Context, d *Diagnosis) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, diagnosis_id, seq, role, message, attachments, correlation_id, created_at
		FROM diagnosis_turn WHERE diagnosis_id = $1 ORDER BY seq`, d.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.DiagnosisID, &t.Seq, &t.Role, &t.Message,
			&t.Attachments, &t.CorrelationID, &t.CreatedAt); err != nil {
			return err
		}
		d.Conversation = append(d.Conversation, &t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	trows, err := r.pool.Query(ctx, `
		SELECT id, diagnosis_id, name, reason, priority, is_approved, source, created_at
		FROM required_test WHERE diagnosis_id = $1 ORDER BY created_at, id`, d.ID)
	if err != nil {
		return err
	}
	defer trows.Close()
	for trows.Next() {
		var t RequiredTest
		if err := trows.Scan(&t.ID, &t.DiagnosisID, &t.Name, &t.Reason,
			&t.Priority, &t.IsApproved, &t.Source, &t.CreatedAt); err != nil {
			return err
		}
		d.Tests = append(d.Tests, &t)
	}
	return trows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM diagnosis WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+diagCols+` FROM diagnosis
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, d := range items {
		if err := r.hydrate(ctx, d); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func insertTurn(ctx context.Context, q queryable, t *Turn) error {
	return q.QueryRow(ctx, `
		INSERT INTO diagnosis_turn (id, diagnosis_id, seq, role, message, attachments, correlation_id)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM diagnosis_turn WHERE diagnosis_id = $2),
			$3, $4, $5, $6)
		RETURNING seq, created_at`,
		t.ID, t.DiagnosisID, t.Role, t.Message, t.Attachments, t.CorrelationID).
		Scan(&t.Seq, &t.CreatedAt)
}

func insertTest(ctx context.Context, q queryable, t *RequiredTest) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return q.QueryRow(ctx, `
		INSERT INTO required_test (id, diagnosis_id, name, reason, priority, is_approved, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		t.ID, t.DiagnosisID, t.Name, t.Reason, t.Priority, t.IsApproved, t.Source).
		Scan(&t.CreatedAt)
}

func (r *repoPG) AppendTurn(ctx context.Context, t *Turn) error {
	t.ID = uuid.New()
	return insertTurn(ctx, r.pool, t)
}

const diagUpdateSQL = `
	UPDATE diagnosis SET status=$3, ai_summary=$4,
		suggested_doctor_id=$5, suggested_doctor_reason=$6, suggested_doctor_confirmed=$7,
		final_doctor_id=$8, doctor_notes=$9, associated_appointment_id=$10,
		version_id = version_id + 1, updated_at = NOW()
	WHERE id = $1 AND version_id = $2`

func diagUpdateArgs(d *Diagnosis) []interface{} {
	return []interface{}{
		d.ID, d.VersionID, d.Status, d.AISummary,
		d.SuggestedDoctorID, d.SuggestedDoctorReason, d.SuggestedDoctorConfirmed,
		d.FinalDoctorID, d.DoctorNotes, d.AssociatedAppointmentID,
	}
}

func (r *repoPG) Update(ctx context.Context, d *Diagnosis) error {
	tag, err := r.pool.Exec(ctx, diagUpdateSQL, diagUpdateArgs(d)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return staleOrMissing(ctx, r.pool, d.ID)
	}
	d.VersionID++
	return nil
}

// UpdateWithTests replaces the diagnosis row and its full test list in one
// transaction so a doctor merge is all-or-nothing.
func (r *repoPG) UpdateWithTests(ctx context.Context, d *Diagnosis, tests []*RequiredTest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, diagUpdateSQL, diagUpdateArgs(d)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return staleOrMissing(ctx, tx, d.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM required_test WHERE diagnosis_id = $1`, d.ID); err != nil {
		return err
	}
	for _, t := range tests {
		t.DiagnosisID = d.ID
		if err := insertTest(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	d.VersionID++
	d.Tests = tests
	return nil
}

func (r *repoPG) SetAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE diagnosis SET associated_appointment_id = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1`, diagnosisID, appointmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearAssociatedAppointment nulls the back-reference only when it still
// points at the given appointment. Clearing never cascades.
func (r *repoPG) ClearAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE diagnosis SET associated_appointment_id = NULL, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND associated_appointment_id = $2`, diagnosisID, appointmentID)
	return err
}

// staleOrMissing distinguishes a version conflict from a missing row after a
// zero-row update.
func staleOrMissing(ctx context.Context, q queryable, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM diagnosis WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check diagnosis existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConcurrentModification
}
