package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed report repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const reportCols = `id, patient_id, diagnosis_id, appointment_id, name, type,
	file_url, mime_type, uploaded_date, ai_summary_status, ai_summary,
	is_reviewed, doctor_notes, reviewed_at, version_id, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	err := row.Scan(&r.ID, &r.PatientID, &r.DiagnosisID, &r.AppointmentID, &r.Name, &r.Type,
		&r.FileURL, &r.MimeType, &r.UploadedDate, &r.AISummaryStatus, &r.AISummary,
		&r.IsReviewed, &r.DoctorNotes, &r.ReviewedAt, &r.VersionID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &r, err
}

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	rep.VersionID = 1
	_, err := r.pool.Exec(ctx, `
		INSERT INTO report (id, patient_id, diagnosis_id, appointment_id, name, type,
			file_url, mime_type, uploaded_date, ai_summary_status, ai_summary,
			is_reviewed, doctor_notes, reviewed_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rep.ID, rep.PatientID, rep.DiagnosisID, rep.AppointmentID, rep.Name, rep.Type,
		rep.FileURL, rep.MimeType, rep.UploadedDate, rep.AISummaryStatus, rep.AISummary,
		rep.IsReviewed, rep.DoctorNotes, rep.ReviewedAt, rep.VersionID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(r.pool.QueryRow(ctx, `SELECT `+reportCols+` FROM report WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, rep *Report) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE report SET name=$3, type=$4, ai_summary_status=$5, ai_summary=$6,
			is_reviewed=$7, doctor_notes=$8, reviewed_at=$9,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2`,
		rep.ID, rep.VersionID, rep.Name, rep.Type, rep.AISummaryStatus, rep.AISummary,
		rep.IsReviewed, rep.DoctorNotes, rep.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qerr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM report WHERE id = $1)`, rep.ID).Scan(&exists); qerr != nil {
			return fmt.Errorf("check report existence: %w", qerr)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	rep.VersionID++
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM report WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+reportCols+` FROM report
		WHERE patient_id = $1 ORDER BY uploaded_date DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListByDiagnosis(ctx context.Context, diagnosisID uuid.UUID) ([]*Report, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reportCols+` FROM report
		WHERE diagnosis_id = $1 ORDER BY uploaded_date DESC`, diagnosisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *repoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Report, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reportCols+` FROM report
		WHERE appointment_id = $1 ORDER BY uploaded_date DESC`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Report, error) {
	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rep)
	}
	return items, rows.Err()
}
