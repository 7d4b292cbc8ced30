// Package report implements report intake and review: uploads into the blob
// store, asynchronous AI analysis, and the doctor review that feeds diagnosis
// gating.
package report

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("report not found")
	ErrInvalidTransition      = errors.New("operation not allowed in current analysis status")
	ErrConcurrentModification = errors.New("report was modified concurrently")
)

// AnalysisStatus is the AI summary lifecycle of a report.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// Report is an uploaded document or image plus its analysis and review state.
// DiagnosisID and AppointmentID are weak references; IsReviewed only ever
// moves false to true.
type Report struct {
	ID              uuid.UUID      `json:"id"`
	PatientID       uuid.UUID      `json:"patient_id"`
	DiagnosisID     *uuid.UUID     `json:"diagnosis_id,omitempty"`
	AppointmentID   *uuid.UUID     `json:"appointment_id,omitempty"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	FileURL         string         `json:"file_url"`
	MimeType        string         `json:"mime_type"`
	UploadedDate    time.Time      `json:"uploaded_date"`
	AISummaryStatus AnalysisStatus `json:"ai_summary_status"`
	AISummary       *string        `json:"ai_summary,omitempty"`
	IsReviewed      bool           `json:"is_reviewed"`
	DoctorNotes     *string        `json:"doctor_notes,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
	VersionID       int            `json:"version_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
