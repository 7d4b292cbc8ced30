// Package diagnosis implements the diagnosis lifecycle: the conversation log,
// the required-test registry, and the state machine that moves a diagnosis
// from AI triage through doctor review to completion.
package diagnosis

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a diagnosis.
type Status string

const (
	StatusOngoing             Status = "ongoing"
	StatusPendingDoctorReview Status = "pending_doctor_review"
	StatusPendingReports      Status = "pending_reports"
	StatusCompleted           Status = "completed"
)

// Conversation roles.
const (
	RolePatient = "patient"
	RoleAI      = "ai"
)

// Test priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Test sources.
const (
	SourceAISuggested = "ai-suggested"
	SourceDoctorAdded = "doctor-added"
)

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityMedium: true, PriorityHigh: true,
}

// Turn is one entry of the append-only conversation log. CorrelationID echoes
// a client-supplied id so optimistic local entries can be reconciled.
type Turn struct {
	ID            uuid.UUID `json:"id"`
	DiagnosisID   uuid.UUID `json:"diagnosis_id"`
	Seq           int       `json:"seq"`
	Role          string    `json:"role"`
	Message       string    `json:"message"`
	Attachments   []string  `json:"attachments,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RequiredTest is a diagnostic test tracked for approval within a diagnosis.
// Name, reason and source are immutable after creation; doctor edits may only
// touch IsApproved and Priority.
type RequiredTest struct {
	ID          uuid.UUID `json:"id"`
	DiagnosisID uuid.UUID `json:"diagnosis_id"`
	Name        string    `json:"name"`
	Reason      string    `json:"reason"`
	Priority    string    `json:"priority"`
	IsApproved  bool      `json:"is_approved"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsGating reports whether this test blocks diagnosis completion.
func (t *RequiredTest) IsGating() bool {
	return t.Priority == PriorityHigh && t.IsApproved
}

// Diagnosis is the root entity of one triage episode. It owns its conversation
// and required-test list; appointment and report references are weak.
type Diagnosis struct {
	ID                       uuid.UUID  `json:"id"`
	PatientID                uuid.UUID  `json:"patient_id"`
	Status                   Status     `json:"status"`
	AISummary                *string    `json:"ai_summary,omitempty"`
	SuggestedDoctorID        *uuid.UUID `json:"suggested_doctor_id,omitempty"`
	SuggestedDoctorReason    *string    `json:"suggested_doctor_reason,omitempty"`
	SuggestedDoctorConfirmed bool       `json:"suggested_doctor_confirmed"`
	FinalDoctorID            *uuid.UUID `json:"final_doctor_id,omitempty"`
	DoctorNotes              *string    `json:"doctor_notes,omitempty"`
	AssociatedAppointmentID  *uuid.UUID `json:"associated_appointment_id,omitempty"`
	VersionID                int        `json:"version_id"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`

	Conversation []*Turn         `json:"conversation_history"`
	Tests        []*RequiredTest `json:"suggested_tests"`
}

// Transcript returns the conversation as (role, message) pairs in order.
func (d *Diagnosis) Transcript() []*Turn { return d.Conversation }

// TestByID finds a required test by id, nil when absent.
func (d *Diagnosis) TestByID(id uuid.UUID) *RequiredTest {
	for _, t := range d.Tests {
		if t.ID == id {
			return t
		}
	}
	return nil
}
