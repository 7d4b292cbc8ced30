package diagnosis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/platform/aiconsult"
	"github.com/careflow/careflow/internal/platform/notify"
)

// ReportSource supplies the reviewed-report state the gating check needs.
// Implemented by the report service; kept as an interface so this package
// never depends on report storage.
type ReportSource interface {
	GatingReports(ctx context.Context, diagnosisID uuid.UUID) ([]GatingReport, error)
}

// Service owns the diagnosis state machine. All mutating operations take an
// explicit actor id and follow validate, mutate, enqueue side effects, return.
type Service struct {
	repo       Repository
	consultant aiconsult.Consultant
	reports    ReportSource
	notifier   *notify.Emitter
	log        zerolog.Logger
}

func NewService(repo Repository, consultant aiconsult.Consultant, reports ReportSource, notifier *notify.Emitter, log zerolog.Logger) *Service {
	return &Service{repo: repo, consultant: consultant, reports: reports, notifier: notifier, log: log}
}

// Start opens a new diagnosis for the patient with the symptom description as
// the first conversation turn, then asks the consultant for an opening reply.
// Consultant failure degrades: the diagnosis is still created.
func (s *Service) Start(ctx context.Context, patientID uuid.UUID, symptomDescription string) (*Diagnosis, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if strings.TrimSpace(symptomDescription) == "" {
		return nil, fmt.Errorf("%w: symptom description is required", ErrValidation)
	}

	d := &Diagnosis{
		PatientID: patientID,
		Status:    StatusOngoing,
		Conversation: []*Turn{
			{Role: RolePatient, Message: symptomDescription},
		},
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create diagnosis: %w", err)
	}

	if reply, err := s.consultant.Reply(ctx, transcriptOf(d)); err != nil {
		s.log.Warn().Err(err).Str("diagnosis_id", d.ID.String()).Msg("consultant reply unavailable")
	} else {
		s.appendAITurn(ctx, d, reply)
	}
	return d, nil
}

// AppendMessage appends a patient turn and, when the consultant is reachable,
// the AI reply. Allowed in any non-completed status; never changes status.
func (s *Service) AppendMessage(ctx context.Context, id, actorID uuid.UUID, message string, attachments []string, correlationID string) (*Diagnosis, error) {
	if strings.TrimSpace(message) == "" && len(attachments) == 0 {
		return nil, fmt.Errorf("%w: message or attachments required", ErrValidation)
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: diagnosis is completed", ErrInvalidTransition)
	}

	turn := &Turn{
		DiagnosisID:   d.ID,
		Role:          RolePatient,
		Message:       message,
		Attachments:   attachments,
		CorrelationID: correlationID,
	}
	if err := s.repo.AppendTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	d.Conversation = append(d.Conversation, turn)

	if reply, err := s.consultant.Reply(ctx, transcriptOf(d)); err != nil {
		// The patient turn is already committed; the reply can come later.
		s.log.Warn().Err(err).Str("diagnosis_id", d.ID.String()).Msg("consultant reply unavailable")
	} else {
		s.appendAITurn(ctx, d, reply)
	}
	return d, nil
}

// Complete moves ongoing to pending_doctor_review. The consultant is invoked
// one final time to fill the summary, suggested tests and suggested doctor
// where absent; consultant failure leaves those fields empty but the
// transition still happens.
func (s *Service) Complete(ctx context.Context, id, actorID uuid.UUID) (*Diagnosis, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOngoing {
		return nil, fmt.Errorf("%w: cannot complete consultation from %s", ErrInvalidTransition, d.Status)
	}

	var newTests []*RequiredTest
	assessment, err := s.consultant.Assess(ctx, transcriptOf(d))
	if err != nil {
		s.log.Warn().Err(err).Str("diagnosis_id", d.ID.String()).Msg("consultant assessment unavailable")
	} else {
		if d.AISummary == nil && assessment.Summary != "" {
			summary := assessment.Summary
			d.AISummary = &summary
		}
		if len(d.Tests) == 0 {
			for _, st := range assessment.SuggestedTests {
				priority := st.Priority
				if !validPriorities[priority] {
					priority = PriorityMedium
				}
				newTests = append(newTests, &RequiredTest{
					ID:          uuid.New(),
					DiagnosisID: d.ID,
					Name:        st.Name,
					Reason:      st.Reason,
					Priority:    priority,
					Source:      SourceAISuggested,
				})
			}
		}
		if d.SuggestedDoctorID == nil && assessment.SuggestedDoctor != nil {
			if docID, perr := uuid.Parse(assessment.SuggestedDoctor.DoctorID); perr == nil {
				reason := assessment.SuggestedDoctor.Reason
				d.SuggestedDoctorID = &docID
				d.SuggestedDoctorReason = &reason
			}
		}
	}

	d.Status = StatusPendingDoctorReview
	if len(newTests) > 0 {
		err = s.repo.UpdateWithTests(ctx, d, append(d.Tests, newTests...))
	} else {
		err = s.repo.Update(ctx, d)
	}
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(notify.EventConsultationReady, map[string]string{
		"diagnosis_id": d.ID.String(),
		"patient_id":   d.PatientID.String(),
	})
	return d, nil
}

// Approve is the doctor's single state-changing write for
// pending_doctor_review: a full-replacement merge of test approvals plus
// added tests and notes. The diagnosis advances to pending_reports, or
// straight to completed when no gating test is unsatisfied.
// expectedVersion guards against concurrent doctor sessions; pass 0 to use
// the freshly loaded version.
func (s *Service) Approve(ctx context.Context, id, doctorID uuid.UUID, edits []TestEdit, added []NewTest, doctorNotes string, expectedVersion int) (*Diagnosis, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPendingDoctorReview {
		return nil, fmt.Errorf("%w: cannot approve from %s", ErrInvalidTransition, d.Status)
	}
	if expectedVersion > 0 && expectedVersion != d.VersionID {
		return nil, ErrConcurrentModification
	}

	merged, err := MergeDoctorEdits(d.Tests, edits, added)
	if err != nil {
		return nil, err
	}

	if doctorNotes != "" {
		d.DoctorNotes = &doctorNotes
	}
	next := StatusPendingReports
	satisfied, err := s.gatingSatisfied(ctx, d.ID, merged)
	if err != nil {
		return nil, err
	}
	if satisfied {
		next = StatusCompleted
	}
	d.Status = next

	if err := s.repo.UpdateWithTests(ctx, d, merged); err != nil {
		return nil, err
	}

	if next == StatusCompleted {
		s.notifier.Emit(notify.EventDiagnosisCompleted, map[string]string{
			"diagnosis_id": d.ID.String(),
			"patient_id":   d.PatientID.String(),
		})
	} else {
		s.notifier.Emit(notify.EventTestsApproved, map[string]string{
			"diagnosis_id": d.ID.String(),
			"patient_id":   d.PatientID.String(),
			"tests":        approvedTestNames(merged),
		})
	}
	return d, nil
}

// UpdateTests applies the same merge as Approve without a status transition.
func (s *Service) UpdateTests(ctx context.Context, id, doctorID uuid.UUID, edits []TestEdit, added []NewTest, expectedVersion int) (*Diagnosis, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: diagnosis is completed", ErrInvalidTransition)
	}
	if expectedVersion > 0 && expectedVersion != d.VersionID {
		return nil, ErrConcurrentModification
	}

	merged, err := MergeDoctorEdits(d.Tests, edits, added)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateWithTests(ctx, d, merged); err != nil {
		return nil, err
	}
	return d, nil
}

// SelectDoctor confirms the final doctor. Allowed only while the suggestion
// is unconfirmed; sets the final doctor and the confirmation flag atomically.
func (s *Service) SelectDoctor(ctx context.Context, id, actorID, doctorID uuid.UUID) (*Diagnosis, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.SuggestedDoctorConfirmed {
		return nil, ErrAlreadyConfirmed
	}

	d.FinalDoctorID = &doctorID
	d.SuggestedDoctorConfirmed = true
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ReevaluateGating is called whenever a linked report flips to reviewed. It
// completes a pending_reports diagnosis once every gating test is satisfied.
func (s *Service) ReevaluateGating(ctx context.Context, id uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != StatusPendingReports {
		return nil
	}
	satisfied, err := s.gatingSatisfied(ctx, d.ID, d.Tests)
	if err != nil {
		return err
	}
	if !satisfied {
		return nil
	}

	d.Status = StatusCompleted
	if err := s.repo.Update(ctx, d); err != nil {
		return err
	}
	s.notifier.Emit(notify.EventDiagnosisCompleted, map[string]string{
		"diagnosis_id": d.ID.String(),
		"patient_id":   d.PatientID.String(),
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// SetAssociatedAppointment records the most recent appointment reference.
func (s *Service) SetAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error {
	return s.repo.SetAssociatedAppointment(ctx, diagnosisID, appointmentID)
}

// ClearAssociatedAppointment drops the weak reference when the appointment it
// points at is cancelled. The diagnosis status is untouched.
func (s *Service) ClearAssociatedAppointment(ctx context.Context, diagnosisID, appointmentID uuid.UUID) error {
	return s.repo.ClearAssociatedAppointment(ctx, diagnosisID, appointmentID)
}

func (s *Service) gatingSatisfied(ctx context.Context, diagnosisID uuid.UUID, tests []*RequiredTest) (bool, error) {
	reports, err := s.reports.GatingReports(ctx, diagnosisID)
	if err != nil {
		return false, fmt.Errorf("load gating reports: %w", err)
	}
	return AllGatingTestsSatisfied(tests, reports), nil
}

func (s *Service) appendAITurn(ctx context.Context, d *Diagnosis, message string) {
	turn := &Turn{DiagnosisID: d.ID, Role: RoleAI, Message: message}
	if err := s.repo.AppendTurn(ctx, turn); err != nil {
		s.log.Error().Err(err).Str("diagnosis_id", d.ID.String()).Msg("append ai turn")
		return
	}
	d.Conversation = append(d.Conversation, turn)
}

func transcriptOf(d *Diagnosis) []aiconsult.Turn {
	out := make([]aiconsult.Turn, 0, len(d.Conversation))
	for _, t := range d.Conversation {
		out = append(out, aiconsult.Turn{Role: t.Role, Message: t.Message})
	}
	return out
}

func approvedTestNames(tests []*RequiredTest) string {
	var names []string
	for _, t := range tests {
		if t.IsApproved {
			names = append(names, t.Name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
