package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/domain/diagnosis"
	"github.com/careflow/careflow/internal/platform/blobstore"
	"github.com/careflow/careflow/internal/platform/notify"
)

// Analyzer produces an AI summary for an uploaded report. Implemented by the
// consultant gateway.
type Analyzer interface {
	AnalyzeReport(ctx context.Context, name, reportType string) (string, error)
}

// DiagnosisGating re-evaluates a diagnosis's completion gate after a review.
// Implemented by the diagnosis service.
type DiagnosisGating interface {
	ReevaluateGating(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo     Repository
	blobs    blobstore.Store
	analyzer Analyzer
	gating   DiagnosisGating
	notifier *notify.Emitter
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewService(repo Repository, blobs blobstore.Store, analyzer Analyzer, gating DiagnosisGating, notifier *notify.Emitter, log zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, analyzer: analyzer, gating: gating, notifier: notifier, log: log}
}

// UploadInput is the report metadata accompanying the file.
type UploadInput struct {
	PatientID     uuid.UUID
	DiagnosisID   *uuid.UUID
	AppointmentID *uuid.UUID
	Name          string
	Type          string
	MimeType      string
}

// Upload stores the file in the blob store and records the report with
// analysis pending.
func (s *Service) Upload(ctx context.Context, actorID uuid.UUID, in UploadInput, content io.Reader) (*Report, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := blobstore.ValidateContentType(in.MimeType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	meta, err := s.blobs.Upload(ctx, blobstore.Metadata{
		FileName:    in.Name,
		ContentType: in.MimeType,
		PatientID:   in.PatientID.String(),
		CreatedBy:   actorID.String(),
	}, content)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	r := &Report{
		PatientID:       in.PatientID,
		DiagnosisID:     in.DiagnosisID,
		AppointmentID:   in.AppointmentID,
		Name:            in.Name,
		Type:            in.Type,
		FileURL:         meta.URL,
		MimeType:        in.MimeType,
		UploadedDate:    time.Now().UTC(),
		AISummaryStatus: AnalysisPending,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	data := map[string]string{
		"report_id":   r.ID.String(),
		"report_name": r.Name,
	}
	if r.DiagnosisID != nil {
		data["diagnosis_id"] = r.DiagnosisID.String()
	}
	s.notifier.Emit(notify.EventReportUploaded, data)
	return r, nil
}

// RequestAnalysis moves a pending or failed report to processing, clears any
// stale summary, and dispatches the analysis in the background. The caller
// observes progress as status, never blocks on the analyzer.
func (s *Service) RequestAnalysis(ctx context.Context, id, actorID uuid.UUID) (*Report, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.AISummaryStatus != AnalysisPending && r.AISummaryStatus != AnalysisFailed {
		return nil, fmt.Errorf("%w: analysis is %s", ErrInvalidTransition, r.AISummaryStatus)
	}

	r.AISummaryStatus = AnalysisProcessing
	r.AISummary = nil
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.runAnalysis(r.ID, r.Name, r.Type)
	return r, nil
}

func (s *Service) runAnalysis(id uuid.UUID, name, reportType string) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	summary, analyzeErr := s.analyzer.AnalyzeReport(ctx, name, reportType)

	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("report_id", id.String()).Msg("load report after analysis")
		return
	}
	// A cancel or concurrent retry may have moved the status; that request
	// owns the outcome now.
	if r.AISummaryStatus != AnalysisProcessing {
		return
	}

	if analyzeErr != nil {
		r.AISummaryStatus = AnalysisFailed
	} else {
		r.AISummaryStatus = AnalysisCompleted
		r.AISummary = &summary
	}
	if err := s.repo.Update(ctx, r); err != nil {
		s.log.Error().Err(err).Str("report_id", id.String()).Msg("record analysis result")
		return
	}

	event := notify.EventAnalysisCompleted
	if analyzeErr != nil {
		event = notify.EventAnalysisFailed
		s.log.Warn().Err(analyzeErr).Str("report_id", id.String()).Msg("report analysis failed")
	}
	s.notifier.Emit(event, map[string]string{
		"report_id":   r.ID.String(),
		"report_name": r.Name,
	})
}

// CancelAnalysis aborts an in-flight analysis request, returning the report
// to pending so it can be retried. Terminal analysis states are immutable.
func (s *Service) CancelAnalysis(ctx context.Context, id, actorID uuid.UUID) (*Report, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.AISummaryStatus != AnalysisProcessing {
		return nil, fmt.Errorf("%w: analysis is %s", ErrInvalidTransition, r.AISummaryStatus)
	}
	r.AISummaryStatus = AnalysisPending
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Review records doctor notes and flips the review flag. The flag only
// moves false to true; the first flip re-evaluates the linked diagnosis's
// completion gate.
func (s *Service) Review(ctx context.Context, id, doctorID uuid.UUID, notes string) (*Report, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	first := !r.IsReviewed
	if strings.TrimSpace(notes) != "" {
		r.DoctorNotes = &notes
	}
	if first {
		r.IsReviewed = true
		now := time.Now().UTC()
		r.ReviewedAt = &now
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}

	if first {
		s.notifier.Emit(notify.EventReportReviewed, map[string]string{
			"report_id":   r.ID.String(),
			"report_name": r.Name,
			"patient_id":  r.PatientID.String(),
		})
		if r.DiagnosisID != nil {
			if err := s.gating.ReevaluateGating(ctx, *r.DiagnosisID); err != nil {
				s.log.Error().Err(err).
					Str("report_id", r.ID.String()).
					Str("diagnosis_id", r.DiagnosisID.String()).
					Msg("re-evaluate diagnosis gating")
			}
		}
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByDiagnosis(ctx context.Context, diagnosisID uuid.UUID) ([]*Report, error) {
	return s.repo.ListByDiagnosis(ctx, diagnosisID)
}

func (s *Service) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Report, error) {
	return s.repo.ListByAppointment(ctx, appointmentID)
}

// GatingReports satisfies the diagnosis state machine's report source.
func (s *Service) GatingReports(ctx context.Context, diagnosisID uuid.UUID) ([]diagnosis.GatingReport, error) {
	reports, err := s.repo.ListByDiagnosis(ctx, diagnosisID)
	if err != nil {
		return nil, err
	}
	out := make([]diagnosis.GatingReport, 0, len(reports))
	for _, r := range reports {
		out = append(out, diagnosis.GatingReport{Name: r.Name, Type: r.Type, IsReviewed: r.IsReviewed})
	}
	return out, nil
}

// OpenFile streams a stored blob, used to serve files from the memory
// backend in development.
func (s *Service) OpenFile(ctx context.Context, blobID string) (io.ReadCloser, *blobstore.Metadata, error) {
	return s.blobs.Download(ctx, blobID)
}

// Wait blocks until in-flight analysis jobs finish. Used on shutdown and in
// tests.
func (s *Service) Wait() { s.wg.Wait() }
