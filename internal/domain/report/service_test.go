package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/platform/blobstore"
	"github.com/careflow/careflow/internal/platform/notify"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Report
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]*Report)}
}

func (r *memRepo) Create(_ context.Context, rep *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep.ID = uuid.New()
	rep.VersionID = 1
	cp := *rep
	r.items[rep.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, rep *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[rep.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.VersionID != rep.VersionID {
		return ErrConcurrentModification
	}
	rep.VersionID++
	cp := *rep
	r.items[rep.ID] = &cp
	return nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Report
	for _, rep := range r.items {
		if rep.PatientID == patientID {
			cp := *rep
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

func (r *memRepo) ListByDiagnosis(_ context.Context, diagnosisID uuid.UUID) ([]*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Report
	for _, rep := range r.items {
		if rep.DiagnosisID != nil && *rep.DiagnosisID == diagnosisID {
			cp := *rep
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (r *memRepo) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Report
	for _, rep := range r.items {
		if rep.AppointmentID != nil && *rep.AppointmentID == appointmentID {
			cp := *rep
			items = append(items, &cp)
		}
	}
	return items, nil
}

type fakeAnalyzer struct {
	summary string
	fail    bool
}

func (f *fakeAnalyzer) AnalyzeReport(_ context.Context, _, _ string) (string, error) {
	if f.fail {
		return "", errors.New("engine down")
	}
	return f.summary, nil
}

type fakeGating struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (f *fakeGating) ReevaluateGating(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return nil
}

func (f *fakeGating) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	analyzer *fakeAnalyzer
	gating   *fakeGating
	sink     *notify.RecordingSink
	emitter  *notify.Emitter
}

func newFixture() *fixture {
	repo := newMemRepo()
	analyzer := &fakeAnalyzer{summary: "no abnormal findings"}
	gating := &fakeGating{}
	sink := notify.NewRecordingSink()
	emitter := notify.NewEmitter(sink, zerolog.Nop())
	blobs := blobstore.NewMemoryStore("http://localhost:8080/api/v1/files")
	return &fixture{
		svc:      NewService(repo, blobs, analyzer, gating, emitter, zerolog.Nop()),
		repo:     repo,
		analyzer: analyzer,
		gating:   gating,
		sink:     sink,
		emitter:  emitter,
	}
}

func (f *fixture) upload(t *testing.T, diagnosisID *uuid.UUID) *Report {
	t.Helper()
	r, err := f.svc.Upload(context.Background(), uuid.New(), UploadInput{
		PatientID:   uuid.New(),
		DiagnosisID: diagnosisID,
		Name:        "blood panel",
		Type:        "Complete Blood Count",
		MimeType:    "application/pdf",
	}, strings.NewReader("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return r
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestUploadStartsPending(t *testing.T) {
	f := newFixture()
	r := f.upload(t, nil)

	if r.AISummaryStatus != AnalysisPending {
		t.Errorf("status = %s, want pending", r.AISummaryStatus)
	}
	if r.FileURL == "" {
		t.Error("file url missing")
	}
	if r.IsReviewed {
		t.Error("new report must not be reviewed")
	}
}

func TestUploadValidation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Upload(context.Background(), uuid.New(), UploadInput{
		PatientID: uuid.New(),
		Name:      "x",
		MimeType:  "application/x-msdownload",
	}, strings.NewReader("data"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bad mime type, got %v", err)
	}

	_, err = f.svc.Upload(context.Background(), uuid.New(), UploadInput{
		PatientID: uuid.New(),
		MimeType:  "application/pdf",
	}, strings.NewReader("data"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing name, got %v", err)
	}
}

func TestRequestAnalysisCompletes(t *testing.T) {
	f := newFixture()
	r := f.upload(t, nil)

	r, err := f.svc.RequestAnalysis(context.Background(), r.ID, r.PatientID)
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if r.AISummaryStatus != AnalysisProcessing {
		t.Errorf("status = %s, want processing", r.AISummaryStatus)
	}
	f.svc.Wait()

	stored, _ := f.repo.GetByID(context.Background(), r.ID)
	if stored.AISummaryStatus != AnalysisCompleted {
		t.Errorf("status = %s, want completed", stored.AISummaryStatus)
	}
	if stored.AISummary == nil || *stored.AISummary != "no abnormal findings" {
		t.Errorf("summary = %v", stored.AISummary)
	}
}

func TestRequestAnalysisWhileProcessingRejected(t *testing.T) {
	f := newFixture()
	r := f.upload(t, nil)

	if _, err := f.svc.RequestAnalysis(context.Background(), r.ID, r.PatientID); err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	// Whether the first job is still processing or already completed, a
	// second request is not legal; only pending or failed may start one.
	_, err := f.svc.RequestAnalysis(context.Background(), r.ID, r.PatientID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	f.svc.Wait()
}

func TestRetryAfterFailureClearsStaleSummary(t *testing.T) {
	f := newFixture()
	r := f.upload(t, nil)

	// Seed a failed report that somehow kept a summary.
	stored, _ := f.repo.GetByID(context.Background(), r.ID)
	stale := "stale summary"
	stored.AISummaryStatus = AnalysisFailed
	stored.AISummary = &stale
	if err := f.repo.Update(context.Background(), stored); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r, err := f.svc.RequestAnalysis(context.Background(), r.ID, r.PatientID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if r.AISummaryStatus != AnalysisProcessing {
		t.Errorf("status = %s, want processing", r.AISummaryStatus)
	}
	if r.AISummary != nil {
		t.Errorf("stale summary not cleared: %v", *r.AISummary)
	}
	f.svc.Wait()
}

func TestAnalysisFailureIsRetriable(t *testing.T) {
	f := newFixture()
	f.analyzer.fail = true
	r := f.upload(t, nil)

	if _, err := f.svc.RequestAnalysis(context.Background(), r.ID, r.PatientID); err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	f.svc.Wait()

	stored, _ := f.repo.GetByID(context.Background(), r.ID)
	if stored.AISummaryStatus != AnalysisFailed {
		t.Fatalf("status = %s, want failed", stored.AISummaryStatus)
	}

	f.analyzer.fail = false
	if _, err := f.svc.RequestAnalysis(context.Background(), r.ID, r.PatientID); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	f.svc.Wait()
	stored, _ = f.repo.GetByID(context.Background(), r.ID)
	if stored.AISummaryStatus != AnalysisCompleted {
		t.Errorf("status = %s, want completed", stored.AISummaryStatus)
	}
}

func TestCancelAnalysisBeforeTerminal(t *testing.T) {
	f := newFixture()
	r := f.upload(t, nil)

	if _, err := f.svc.CancelAnalysis(context.Background(), r.ID, r.PatientID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel on pending must fail, got %v", err)
	}

	if _, err := f.svc.RequestAnalysis(context.Background(), r.ID, r.PatientID); err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	r2, err := f.svc.CancelAnalysis(context.Background(), r.ID, r.PatientID)
	if err != nil {
		// The background job can win the race and finish first; then the
		// status is terminal and cancel correctly rejects.
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("CancelAnalysis: %v", err)
		}
		f.svc.Wait()
		return
	}
	if r2.AISummaryStatus != AnalysisPending {
		t.Errorf("status = %s, want pending after cancel", r2.AISummaryStatus)
	}
	f.svc.Wait()
	stored, _ := f.repo.GetByID(context.Background(), r.ID)
	if stored.AISummaryStatus == AnalysisCompleted && stored.VersionID > r2.VersionID {
		t.Error("late analysis result overwrote a cancelled request")
	}
}

func TestReviewFlipsOnceAndReevaluatesGating(t *testing.T) {
	f := newFixture()
	diagID := uuid.New()
	r := f.upload(t, &diagID)

	r, err := f.svc.Review(context.Background(), r.ID, uuid.New(), "looks unremarkable")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !r.IsReviewed || r.ReviewedAt == nil {
		t.Errorf("review state not set: %+v", r)
	}
	if f.gating.callCount() != 1 {
		t.Fatalf("expected 1 gating re-evaluation, got %d", f.gating.callCount())
	}
	firstReviewedAt := *r.ReviewedAt

	// Second review only updates notes; the flag and timestamp stay, and
	// gating is not re-run.
	r, err = f.svc.Review(context.Background(), r.ID, uuid.New(), "addendum")
	if err != nil {
		t.Fatalf("second Review: %v", err)
	}
	if !r.IsReviewed {
		t.Error("is_reviewed must never flip back")
	}
	if !r.ReviewedAt.Equal(firstReviewedAt) {
		t.Error("reviewed_at must not change on re-review")
	}
	if *r.DoctorNotes != "addendum" {
		t.Errorf("notes = %s", *r.DoctorNotes)
	}
	if f.gating.callCount() != 1 {
		t.Errorf("gating re-ran on a non-flip review: %d calls", f.gating.callCount())
	}
}

func TestGatingReportsProjection(t *testing.T) {
	f := newFixture()
	diagID := uuid.New()
	r := f.upload(t, &diagID)
	f.upload(t, nil) // unrelated report

	if _, err := f.svc.Review(context.Background(), r.ID, uuid.New(), ""); err != nil {
		t.Fatalf("Review: %v", err)
	}

	gr, err := f.svc.GatingReports(context.Background(), diagID)
	if err != nil {
		t.Fatalf("GatingReports: %v", err)
	}
	if len(gr) != 1 {
		t.Fatalf("expected 1 gating report, got %d", len(gr))
	}
	if gr[0].Type != "Complete Blood Count" || !gr[0].IsReviewed {
		t.Errorf("projection wrong: %+v", gr[0])
	}
}
