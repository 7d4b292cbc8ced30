package diagnosis

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func sampleTests() []*RequiredTest {
	return []*RequiredTest{
		{ID: uuid.New(), Name: "ECG", Reason: "cardiac", Priority: PriorityHigh, IsApproved: false, Source: SourceAISuggested},
		{ID: uuid.New(), Name: "Chest X-Ray", Reason: "cough", Priority: PriorityMedium, IsApproved: true, Source: SourceAISuggested},
		{ID: uuid.New(), Name: "Vitamin Panel", Reason: "fatigue", Priority: PriorityLow, IsApproved: true, Source: SourceDoctorAdded},
	}
}

func TestMergeOverwritesOnlyApprovalAndPriority(t *testing.T) {
	existing := sampleTests()
	edits := []TestEdit{
		{ID: existing[0].ID, IsApproved: true, Priority: PriorityMedium},
		{ID: existing[1].ID, IsApproved: false, Priority: PriorityMedium},
		{ID: existing[2].ID, IsApproved: true, Priority: PriorityLow},
	}

	merged, err := MergeDoctorEdits(existing, edits, nil)
	if err != nil {
		t.Fatalf("MergeDoctorEdits: %v", err)
	}
	if len(merged) != 3 {
		t.Fatalf("expected 3 tests, got %d", len(merged))
	}
	if !merged[0].IsApproved || merged[0].Priority != PriorityMedium {
		t.Errorf("edit not applied: %+v", merged[0])
	}
	if merged[0].Name != "ECG" || merged[0].Reason != "cardiac" || merged[0].Source != SourceAISuggested {
		t.Errorf("immutable fields changed: %+v", merged[0])
	}
	// Inputs must not be mutated.
	if existing[0].IsApproved {
		t.Error("merge mutated the existing slice")
	}
}

func TestMergeUnknownTestAborts(t *testing.T) {
	existing := sampleTests()
	edits := []TestEdit{
		{ID: existing[0].ID, IsApproved: true, Priority: PriorityHigh},
		{ID: uuid.New(), IsApproved: true, Priority: PriorityHigh},
	}
	if _, err := MergeDoctorEdits(existing, edits, nil); !errors.Is(err, ErrUnknownTest) {
		t.Fatalf("expected ErrUnknownTest, got %v", err)
	}
}

func TestMergeNeverDeletesAISuggested(t *testing.T) {
	existing := sampleTests()
	// Submission omits the two ai-suggested tests and the doctor-added one.
	merged, err := MergeDoctorEdits(existing, nil, nil)
	if err != nil {
		t.Fatalf("MergeDoctorEdits: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 surviving tests, got %d", len(merged))
	}
	for _, m := range merged {
		if m.Source != SourceAISuggested {
			t.Errorf("only ai-suggested tests should survive omission, got %+v", m)
		}
	}
}

func TestMergeAppendsDoctorAdded(t *testing.T) {
	existing := sampleTests()
	edits := []TestEdit{
		{ID: existing[0].ID, IsApproved: false, Priority: PriorityHigh},
		{ID: existing[1].ID, IsApproved: true, Priority: PriorityMedium},
		{ID: existing[2].ID, IsApproved: true, Priority: PriorityLow},
	}
	added := []NewTest{{Name: "Liver Function", Reason: "medication history", Priority: PriorityHigh}}

	merged, err := MergeDoctorEdits(existing, edits, added)
	if err != nil {
		t.Fatalf("MergeDoctorEdits: %v", err)
	}
	last := merged[len(merged)-1]
	if last.Name != "Liver Function" || last.Source != SourceDoctorAdded || !last.IsApproved {
		t.Errorf("added test wrong: %+v", last)
	}
	if last.ID == uuid.Nil {
		t.Error("added test needs an id")
	}
}

func TestMergeValidation(t *testing.T) {
	existing := sampleTests()
	if _, err := MergeDoctorEdits(existing, []TestEdit{{ID: existing[0].ID, Priority: "urgent"}}, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bad priority, got %v", err)
	}
	if _, err := MergeDoctorEdits(existing, nil, []NewTest{{Name: "  ", Priority: PriorityLow}}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for blank name, got %v", err)
	}
}

func TestMergeRejectsNilAndDuplicateIDs(t *testing.T) {
	// A registry entry without a distinct id cannot be addressed by an edit;
	// merging over it would collapse entries into one.
	existing := []*RequiredTest{
		{ID: uuid.Nil, Name: "ECG", Priority: PriorityHigh, Source: SourceAISuggested},
		{ID: uuid.Nil, Name: "CBC", Priority: PriorityHigh, Source: SourceAISuggested},
	}
	if _, err := MergeDoctorEdits(existing, nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for nil test ids, got %v", err)
	}

	dup := uuid.New()
	existing = []*RequiredTest{
		{ID: dup, Name: "ECG", Priority: PriorityHigh, Source: SourceAISuggested},
		{ID: dup, Name: "CBC", Priority: PriorityHigh, Source: SourceAISuggested},
	}
	if _, err := MergeDoctorEdits(existing, nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for duplicate test ids, got %v", err)
	}
}

func TestSatisfiedBy(t *testing.T) {
	test := &RequiredTest{Name: "ECG", Priority: PriorityHigh, IsApproved: true}
	tests := []struct {
		name   string
		report GatingReport
		want   bool
	}{
		{"exact type match", GatingReport{Type: "ECG", IsReviewed: true}, true},
		{"case-insensitive", GatingReport{Type: "ecg", IsReviewed: true}, true},
		{"substring in type", GatingReport{Type: "12-lead ECG results", IsReviewed: true}, true},
		{"substring in name", GatingReport{Name: "ecg-2026-03.pdf", IsReviewed: true}, true},
		{"unreviewed never satisfies", GatingReport{Type: "ECG", IsReviewed: false}, false},
		{"unrelated report", GatingReport{Type: "MRI", Name: "brain scan", IsReviewed: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := test.SatisfiedBy(tt.report); got != tt.want {
				t.Errorf("SatisfiedBy(%+v) = %v, want %v", tt.report, got, tt.want)
			}
		})
	}
}

func TestAllGatingTestsSatisfied(t *testing.T) {
	tests := []*RequiredTest{
		{Name: "ECG", Priority: PriorityHigh, IsApproved: true},
		{Name: "Head CT", Priority: PriorityHigh, IsApproved: false}, // unapproved, not gating
		{Name: "Vitamin Panel", Priority: PriorityLow, IsApproved: true},
	}

	if AllGatingTestsSatisfied(tests, nil) {
		t.Error("ECG has no reviewed report, must not be satisfied")
	}
	reports := []GatingReport{{Type: "ECG", IsReviewed: true}}
	if !AllGatingTestsSatisfied(tests, reports) {
		t.Error("only the approved high-priority test gates completion")
	}
}

func TestAllGatingTestsSatisfiedNoGatingTests(t *testing.T) {
	tests := []*RequiredTest{
		{Name: "Vitamin Panel", Priority: PriorityLow, IsApproved: true},
	}
	if !AllGatingTestsSatisfied(tests, nil) {
		t.Error("no gating tests means trivially satisfied")
	}
}
