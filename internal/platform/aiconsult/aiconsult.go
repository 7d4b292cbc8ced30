// Package aiconsult adapts the external AI symptom-analysis engine to the
// care workflow. The engine is a black box reached over HTTP; a deterministic
// rule-based consultant stands in for it in development and tests.
package aiconsult

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned when the upstream engine cannot be reached or
// answers with a non-2xx status. Callers degrade gracefully: the triggering
// write still succeeds and the affected field stays pending.
var ErrUnavailable = errors.New("ai consultant unavailable")

// Turn is one entry of a diagnosis conversation transcript.
type Turn struct {
	Role    string `json:"role"` // "patient" or "ai"
	Message string `json:"message"`
}

// SuggestedTest is a diagnostic test proposed by the engine.
type SuggestedTest struct {
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	Priority string `json:"priority"` // low, medium, high
}

// SuggestedDoctor is the engine's referral proposal.
type SuggestedDoctor struct {
	DoctorID string `json:"doctor_id"`
	Reason   string `json:"reason"`
}

// Assessment is the engine's structured view of a transcript.
type Assessment struct {
	Summary         string           `json:"summary"`
	SuggestedTests  []SuggestedTest  `json:"suggested_tests"`
	SuggestedDoctor *SuggestedDoctor `json:"suggested_doctor,omitempty"`
}

// Consultant is the contract the care workflow consumes. Implementations must
// be safe for concurrent use.
type Consultant interface {
	// Reply produces the next AI conversation turn for a transcript.
	Reply(ctx context.Context, transcript []Turn) (string, error)
	// Assess produces the final structured assessment of a transcript.
	Assess(ctx context.Context, transcript []Turn) (*Assessment, error)
	// AnalyzeReport summarises an uploaded report given its name and type.
	AnalyzeReport(ctx context.Context, name, reportType string) (string, error)
}

// ---------------------------------------------------------------------------
// Rule-based consultant
// ---------------------------------------------------------------------------

// rule maps symptom keywords to a canned suggestion.
type rule struct {
	keywords []string
	test     SuggestedTest
}

var defaultRules = []rule{
	{
		keywords: []string{"chest", "heart", "palpitation"},
		test:     SuggestedTest{Name: "ECG", Reason: "Cardiac symptoms reported", Priority: "high"},
	},
	{
		keywords: []string{"headache", "dizzy", "migraine"},
		test:     SuggestedTest{Name: "Head CT", Reason: "Persistent neurological symptoms", Priority: "medium"},
	},
	{
		keywords: []string{"fever", "fatigue", "infection"},
		test:     SuggestedTest{Name: "Complete Blood Count", Reason: "Rule out infection", Priority: "high"},
	},
	{
		keywords: []string{"cough", "breath", "wheez"},
		test:     SuggestedTest{Name: "Chest X-Ray", Reason: "Respiratory symptoms reported", Priority: "medium"},
	},
	{
		keywords: []string{"stomach", "abdominal", "nausea"},
		test:     SuggestedTest{Name: "Abdominal Ultrasound", Reason: "Abdominal complaints", Priority: "low"},
	},
}

// RuleBased is a deterministic Consultant used when no engine URL is
// configured. Suggestions are keyword matches over the patient turns.
type RuleBased struct{}

// NewRuleBased returns the built-in rule-based consultant.
func NewRuleBased() *RuleBased { return &RuleBased{} }

func (r *RuleBased) Reply(_ context.Context, transcript []Turn) (string, error) {
	if len(transcript) == 0 {
		return "Hello, please describe your symptoms.", nil
	}
	if len(r.matchTests(transcript)) > 0 {
		return "Thank you. Based on what you describe, some diagnostic tests may help. You can complete the consultation to have a doctor review them.", nil
	}
	return "I see. Could you tell me more about when the symptoms started and how severe they are?", nil
}

func (r *RuleBased) Assess(_ context.Context, transcript []Turn) (*Assessment, error) {
	tests := r.matchTests(transcript)
	summary := summarise(transcript, tests)

	a := &Assessment{Summary: summary, SuggestedTests: tests}
	// High-priority findings get a general practitioner referral; the doctor
	// remains free to reassign.
	for _, t := range tests {
		if t.Priority == "high" {
			a.SuggestedDoctor = &SuggestedDoctor{
				DoctorID: "",
				Reason:   "High-priority findings need doctor review",
			}
			break
		}
	}
	return a, nil
}

func (r *RuleBased) AnalyzeReport(_ context.Context, name, reportType string) (string, error) {
	if reportType == "" {
		return "Document " + name + " uploaded; no automated findings.", nil
	}
	return "Automated review of " + strings.ToLower(reportType) + " report " + name + ": no critical values detected. Doctor review recommended.", nil
}

func (r *RuleBased) matchTests(transcript []Turn) []SuggestedTest {
	var text strings.Builder
	for _, t := range transcript {
		if t.Role == "patient" {
			text.WriteString(strings.ToLower(t.Message))
			text.WriteString(" ")
		}
	}
	corpus := text.String()

	var tests []SuggestedTest
	for _, rl := range defaultRules {
		for _, kw := range rl.keywords {
			if strings.Contains(corpus, kw) {
				tests = append(tests, rl.test)
				break
			}
		}
	}
	return tests
}

func summarise(transcript []Turn, tests []SuggestedTest) string {
	patientTurns := 0
	for _, t := range transcript {
		if t.Role == "patient" {
			patientTurns++
		}
	}
	var b strings.Builder
	b.WriteString("Patient reported symptoms over ")
	switch patientTurns {
	case 0, 1:
		b.WriteString("a single message")
	default:
		b.WriteString("the conversation")
	}
	b.WriteString(".")
	if len(tests) > 0 {
		names := make([]string, len(tests))
		for i, t := range tests {
			names[i] = t.Name
		}
		b.WriteString(" Suggested tests: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".")
	} else {
		b.WriteString(" No diagnostic tests indicated from the transcript.")
	}
	return b.String()
}
