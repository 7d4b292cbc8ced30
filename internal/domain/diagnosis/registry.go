package diagnosis

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TestEdit is the doctor's submitted state for one existing required test.
// Submissions are full-replacement: the client sends the complete list, and
// only IsApproved and Priority are taken from it.
type TestEdit struct {
	ID         uuid.UUID `json:"id"`
	IsApproved bool      `json:"is_approved"`
	Priority   string    `json:"priority"`
}

// NewTest is a doctor-added test to append during a merge.
type NewTest struct {
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
}

// MergeDoctorEdits merges a doctor submission into the existing test list and
// returns the replacement list. Rules:
//
//   - an edit referencing a test id not in existing fails with ErrUnknownTest
//     and nothing is merged
//   - for edited tests only IsApproved and Priority change
//   - ai-suggested tests absent from the submission are kept unchanged, never
//     deleted
//   - doctor-added tests absent from the submission are removed
//   - added tests are appended with source doctor-added
func MergeDoctorEdits(existing []*RequiredTest, edits []TestEdit, added []NewTest) ([]*RequiredTest, error) {
	byID := make(map[uuid.UUID]*RequiredTest, len(existing))
	for _, t := range existing {
		// A registry entry without a distinct id cannot be addressed by an
		// edit, and a collision would make the merge last-write-wins.
		if t.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: registry test %q has no id", ErrValidation, t.Name)
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate test id %s", ErrValidation, t.ID)
		}
		byID[t.ID] = t
	}

	submitted := make(map[uuid.UUID]TestEdit, len(edits))
	for _, e := range edits {
		if _, ok := byID[e.ID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTest, e.ID)
		}
		if !validPriorities[e.Priority] {
			return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, e.Priority)
		}
		submitted[e.ID] = e
	}
	for _, n := range added {
		if strings.TrimSpace(n.Name) == "" {
			return nil, fmt.Errorf("%w: added test needs a name", ErrValidation)
		}
		if !validPriorities[n.Priority] {
			return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
		}
	}

	var merged []*RequiredTest
	for _, t := range existing {
		e, ok := submitted[t.ID]
		if !ok {
			if t.Source == SourceDoctorAdded {
				continue // doctor-added tests are removable pre-completion
			}
			cp := *t
			merged = append(merged, &cp)
			continue
		}
		cp := *t
		cp.IsApproved = e.IsApproved
		cp.Priority = e.Priority
		merged = append(merged, &cp)
	}

	for _, n := range added {
		merged = append(merged, &RequiredTest{
			ID:         uuid.New(),
			Name:       strings.TrimSpace(n.Name),
			Reason:     n.Reason,
			Priority:   n.Priority,
			IsApproved: true,
			Source:     SourceDoctorAdded,
		})
	}
	return merged, nil
}

// GatingReport is the slice of report state the gating check needs.
type GatingReport struct {
	Name       string
	Type       string
	IsReviewed bool
}

// SatisfiedBy reports whether a single report satisfies this test: the report
// must be reviewed and its type or name must match the test name by
// case-insensitive substring in either direction. The fuzzy match is a known
// simplification over exact linkage, kept isolated here.
func (t *RequiredTest) SatisfiedBy(r GatingReport) bool {
	if !r.IsReviewed {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(t.Name))
	if name == "" {
		return false
	}
	for _, cand := range []string{r.Type, r.Name} {
		c := strings.ToLower(strings.TrimSpace(cand))
		if c == "" {
			continue
		}
		if strings.Contains(c, name) || strings.Contains(name, c) {
			return true
		}
	}
	return false
}

// AllGatingTestsSatisfied reports whether every high-priority approved test
// has at least one reviewed report matching it.
func AllGatingTestsSatisfied(tests []*RequiredTest, reports []GatingReport) bool {
	for _, t := range tests {
		if !t.IsGating() {
			continue
		}
		satisfied := false
		for _, r := range reports {
			if t.SatisfiedBy(r) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}
