package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestEmitter(sink Sink) *Emitter {
	e := NewEmitter(sink, zerolog.Nop())
	e.retryDelay = time.Millisecond
	return e
}

func TestEmitRendersTemplate(t *testing.T) {
	sink := NewRecordingSink()
	e := newTestEmitter(sink)

	e.Emit(EventAppointmentScheduled, map[string]string{
		"date":       "2026-09-07",
		"start_time": "09:00",
		"doctor_id":  "doc-1",
	})
	e.Wait()

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(events))
	}
	ev := events[0]
	if ev.Audience != AudiencePatient {
		t.Errorf("audience = %s", ev.Audience)
	}
	if ev.Message != "Your appointment on 2026-09-07 at 09:00 with doctor doc-1 is confirmed." {
		t.Errorf("unexpected message %q", ev.Message)
	}
}

func TestEmitUnknownTypeDropped(t *testing.T) {
	sink := NewRecordingSink()
	e := newTestEmitter(sink)

	e.Emit("diagnosis.never_heard_of_it", nil)
	e.Wait()

	if got := len(sink.Events()); got != 0 {
		t.Errorf("expected 0 events, got %d", got)
	}
}

func TestEmitRetriesTransientFailure(t *testing.T) {
	sink := NewRecordingSink()
	sink.FailFirst(2)
	e := newTestEmitter(sink)

	e.Emit(EventReportReviewed, map[string]string{"report_name": "blood panel"})
	e.Wait()

	if got := len(sink.Events()); got != 1 {
		t.Fatalf("expected event delivered after retries, got %d", got)
	}
	if sink.Attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", sink.Attempts())
	}
}

func TestEmitGivesUpAfterMaxRetries(t *testing.T) {
	sink := NewRecordingSink()
	sink.FailFirst(10)
	e := newTestEmitter(sink)

	e.Emit(EventDiagnosisCompleted, map[string]string{"diagnosis_id": "d-1"})
	e.Wait()

	if got := len(sink.Events()); got != 0 {
		t.Errorf("expected no delivered events, got %d", got)
	}
	if sink.Attempts() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", sink.Attempts())
	}
}

func TestTemplatePlaceholdersLeftWhenMissing(t *testing.T) {
	sink := NewRecordingSink()
	e := newTestEmitter(sink)

	e.Emit(EventTestsApproved, nil)
	e.Wait()

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Message != "Your doctor has reviewed your consultation. Required tests: {{tests}}." {
		t.Errorf("missing keys should stay as placeholders, got %q", events[0].Message)
	}
}
