// Package notify emits workflow notifications for patients and doctors.
// Delivery is asynchronous and best-effort: a failed notification never
// fails the state change that triggered it.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types. One event is emitted per workflow state transition.
const (
	EventConsultationReady    = "diagnosis.consultation_ready"
	EventTestsApproved        = "diagnosis.tests_approved"
	EventDiagnosisCompleted   = "diagnosis.completed"
	EventAppointmentScheduled = "appointment.scheduled"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentCompleted = "appointment.completed"
	EventAppointmentNoShow    = "appointment.no_show"
	EventFollowUpScheduled    = "appointment.follow_up_scheduled"
	EventReportUploaded       = "report.uploaded"
	EventReportReviewed       = "report.reviewed"
	EventAnalysisCompleted    = "report.analysis_completed"
	EventAnalysisFailed       = "report.analysis_failed"
)

// Audiences.
const (
	AudiencePatient = "patient"
	AudienceDoctor  = "doctor"
)

// Event is a single workflow notification.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       string            `json:"type"`
	Audience   string            `json:"audience"`
	Subject    string            `json:"subject"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Sink delivers a rendered event to its audience.
type Sink interface {
	Deliver(ctx context.Context, e *Event) error
}

// template is a per-event-type message template with {{key}} placeholders
// filled from the event data map.
type template struct {
	audience string
	subject  string
	body     string
}

var templates = map[string]template{
	EventConsultationReady: {
		audience: AudienceDoctor,
		subject:  "Consultation ready for review",
		body:     "Diagnosis {{diagnosis_id}} has finished the patient consultation and is waiting for your review.",
	},
	EventTestsApproved: {
		audience: AudiencePatient,
		subject:  "Your diagnostic plan is ready",
		body:     "Your doctor has reviewed your consultation. Required tests: {{tests}}.",
	},
	EventDiagnosisCompleted: {
		audience: AudiencePatient,
		subject:  "Diagnosis completed",
		body:     "Your diagnosis {{diagnosis_id}} is complete. Please check your appointments for next steps.",
	},
	EventAppointmentScheduled: {
		audience: AudiencePatient,
		subject:  "Appointment scheduled",
		body:     "Your appointment on {{date}} at {{start_time}} with doctor {{doctor_id}} is confirmed.",
	},
	EventAppointmentCancelled: {
		audience: AudiencePatient,
		subject:  "Appointment cancelled",
		body:     "Your appointment on {{date}} at {{start_time}} has been cancelled.",
	},
	EventAppointmentCompleted: {
		audience: AudiencePatient,
		subject:  "Appointment completed",
		body:     "Your appointment on {{date}} has been marked completed.",
	},
	EventAppointmentNoShow: {
		audience: AudienceDoctor,
		subject:  "Patient did not attend",
		body:     "The patient did not attend the appointment on {{date}} at {{start_time}}.",
	},
	EventFollowUpScheduled: {
		audience: AudiencePatient,
		subject:  "Follow-up scheduled",
		body:     "A follow-up appointment has been scheduled for {{date}} at {{start_time}}.",
	},
	EventReportUploaded: {
		audience: AudienceDoctor,
		subject:  "New report uploaded",
		body:     "A new report {{report_name}} was uploaded for diagnosis {{diagnosis_id}}.",
	},
	EventReportReviewed: {
		audience: AudiencePatient,
		subject:  "Report reviewed",
		body:     "Your report {{report_name}} has been reviewed by your doctor.",
	},
	EventAnalysisCompleted: {
		audience: AudienceDoctor,
		subject:  "Report analysis ready",
		body:     "Automated analysis of report {{report_name}} has completed.",
	},
	EventAnalysisFailed: {
		audience: AudienceDoctor,
		subject:  "Report analysis failed",
		body:     "Automated analysis of report {{report_name}} failed and can be retried.",
	},
}

func render(tpl string, data map[string]string) string {
	out := tpl
	for k, v := range data {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// Emitter renders and dispatches events in the background with bounded retry.
type Emitter struct {
	sink       Sink
	log        zerolog.Logger
	maxRetries int
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewEmitter builds an Emitter over the given sink.
func NewEmitter(sink Sink, log zerolog.Logger) *Emitter {
	return &Emitter{
		sink:       sink,
		log:        log,
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
	}
}

// Emit renders the event and dispatches it asynchronously. Unknown event
// types are logged and dropped rather than surfaced to the caller.
func (e *Emitter) Emit(eventType string, data map[string]string) {
	tpl, ok := templates[eventType]
	if !ok {
		e.log.Warn().Str("event_type", eventType).Msg("unknown notification event type")
		return
	}

	ev := &Event{
		ID:         uuid.New(),
		Type:       eventType,
		Audience:   tpl.audience,
		Subject:    render(tpl.subject, data),
		Message:    render(tpl.body, data),
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(ev)
	}()
}

func (e *Emitter) deliver(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err = e.sink.Deliver(ctx, ev); err == nil {
			e.log.Debug().
				Str("event_id", ev.ID.String()).
				Str("event_type", ev.Type).
				Int("attempt", attempt).
				Msg("notification delivered")
			return
		}
		if attempt < e.maxRetries {
			time.Sleep(e.retryDelay * time.Duration(attempt))
		}
	}
	e.log.Error().Err(err).
		Str("event_id", ev.ID.String()).
		Str("event_type", ev.Type).
		Msg("notification delivery failed")
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (e *Emitter) Wait() { e.wg.Wait() }

// ---------------------------------------------------------------------------
// Sinks
// ---------------------------------------------------------------------------

// LogSink writes notifications to the structured log. It is the default
// delivery channel until an email or push integration is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Deliver(_ context.Context, ev *Event) error {
	s.log.Info().
		Str("event_type", ev.Type).
		Str("audience", ev.Audience).
		Str("subject", ev.Subject).
		Str("message", ev.Message).
		Msg("notification")
	return nil
}

// RecordingSink is a test double that records delivered events and can be
// made to fail a configurable number of times.
type RecordingSink struct {
	mu        sync.Mutex
	events    []*Event
	failFirst int
	attempts  int
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

// FailFirst makes the next n delivery attempts fail.
func (s *RecordingSink) FailFirst(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFirst = n
}

func (s *RecordingSink) Deliver(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failFirst {
		return fmt.Errorf("simulated delivery failure %d", s.attempts)
	}
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

// Events returns a copy of the delivered events.
func (s *RecordingSink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// Attempts returns the total number of delivery attempts.
func (s *RecordingSink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
