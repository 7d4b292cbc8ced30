package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/platform/notify"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]*Appointment)}
}

type slotKey struct {
	doctor uuid.UUID
	date   string
	start  string
}

func (r *memRepo) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mirrors the partial unique index on (doctor_id, date, start_time)
	// for scheduled appointments.
	for _, other := range r.items {
		if other.Status == StatusScheduled &&
			other.DoctorID == a.DoctorID && other.Date == a.Date && other.StartTime == a.StartTime {
			return ErrSlotUnavailable
		}
	}
	a.ID = uuid.New()
	a.VersionID = 1
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.VersionID != a.VersionID {
		return ErrConcurrentModification
	}
	a.VersionID++
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *memRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Appointment
	for _, a := range r.items {
		if a.DoctorID == doctorID {
			cp := *a
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Appointment
	for _, a := range r.items {
		if a.PatientID == patientID {
			cp := *a
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

func (r *memRepo) ListScheduledByDoctorDate(_ context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Appointment
	for _, a := range r.items {
		if a.DoctorID == doctorID && a.Date == date && a.Status == StatusScheduled {
			cp := *a
			items = append(items, &cp)
		}
	}
	return items, nil
}

type fakeSlots struct {
	unavailable bool
}

func (f *fakeSlots) IsAvailable(_ context.Context, _ uuid.UUID, _, _, _ string) (bool, error) {
	return !f.unavailable, nil
}

type fakeDiagnoses struct {
	mu      sync.Mutex
	set     map[uuid.UUID]uuid.UUID
	cleared map[uuid.UUID]uuid.UUID
}

func newFakeDiagnoses() *fakeDiagnoses {
	return &fakeDiagnoses{set: make(map[uuid.UUID]uuid.UUID), cleared: make(map[uuid.UUID]uuid.UUID)}
}

func (f *fakeDiagnoses) SetAssociatedAppointment(_ context.Context, diagnosisID, appointmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[diagnosisID] = appointmentID
	return nil
}

func (f *fakeDiagnoses) ClearAssociatedAppointment(_ context.Context, diagnosisID, appointmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared[diagnosisID] = appointmentID
	return nil
}

type fixture struct {
	svc       *Service
	repo      *memRepo
	slots     *fakeSlots
	diagnoses *fakeDiagnoses
	sink      *notify.RecordingSink
	emitter   *notify.Emitter
}

func newFixture() *fixture {
	repo := newMemRepo()
	slots := &fakeSlots{}
	diagnoses := newFakeDiagnoses()
	sink := notify.NewRecordingSink()
	emitter := notify.NewEmitter(sink, zerolog.Nop())
	return &fixture{
		svc:       NewService(repo, slots, diagnoses, emitter, Config{DurationMinutes: 30, FollowUpDays: 7}, zerolog.Nop()),
		repo:      repo,
		slots:     slots,
		diagnoses: diagnoses,
		sink:      sink,
		emitter:   emitter,
	}
}

func validInput() CreateInput {
	return CreateInput{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Date:      "2026-09-07",
		StartTime: "09:00",
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreateDefaultsEndTime(t *testing.T) {
	f := newFixture()
	a, err := f.svc.Create(context.Background(), uuid.New(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.EndTime != "09:30" {
		t.Errorf("end = %s, want 09:30", a.EndTime)
	}
	if a.Status != StatusScheduled {
		t.Errorf("status = %s", a.Status)
	}

	f.emitter.Wait()
	events := f.sink.Events()
	if len(events) != 1 || events[0].Type != notify.EventAppointmentScheduled {
		t.Errorf("expected one scheduled event, got %+v", events)
	}
}

func TestCreateMidnightRollover(t *testing.T) {
	f := newFixture()
	in := validInput()
	in.StartTime = "23:45"
	a, err := f.svc.Create(context.Background(), uuid.New(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.EndTime != "00:15" {
		t.Errorf("end = %s, want 00:15", a.EndTime)
	}
	// The slot stays on the booked date.
	if a.Date != "2026-09-07" {
		t.Errorf("date = %s", a.Date)
	}
}

func TestCreateExplicitEndBounds(t *testing.T) {
	f := newFixture()

	in := validInput()
	in.EndTime = "09:05"
	if _, err := f.svc.Create(context.Background(), uuid.New(), in); !errors.Is(err, ErrValidation) {
		t.Errorf("too-short override should fail, got %v", err)
	}

	in = validInput()
	in.EndTime = "14:00"
	if _, err := f.svc.Create(context.Background(), uuid.New(), in); !errors.Is(err, ErrValidation) {
		t.Errorf("too-long override should fail, got %v", err)
	}

	in = validInput()
	in.EndTime = "10:00"
	a, err := f.svc.Create(context.Background(), uuid.New(), in)
	if err != nil {
		t.Fatalf("valid override: %v", err)
	}
	if a.EndTime != "10:00" {
		t.Errorf("end = %s", a.EndTime)
	}
}

func TestCreateDoubleBookingFails(t *testing.T) {
	f := newFixture()
	in := validInput()
	if _, err := f.svc.Create(context.Background(), uuid.New(), in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), uuid.New(), in); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestCreateOverlapFails(t *testing.T) {
	f := newFixture()
	in := validInput()
	if _, err := f.svc.Create(context.Background(), uuid.New(), in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	in.StartTime = "09:15" // different start, same window
	if _, err := f.svc.Create(context.Background(), uuid.New(), in); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable for overlap, got %v", err)
	}
}

func TestCreateOutsideAvailability(t *testing.T) {
	f := newFixture()
	f.slots.unavailable = true
	if _, err := f.svc.Create(context.Background(), uuid.New(), validInput()); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestCreateLinksDiagnosis(t *testing.T) {
	f := newFixture()
	diagID := uuid.New()
	in := validInput()
	in.DiagnosisID = &diagID

	a, err := f.svc.Create(context.Background(), uuid.New(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.diagnoses.set[diagID] != a.ID {
		t.Errorf("diagnosis not linked to appointment")
	}
}

func TestCompleteSpawnsFollowUp(t *testing.T) {
	f := newFixture()
	diagID := uuid.New()
	in := validInput()
	in.DiagnosisID = &diagID
	a, _ := f.svc.Create(context.Background(), uuid.New(), in)

	a, err := f.svc.Complete(context.Background(), a.ID, a.DoctorID, "all good", true)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if a.Status != StatusCompleted {
		t.Errorf("status = %s", a.Status)
	}
	if a.PostNotes == nil || *a.PostNotes != "all good" {
		t.Errorf("post notes = %v", a.PostNotes)
	}
	if a.FollowupAppointmentID == nil {
		t.Fatal("follow-up not linked")
	}

	fu, err := f.svc.Get(context.Background(), *a.FollowupAppointmentID)
	if err != nil {
		t.Fatalf("load follow-up: %v", err)
	}
	if fu.Date != "2026-09-14" {
		t.Errorf("follow-up date = %s, want 2026-09-14", fu.Date)
	}
	if fu.StartTime != a.StartTime {
		t.Errorf("follow-up keeps time of day, got %s", fu.StartTime)
	}
	if fu.DiagnosisID == nil || *fu.DiagnosisID != diagID {
		t.Errorf("follow-up keeps the diagnosis reference")
	}
	// The diagnosis's current appointment is now the follow-up.
	if f.diagnoses.set[diagID] != fu.ID {
		t.Errorf("diagnosis should point at the follow-up")
	}

	// One event per transition: the initial booking, the completion, and the
	// follow-up booking each announce themselves exactly once.
	f.emitter.Wait()
	counts := map[string]int{}
	for _, ev := range f.sink.Events() {
		counts[ev.Type]++
	}
	want := map[string]int{
		notify.EventAppointmentScheduled: 1,
		notify.EventAppointmentCompleted: 1,
		notify.EventFollowUpScheduled:    1,
	}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("%s events = %d, want %d", typ, counts[typ], n)
		}
	}
}

func TestCompleteWithoutFollowUp(t *testing.T) {
	f := newFixture()
	a, _ := f.svc.Create(context.Background(), uuid.New(), validInput())

	a, err := f.svc.Complete(context.Background(), a.ID, a.DoctorID, "", false)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if a.FollowupAppointmentID != nil {
		t.Error("no follow-up requested")
	}
	if _, err := f.svc.Complete(context.Background(), a.ID, a.DoctorID, "", false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completing twice should fail, got %v", err)
	}
}

func TestCancelRequiresReasonAndClearsReference(t *testing.T) {
	f := newFixture()
	diagID := uuid.New()
	in := validInput()
	in.DiagnosisID = &diagID
	a, _ := f.svc.Create(context.Background(), uuid.New(), in)
	actorID := uuid.New()

	if _, err := f.svc.Cancel(context.Background(), a.ID, actorID, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty reason, got %v", err)
	}

	a, err := f.svc.Cancel(context.Background(), a.ID, actorID, "patient request")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if a.Status != StatusCancelled {
		t.Errorf("status = %s", a.Status)
	}
	if a.CancelledBy == nil || *a.CancelledBy != actorID {
		t.Errorf("cancelled_by = %v", a.CancelledBy)
	}
	if f.diagnoses.cleared[diagID] != a.ID {
		t.Errorf("diagnosis reference not cleared")
	}
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture()
	a, _ := f.svc.Create(context.Background(), uuid.New(), validInput())

	a, err := f.svc.MarkNoShow(context.Background(), a.ID, a.DoctorID)
	if err != nil {
		t.Fatalf("MarkNoShow: %v", err)
	}
	if a.Status != StatusNoShow {
		t.Errorf("status = %s", a.Status)
	}
	if _, err := f.svc.Cancel(context.Background(), a.ID, a.DoctorID, "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("no_show is terminal, got %v", err)
	}
}

func TestUpdateReschedulesWithValidation(t *testing.T) {
	f := newFixture()
	a, _ := f.svc.Create(context.Background(), uuid.New(), validInput())

	updated, err := f.svc.Update(context.Background(), a.ID, a.DoctorID, UpdateInput{StartTime: "11:00", VersionID: a.VersionID})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.StartTime != "11:00" || updated.EndTime != "11:30" {
		t.Errorf("slot = %s-%s", updated.StartTime, updated.EndTime)
	}

	if _, err := f.svc.Update(context.Background(), a.ID, a.DoctorID, UpdateInput{StartTime: "12:00", VersionID: a.VersionID}); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("stale version must fail, got %v", err)
	}

	f.slots.unavailable = true
	if _, err := f.svc.Update(context.Background(), a.ID, a.DoctorID, UpdateInput{StartTime: "13:00", VersionID: updated.VersionID}); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("reschedule outside availability must fail, got %v", err)
	}
}

func TestUpdateEnforcesLengthBounds(t *testing.T) {
	f := newFixture()
	a, _ := f.svc.Create(context.Background(), uuid.New(), validInput())

	// Same bounds as Create: a 1-minute booking is not a valid reschedule.
	if _, err := f.svc.Update(context.Background(), a.ID, a.DoctorID, UpdateInput{EndTime: "09:01", VersionID: a.VersionID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("1-minute slot must fail, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), a.ID, a.DoctorID, UpdateInput{EndTime: "14:00", VersionID: a.VersionID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("5-hour slot must fail, got %v", err)
	}

	stored, _ := f.svc.Get(context.Background(), a.ID)
	if stored.EndTime != "09:30" {
		t.Errorf("rejected update must not change the slot, end = %s", stored.EndTime)
	}
}

func TestUpdateStartKeepsExplicitEnd(t *testing.T) {
	f := newFixture()
	in := validInput()
	in.EndTime = "10:00"
	a, _ := f.svc.Create(context.Background(), uuid.New(), in)

	// Moving only the start keeps the 60-minute length, not the default 30.
	updated, err := f.svc.Update(context.Background(), a.ID, a.DoctorID, UpdateInput{StartTime: "11:00", VersionID: a.VersionID})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.StartTime != "11:00" || updated.EndTime != "12:00" {
		t.Errorf("slot = %s-%s, want 11:00-12:00", updated.StartTime, updated.EndTime)
	}
}
