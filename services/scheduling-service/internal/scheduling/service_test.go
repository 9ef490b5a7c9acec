package scheduling

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/model"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/storage"
)

// fakeStore keeps appointments in memory and answers the derived-key range
// queries with the same key strings the real repository persists.
type fakeStore struct {
	appts map[string]*model.Appointment
}

func newFakeStore() *fakeStore {
	return &fakeStore{appts: map[string]*model.Appointment{}}
}

func storeKey(tenantID, appointmentID string) string {
	return tenantID + "/" + appointmentID
}

func (f *fakeStore) Create(_ context.Context, appt *model.Appointment) (*model.Appointment, error) {
	key := storeKey(appt.TenantID, appt.AppointmentID)
	if _, ok := f.appts[key]; ok {
		return nil, storage.ErrAlreadyExists
	}
	cp := *appt
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	f.appts[key] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) GetByID(_ context.Context, tenantID, appointmentID string) (*model.Appointment, error) {
	a, ok := f.appts[storeKey(tenantID, appointmentID)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) GetByNaturalKey(_ context.Context, tenantID, userID string, start time.Time) (*model.Appointment, error) {
	wantUser := model.UserKey(tenantID, userID)
	wantStart := model.StartKey(start)
	var latest *model.Appointment
	for _, a := range f.appts {
		if a.TenantID != tenantID {
			continue
		}
		if model.UserKey(a.TenantID, a.UserID) != wantUser || model.StartKey(a.StartTime) != wantStart {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) listRange(tenantID, keyValue string, keyFn func(*model.Appointment) string, fromKey, toKey string) []model.Appointment {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.TenantID != tenantID || keyFn(a) != keyValue {
			continue
		}
		sk := model.StartKey(a.StartTime)
		if sk < fromKey || sk > toKey {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return model.StartKey(out[i].StartTime) < model.StartKey(out[j].StartTime)
	})
	return out
}

func (f *fakeStore) ListForDoctorOnDay(_ context.Context, tenantID, doctorID, dayISO string) ([]model.Appointment, error) {
	fromKey, toKey, err := model.DayKeyRange(dayISO)
	if err != nil {
		return nil, err
	}
	return f.listRange(tenantID, model.DoctorKey(tenantID, doctorID), func(a *model.Appointment) string {
		return model.DoctorKey(a.TenantID, a.DoctorID)
	}, fromKey, toKey), nil
}

func (f *fakeStore) ListForDoctorInRange(_ context.Context, tenantID, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return f.listRange(tenantID, model.DoctorKey(tenantID, doctorID), func(a *model.Appointment) string {
		return model.DoctorKey(a.TenantID, a.DoctorID)
	}, model.StartKey(from), model.StartKey(to)), nil
}

func (f *fakeStore) ListForUserInRange(_ context.Context, tenantID, userID string, from, to time.Time) ([]model.Appointment, error) {
	return f.listRange(tenantID, model.UserKey(tenantID, userID), func(a *model.Appointment) string {
		return model.UserKey(a.TenantID, a.UserID)
	}, model.StartKey(from), model.StartKey(to)), nil
}

func (f *fakeStore) ListByStatus(_ context.Context, tenantID, status, dayISO string) ([]model.Appointment, error) {
	fromKey, toKey, err := model.DayKeyRange(dayISO)
	if err != nil {
		return nil, err
	}
	return f.listRange(tenantID, model.StatusKey(tenantID, status), func(a *model.Appointment) string {
		return model.StatusKey(a.TenantID, a.Status)
	}, fromKey, toKey), nil
}

func (f *fakeStore) UpdateSchedule(_ context.Context, in storage.UpdateScheduleInput) (*model.Appointment, error) {
	a, ok := f.appts[storeKey(in.TenantID, in.AppointmentID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	a.StartTime = in.StartTime.UTC()
	a.EndTime = in.EndTime.UTC()
	a.DurationMinutes = in.DurationMinutes
	a.DoctorID = in.DoctorID
	a.DoctorName = in.DoctorName
	a.Notes = in.Notes
	a.CalendarSyncStatus = model.SyncPending
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, tenantID, appointmentID, status string) (*model.Appointment, error) {
	a, ok := f.appts[storeKey(tenantID, appointmentID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func newTestService() (*Service, *fakeStore) {
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, logger), store
}

func mustCreate(t *testing.T, svc *Service, req CreateRequest) *model.Appointment {
	t.Helper()
	appt, err := svc.CreateAppointment(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}
	return appt
}

func baseCreate() CreateRequest {
	return CreateRequest{
		TenantID:    "t1",
		UserID:      "wa-1001",
		PatientName: "Ada Osei",
		DoctorID:    "d1",
		DoctorName:  "Dr. Mensah",
		StartISO:    "2025-11-11T14:00:00Z",
	}
}

func TestCreateAppointment_DefaultsTo30Minutes(t *testing.T) {
	svc, _ := newTestService()
	appt := mustCreate(t, svc, baseCreate())

	if !appt.EndTime.Equal(time.Date(2025, 11, 11, 14, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected end 14:30Z, got %s", appt.EndTime)
	}
	if appt.DurationMinutes != 30 {
		t.Fatalf("expected duration 30, got %d", appt.DurationMinutes)
	}
	if appt.Status != model.StatusScheduled {
		t.Fatalf("expected status scheduled, got %s", appt.Status)
	}
	if appt.CalendarSyncStatus != model.SyncPending {
		t.Fatalf("new appointments should await calendar sync, got %q", appt.CalendarSyncStatus)
	}
	if len(appt.AppointmentID) != idLength {
		t.Fatalf("unexpected id %q", appt.AppointmentID)
	}
}

func TestCreateAppointment_RejectsOverlap(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, baseCreate())

	req := baseCreate()
	req.UserID = "wa-1002"
	req.PatientName = "Kofi Boateng"
	req.StartISO = "2025-11-11T14:15:00Z"
	_, err := svc.CreateAppointment(context.Background(), req)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateAppointment_AdjacentSlotSucceeds(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, baseCreate())

	req := baseCreate()
	req.UserID = "wa-1002"
	req.StartISO = "2025-11-11T14:30:00Z"
	if _, err := svc.CreateAppointment(context.Background(), req); err != nil {
		t.Fatalf("back-to-back booking should succeed: %v", err)
	}
}

func TestCreateAppointment_CancelledSlotIsRebookable(t *testing.T) {
	svc, _ := newTestService()
	first := mustCreate(t, svc, baseCreate())

	_, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByID(first.AppointmentID),
	})
	if err != nil {
		t.Fatalf("CancelAppointment failed: %v", err)
	}

	req := baseCreate()
	req.UserID = "wa-1003"
	if _, err := svc.CreateAppointment(context.Background(), req); err != nil {
		t.Fatalf("freed slot should be bookable: %v", err)
	}
}

func TestCreateAppointment_TenantsAreIsolated(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, baseCreate())

	req := baseCreate()
	req.TenantID = "t2"
	if _, err := svc.CreateAppointment(context.Background(), req); err != nil {
		t.Fatalf("same doctor id in another tenant must not conflict: %v", err)
	}
}

func TestCreateAppointment_MissingFields(t *testing.T) {
	svc, _ := newTestService()
	req := baseCreate()
	req.PatientName = ""
	_, err := svc.CreateAppointment(context.Background(), req)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelAppointment_Idempotent(t *testing.T) {
	svc, _ := newTestService()
	appt := mustCreate(t, svc, baseCreate())

	first, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByID(appt.AppointmentID),
	})
	if err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	second, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByID(appt.AppointmentID),
	})
	if err != nil {
		t.Fatalf("second cancel must not error: %v", err)
	}
	if second.Status != model.StatusCancelled || second.AppointmentID != first.AppointmentID {
		t.Fatalf("second cancel should return the same terminal record")
	}
}

func TestCancelAppointment_ByNaturalKey(t *testing.T) {
	svc, _ := newTestService()
	appt := mustCreate(t, svc, baseCreate())

	cancelled, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByNaturalKey("wa-1001", "d1", "2025-11-11T14:00:00Z"),
	})
	if err != nil {
		t.Fatalf("cancel by natural key failed: %v", err)
	}
	if cancelled.AppointmentID != appt.AppointmentID {
		t.Fatalf("resolved wrong appointment: %s", cancelled.AppointmentID)
	}
}

func TestResolveTarget_DoctorMismatchIsNotFound(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, baseCreate())

	_, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByNaturalKey("wa-1001", "someone-else", "2025-11-11T14:00:00Z"),
	})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveTarget_UnderSpecified(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, baseCreate())

	_, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByNaturalKey("wa-1001", "", "2025-11-11T14:00:00Z"),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for incomplete natural key, got %v", err)
	}
}

func TestRescheduleAppointment_SelfOverlapAllowed(t *testing.T) {
	svc, _ := newTestService()
	appt := mustCreate(t, svc, baseCreate())

	// Move by 15 minutes: the new interval overlaps only the old one.
	moved, err := svc.RescheduleAppointment(context.Background(), RescheduleRequest{
		TenantID:    "t1",
		Target:      ByID(appt.AppointmentID),
		NewStartISO: "2025-11-11T14:15:00Z",
	})
	if err != nil {
		t.Fatalf("self-overlapping reschedule must succeed: %v", err)
	}
	if !moved.StartTime.Equal(time.Date(2025, 11, 11, 14, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected new start %s", moved.StartTime)
	}
	if moved.Status != model.StatusScheduled {
		t.Fatalf("reschedule must leave status untouched, got %s", moved.Status)
	}
}

func TestRescheduleAppointment_KeepsDurationWhenNotResupplied(t *testing.T) {
	svc, _ := newTestService()
	req := baseCreate()
	req.DurationMinutes = 45
	appt := mustCreate(t, svc, req)

	moved, err := svc.RescheduleAppointment(context.Background(), RescheduleRequest{
		TenantID:    "t1",
		Target:      ByID(appt.AppointmentID),
		NewStartISO: "2025-11-12T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("RescheduleAppointment failed: %v", err)
	}
	if moved.DurationMinutes != 45 {
		t.Fatalf("expected inherited duration 45, got %d", moved.DurationMinutes)
	}
	if !moved.EndTime.Equal(time.Date(2025, 11, 12, 9, 45, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %s", moved.EndTime)
	}
}

func TestRescheduleAppointment_ConflictWithOtherBooking(t *testing.T) {
	svc, _ := newTestService()
	appt := mustCreate(t, svc, baseCreate())

	other := baseCreate()
	other.UserID = "wa-1002"
	other.StartISO = "2025-11-11T15:00:00Z"
	mustCreate(t, svc, other)

	_, err := svc.RescheduleAppointment(context.Background(), RescheduleRequest{
		TenantID:    "t1",
		Target:      ByID(appt.AppointmentID),
		NewStartISO: "2025-11-11T15:10:00Z",
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRescheduleAppointment_DoctorOverride(t *testing.T) {
	svc, _ := newTestService()
	appt := mustCreate(t, svc, baseCreate())

	// d2 is busy at the requested time.
	busy := baseCreate()
	busy.UserID = "wa-1002"
	busy.DoctorID = "d2"
	busy.StartISO = "2025-11-12T10:00:00Z"
	mustCreate(t, svc, busy)

	_, err := svc.RescheduleAppointment(context.Background(), RescheduleRequest{
		TenantID:    "t1",
		Target:      ByID(appt.AppointmentID),
		DoctorID:    "d2",
		NewStartISO: "2025-11-12T10:15:00Z",
	})
	if !IsConflict(err) {
		t.Fatalf("conflict check must run against the new doctor, got %v", err)
	}

	moved, err := svc.RescheduleAppointment(context.Background(), RescheduleRequest{
		TenantID:    "t1",
		Target:      ByID(appt.AppointmentID),
		DoctorID:    "d2",
		NewStartISO: "2025-11-12T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("RescheduleAppointment failed: %v", err)
	}
	if moved.DoctorID != "d2" {
		t.Fatalf("expected doctor d2, got %s", moved.DoctorID)
	}
}

func TestGetAvailability_ReturnsBusyIntervals(t *testing.T) {
	svc, _ := newTestService()
	first := mustCreate(t, svc, baseCreate())

	second := baseCreate()
	second.UserID = "wa-1002"
	second.StartISO = "2025-11-11T16:00:00Z"
	mustCreate(t, svc, second)

	cancelledReq := baseCreate()
	cancelledReq.UserID = "wa-1003"
	cancelledReq.StartISO = "2025-11-11T17:00:00Z"
	cancelled := mustCreate(t, svc, cancelledReq)
	if _, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByID(cancelled.AppointmentID),
	}); err != nil {
		t.Fatalf("CancelAppointment failed: %v", err)
	}

	busy, err := svc.GetAvailability(context.Background(), "t1", "d1", "2025-11-11")
	if err != nil {
		t.Fatalf("GetAvailability failed: %v", err)
	}
	if len(busy) != 2 {
		t.Fatalf("expected 2 busy intervals, got %d", len(busy))
	}
	for _, b := range busy {
		if b.AppointmentID == cancelled.AppointmentID {
			t.Fatal("cancelled appointment must not appear as busy")
		}
	}
	if busy[0].AppointmentID != first.AppointmentID && busy[1].AppointmentID != first.AppointmentID {
		t.Fatal("expected the first appointment among busy intervals")
	}
	if busy[0].StartISO == "" || busy[0].EndISO == "" {
		t.Fatal("busy intervals must carry start and end")
	}
}

func TestGetAvailability_InvalidDay(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.GetAvailability(context.Background(), "t1", "d1", "Nov 11")
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetAvailability_CrossMidnightInvisibleNextDay(t *testing.T) {
	svc, _ := newTestService()
	req := baseCreate()
	req.StartISO = "2025-11-11T23:45:00Z"
	req.DurationMinutes = 60
	mustCreate(t, svc, req)

	// The booking runs into Nov 12 but sorts under its start day, so the
	// next day's single-day view cannot see it.
	busy, err := svc.GetAvailability(context.Background(), "t1", "d1", "2025-11-12")
	if err != nil {
		t.Fatalf("GetAvailability failed: %v", err)
	}
	if len(busy) != 0 {
		t.Fatalf("expected no busy intervals on the far side of midnight, got %d", len(busy))
	}
}

func TestUserScheduleInRange(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, baseCreate())

	later := baseCreate()
	later.StartISO = "2025-11-13T09:00:00Z"
	mustCreate(t, svc, later)

	busy, err := svc.UserScheduleInRange(context.Background(), "t1", "wa-1001",
		"2025-11-11T00:00:00Z", "2025-11-12T23:59:00Z")
	if err != nil {
		t.Fatalf("UserScheduleInRange failed: %v", err)
	}
	if len(busy) != 1 {
		t.Fatalf("expected 1 interval inside the range, got %d", len(busy))
	}
}

func TestDoctorScheduleInRange_RejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.DoctorScheduleInRange(context.Background(), "t1", "d1",
		"2025-11-13T00:00:00Z", "2025-11-11T00:00:00Z")
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListByStatus(t *testing.T) {
	svc, _ := newTestService()
	appt := mustCreate(t, svc, baseCreate())
	if _, err := svc.CancelAppointment(context.Background(), CancelRequest{
		TenantID: "t1",
		Target:   ByID(appt.AppointmentID),
	}); err != nil {
		t.Fatalf("CancelAppointment failed: %v", err)
	}

	cancelled, err := svc.ListByStatus(context.Background(), "t1", model.StatusCancelled, "2025-11-11")
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].AppointmentID != appt.AppointmentID {
		t.Fatalf("expected the cancelled appointment, got %v", cancelled)
	}

	if _, err := svc.ListByStatus(context.Background(), "t1", "archived", "2025-11-11"); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}
