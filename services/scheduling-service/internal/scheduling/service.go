package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/model"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/storage"
)

// Store is the appointment collection as the engine needs it: one primary
// key plus three derived-key access paths, each operation individually
// atomic.
type Store interface {
	Create(ctx context.Context, appt *model.Appointment) (*model.Appointment, error)
	GetByID(ctx context.Context, tenantID, appointmentID string) (*model.Appointment, error)
	GetByNaturalKey(ctx context.Context, tenantID, userID string, start time.Time) (*model.Appointment, error)
	ListForDoctorOnDay(ctx context.Context, tenantID, doctorID, dayISO string) ([]model.Appointment, error)
	ListForDoctorInRange(ctx context.Context, tenantID, doctorID string, from, to time.Time) ([]model.Appointment, error)
	ListForUserInRange(ctx context.Context, tenantID, userID string, from, to time.Time) ([]model.Appointment, error)
	ListByStatus(ctx context.Context, tenantID, status, dayISO string) ([]model.Appointment, error)
	UpdateSchedule(ctx context.Context, in storage.UpdateScheduleInput) (*model.Appointment, error)
	UpdateStatus(ctx context.Context, tenantID, appointmentID, status string) (*model.Appointment, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

const dayLayout = "2006-01-02"

type CreateRequest struct {
	TenantID        string
	UserID          string
	PatientName     string
	PatientPhone    string
	PatientEmail    string
	DoctorID        string
	DoctorName      string
	StartISO        string
	EndISO          string
	DurationMinutes int
	Source          string
	Notes           string
}

func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*model.Appointment, error) {
	if req.TenantID == "" || req.UserID == "" || req.DoctorID == "" || req.PatientName == "" {
		return nil, validationf("tenantId, userId, doctorId, and patientName are required")
	}

	timing, err := normalizeTiming(req.StartISO, req.EndISO, req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if err := s.ensureAvailability(ctx, req.TenantID, req.DoctorID, timing.Start, timing.End, ""); err != nil {
		return nil, err
	}

	id, err := newAppointmentID()
	if err != nil {
		return nil, storeErr("generate appointment id", err)
	}

	appt := &model.Appointment{
		AppointmentID:      id,
		TenantID:           req.TenantID,
		UserID:             req.UserID,
		PatientName:        req.PatientName,
		PatientPhone:       req.PatientPhone,
		PatientEmail:       req.PatientEmail,
		DoctorID:           req.DoctorID,
		DoctorName:         req.DoctorName,
		StartTime:          timing.Start,
		EndTime:            timing.End,
		DurationMinutes:    timing.DurationMinutes,
		Status:             model.StatusScheduled,
		Source:             req.Source,
		Notes:              req.Notes,
		CalendarSyncStatus: model.SyncPending,
	}

	created, err := s.store.Create(ctx, appt)
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Generated IDs collide only astronomically rarely; one retry is plenty.
		if appt.AppointmentID, err = newAppointmentID(); err != nil {
			return nil, storeErr("generate appointment id", err)
		}
		created, err = s.store.Create(ctx, appt)
	}
	if err != nil {
		if storage.IsOverlap(err) {
			return nil, conflictf("doctor %s already has a booking overlapping %s", req.DoctorID, timing.Start.Format(time.RFC3339))
		}
		return nil, storeErr("create appointment", err)
	}

	s.logger.Info("appointment created",
		"tenant_id", created.TenantID,
		"appointment_id", created.AppointmentID,
		"doctor_id", created.DoctorID,
		"start", created.StartTime.Format(time.RFC3339),
	)
	return created, nil
}

type RescheduleRequest struct {
	TenantID           string
	Target             TargetRef
	DoctorID           string // optional override; empty keeps the current doctor
	DoctorName         string
	NewStartISO        string
	NewEndISO          string
	NewDurationMinutes int
	Notes              string
}

// RescheduleAppointment moves a booking to a new interval and/or doctor.
// The record's own interval is excluded from the conflict check so a move
// never collides with itself. Status is left untouched.
func (s *Service) RescheduleAppointment(ctx context.Context, req RescheduleRequest) (*model.Appointment, error) {
	if req.TenantID == "" {
		return nil, validationf("tenantId is required")
	}

	appt, err := s.resolveTarget(ctx, req.TenantID, req.Target)
	if err != nil {
		return nil, err
	}

	doctorID := req.DoctorID
	doctorName := req.DoctorName
	if doctorID == "" {
		doctorID = appt.DoctorID
		if doctorName == "" {
			doctorName = appt.DoctorName
		}
	}

	duration := req.NewDurationMinutes
	if duration <= 0 && req.NewEndISO == "" {
		duration = appt.DurationMinutes
	}
	timing, err := normalizeTiming(req.NewStartISO, req.NewEndISO, duration)
	if err != nil {
		return nil, err
	}

	if err := s.ensureAvailability(ctx, req.TenantID, doctorID, timing.Start, timing.End, appt.AppointmentID); err != nil {
		return nil, err
	}

	notes := req.Notes
	if notes == "" {
		notes = appt.Notes
	}

	updated, err := s.store.UpdateSchedule(ctx, storage.UpdateScheduleInput{
		TenantID:        req.TenantID,
		AppointmentID:   appt.AppointmentID,
		StartTime:       timing.Start,
		EndTime:         timing.End,
		DurationMinutes: timing.DurationMinutes,
		DoctorID:        doctorID,
		DoctorName:      doctorName,
		Notes:           notes,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("appointment %s not found", appt.AppointmentID)
		}
		if storage.IsOverlap(err) {
			return nil, conflictf("doctor %s already has a booking overlapping %s", doctorID, timing.Start.Format(time.RFC3339))
		}
		return nil, storeErr("update appointment schedule", err)
	}

	s.logger.Info("appointment rescheduled",
		"tenant_id", updated.TenantID,
		"appointment_id", updated.AppointmentID,
		"doctor_id", updated.DoctorID,
		"start", updated.StartTime.Format(time.RFC3339),
	)
	return updated, nil
}

type CancelRequest struct {
	TenantID string
	Target   TargetRef
}

// CancelAppointment marks the target cancelled. Cancelling an already
// cancelled appointment returns the existing record unchanged, so retries
// are always safe.
func (s *Service) CancelAppointment(ctx context.Context, req CancelRequest) (*model.Appointment, error) {
	if req.TenantID == "" {
		return nil, validationf("tenantId is required")
	}

	appt, err := s.resolveTarget(ctx, req.TenantID, req.Target)
	if err != nil {
		return nil, err
	}
	if appt.Cancelled() {
		return appt, nil
	}

	cancelled, err := s.store.UpdateStatus(ctx, req.TenantID, appt.AppointmentID, model.StatusCancelled)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("appointment %s not found", appt.AppointmentID)
		}
		return nil, storeErr("cancel appointment", err)
	}

	s.logger.Info("appointment cancelled",
		"tenant_id", cancelled.TenantID,
		"appointment_id", cancelled.AppointmentID,
		"doctor_id", cancelled.DoctorID,
	)
	return cancelled, nil
}

// BusyInterval is the public availability projection: occupancy only, never
// patient details.
type BusyInterval struct {
	StartISO      string
	EndISO        string
	AppointmentID string
}

// GetAvailability returns the doctor's non-cancelled appointments whose
// start falls on the given UTC day. Computing free slots from clinic hours
// minus these intervals is the caller's concern.
func (s *Service) GetAvailability(ctx context.Context, tenantID, doctorID, dayISO string) ([]BusyInterval, error) {
	if tenantID == "" || doctorID == "" {
		return nil, validationf("tenantId and doctorId are required")
	}
	if _, err := time.Parse(dayLayout, dayISO); err != nil {
		return nil, validationf("invalid date %q (want YYYY-MM-DD)", dayISO)
	}

	appts, err := s.store.ListForDoctorOnDay(ctx, tenantID, doctorID, dayISO)
	if err != nil {
		return nil, storeErr("list doctor appointments", err)
	}
	return busyIntervals(appts), nil
}

// DoctorScheduleInRange is the multi-day availability variant. Unlike the
// single-day view it can see appointments on every day the range touches.
func (s *Service) DoctorScheduleInRange(ctx context.Context, tenantID, doctorID, fromISO, toISO string) ([]BusyInterval, error) {
	if tenantID == "" || doctorID == "" {
		return nil, validationf("tenantId and doctorId are required")
	}
	from, to, err := parseRange(fromISO, toISO)
	if err != nil {
		return nil, err
	}
	appts, err := s.store.ListForDoctorInRange(ctx, tenantID, doctorID, from, to)
	if err != nil {
		return nil, storeErr("list doctor appointments in range", err)
	}
	return busyIntervals(appts), nil
}

func (s *Service) UserScheduleInRange(ctx context.Context, tenantID, userID, fromISO, toISO string) ([]BusyInterval, error) {
	if tenantID == "" || userID == "" {
		return nil, validationf("tenantId and userId are required")
	}
	from, to, err := parseRange(fromISO, toISO)
	if err != nil {
		return nil, err
	}
	appts, err := s.store.ListForUserInRange(ctx, tenantID, userID, from, to)
	if err != nil {
		return nil, storeErr("list user appointments in range", err)
	}
	return busyIntervals(appts), nil
}

// ListByStatus is the status-scoped day view used by back-office tooling.
func (s *Service) ListByStatus(ctx context.Context, tenantID, status, dayISO string) ([]model.Appointment, error) {
	if tenantID == "" {
		return nil, validationf("tenantId is required")
	}
	if !model.ValidStatus(status) {
		return nil, validationf("invalid status %q", status)
	}
	if _, err := time.Parse(dayLayout, dayISO); err != nil {
		return nil, validationf("invalid date %q (want YYYY-MM-DD)", dayISO)
	}

	appts, err := s.store.ListByStatus(ctx, tenantID, status, dayISO)
	if err != nil {
		return nil, storeErr("list appointments by status", err)
	}
	return appts, nil
}

// ensureAvailability rejects the interval if any non-cancelled appointment
// for the doctor on start's UTC day overlaps it, excluding excludeID. The
// candidate set is day-bounded: a booking that crosses UTC midnight is not
// checked against the adjacent day here. The store's exclusion constraint
// still guards those writes; only the error message degrades.
func (s *Service) ensureAvailability(ctx context.Context, tenantID, doctorID string, start, end time.Time, excludeID string) error {
	day := start.UTC().Format(dayLayout)
	appts, err := s.store.ListForDoctorOnDay(ctx, tenantID, doctorID, day)
	if err != nil {
		return storeErr("list doctor appointments", err)
	}

	for i := range appts {
		a := &appts[i]
		if a.Cancelled() || a.AppointmentID == excludeID {
			continue
		}
		if a.Overlaps(start, end) {
			return conflictf("doctor %s is booked %s to %s",
				doctorID,
				a.StartTime.UTC().Format(time.RFC3339),
				a.EndTime.UTC().Format(time.RFC3339),
			)
		}
	}
	return nil
}

func parseRange(fromISO, toISO string) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, fromISO)
	if err != nil {
		return time.Time{}, time.Time{}, validationf("invalid from %q: must be RFC 3339", fromISO)
	}
	to, err := time.Parse(time.RFC3339, toISO)
	if err != nil {
		return time.Time{}, time.Time{}, validationf("invalid to %q: must be RFC 3339", toISO)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, validationf("from must not be after to")
	}
	return from.UTC(), to.UTC(), nil
}

func busyIntervals(appts []model.Appointment) []BusyInterval {
	out := make([]BusyInterval, 0, len(appts))
	for i := range appts {
		a := &appts[i]
		if a.Cancelled() {
			continue
		}
		out = append(out, BusyInterval{
			StartISO:      a.StartTime.UTC().Format(time.RFC3339),
			EndISO:        a.EndTime.UTC().Format(time.RFC3339),
			AppointmentID: a.AppointmentID,
		})
	}
	return out
}
