package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opalhealth/clinic-scheduler/libs/db"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/model"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/outbox"
)

// AppointmentRepository is the single logical appointment collection,
// addressable by primary key (tenant_id, appointment_id) and by the three
// derived-key access paths (doctor_key, user_key, status_key), each paired
// with start_key as the sort key. Every mutation recomputes the derived keys
// from their source fields and writes an outbox event in the same
// transaction.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

var (
	ErrAlreadyExists = errors.New("appointment id already exists")
	ErrNotFound      = errors.New("appointment not found")
)

// IsOverlap reports whether err is the doctor-overlap exclusion constraint
// firing (two non-cancelled appointments for one doctor with intersecting
// intervals).
func IsOverlap(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `
	tenant_id, appointment_id, user_id, patient_name,
	COALESCE(patient_phone, ''), COALESCE(patient_email, ''),
	doctor_id, COALESCE(doctor_name, ''),
	start_time, end_time, COALESCE(duration_minutes, 0),
	status, COALESCE(source, ''), COALESCE(notes, ''),
	COALESCE(calendar_event_id, ''), COALESCE(calendar_sync_status, ''),
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.TenantID,
		&a.AppointmentID,
		&a.UserID,
		&a.PatientName,
		&a.PatientPhone,
		&a.PatientEmail,
		&a.DoctorID,
		&a.DoctorName,
		&a.StartTime,
		&a.EndTime,
		&a.DurationMinutes,
		&a.Status,
		&a.Source,
		&a.Notes,
		&a.CalendarEventID,
		&a.CalendarSyncStatus,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts the full record plus derived keys. The write is guarded on
// the (tenant_id, appointment_id) primary key and returns ErrAlreadyExists
// if the ID is taken. An overlap with another non-cancelled appointment for
// the same doctor surfaces through IsOverlap.
func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment) (*model.Appointment, error) {
	startKey, userKey, doctorKey, statusKey := model.RecomputeKeys(appt)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(tenant_id, appointment_id, user_id, patient_name, patient_phone, patient_email,
			 doctor_id, doctor_name, start_time, end_time, duration_minutes,
			 status, source, notes, calendar_sync_status,
			 day_bucket, start_key, user_key, doctor_key, status_key)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''),
			$7, NULLIF($8, ''), $9, $10, $11,
			$12, NULLIF($13, ''), NULLIF($14, ''), $15,
			$16, $17, $18, $19, $20)
		ON CONFLICT (tenant_id, appointment_id) DO NOTHING
		RETURNING `+appointmentColumns,
		appt.TenantID, appt.AppointmentID, appt.UserID, appt.PatientName, appt.PatientPhone, appt.PatientEmail,
		appt.DoctorID, appt.DoctorName, appt.StartTime.UTC(), appt.EndTime.UTC(), appt.DurationMinutes,
		appt.Status, appt.Source, appt.Notes, appt.CalendarSyncStatus,
		model.DayBucket(appt.StartTime), startKey, userKey, doctorKey, statusKey,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	if err := r.emitEvent(ctx, tx, outbox.EventAppointmentCreated, created); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// GetByID returns nil without error when no record matches.
func (r *AppointmentRepository) GetByID(ctx context.Context, tenantID, appointmentID string) (*model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND appointment_id = $2
	`, tenantID, appointmentID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return appt, err
}

// GetByNaturalKey resolves "my appointment at this time" lookups where the
// caller knows no ID. Matching is by derived key, so start times agree at
// minute granularity.
func (r *AppointmentRepository) GetByNaturalKey(ctx context.Context, tenantID, userID string, start time.Time) (*model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND user_key = $2 AND start_key = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, model.UserKey(tenantID, userID), model.StartKey(start))
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return appt, err
}

// ListForDoctorOnDay is the bounded scan backing both availability rendering
// and conflict candidate sets. dayISO is a UTC calendar day (YYYY-MM-DD).
func (r *AppointmentRepository) ListForDoctorOnDay(ctx context.Context, tenantID, doctorID, dayISO string) ([]model.Appointment, error) {
	fromKey, toKey, err := model.DayKeyRange(dayISO)
	if err != nil {
		return nil, err
	}
	return r.listByKeyRange(ctx, tenantID, "doctor_key", model.DoctorKey(tenantID, doctorID), fromKey, toKey)
}

func (r *AppointmentRepository) ListForDoctorInRange(ctx context.Context, tenantID, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	fromKey := model.StartKey(from)
	toKey := model.StartKey(to)
	if fromKey > toKey {
		return nil, fmt.Errorf("range start %s is after range end %s", fromKey, toKey)
	}
	return r.listByKeyRange(ctx, tenantID, "doctor_key", model.DoctorKey(tenantID, doctorID), fromKey, toKey)
}

func (r *AppointmentRepository) ListForUserInRange(ctx context.Context, tenantID, userID string, from, to time.Time) ([]model.Appointment, error) {
	fromKey := model.StartKey(from)
	toKey := model.StartKey(to)
	if fromKey > toKey {
		return nil, fmt.Errorf("range start %s is after range end %s", fromKey, toKey)
	}
	return r.listByKeyRange(ctx, tenantID, "user_key", model.UserKey(tenantID, userID), fromKey, toKey)
}

func (r *AppointmentRepository) ListByStatus(ctx context.Context, tenantID, status, dayISO string) ([]model.Appointment, error) {
	fromKey, toKey, err := model.DayKeyRange(dayISO)
	if err != nil {
		return nil, err
	}
	return r.listByKeyRange(ctx, tenantID, "status_key", model.StatusKey(tenantID, status), fromKey, toKey)
}

// listByKeyRange runs the shared equality+sort-key-range access pattern.
// keyColumn is one of the three derived key columns, never caller input.
func (r *AppointmentRepository) listByKeyRange(ctx context.Context, tenantID, keyColumn, keyValue, fromKey, toKey string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND `+keyColumn+` = $2 AND start_key BETWEEN $3 AND $4
		ORDER BY start_key
	`, tenantID, keyValue, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

type UpdateScheduleInput struct {
	TenantID        string
	AppointmentID   string
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
	DoctorID        string
	DoctorName      string
	Notes           string
}

// UpdateSchedule rewrites the booked interval, doctor, and notes, recomputes
// start_key and doctor_key in the same write, and flags the record for the
// calendar-sync worker. Returns ErrNotFound if the target does not exist.
func (r *AppointmentRepository) UpdateSchedule(ctx context.Context, in UpdateScheduleInput) (*model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			duration_minutes = $5,
			doctor_id = $6,
			doctor_name = NULLIF($7, ''),
			notes = NULLIF($8, ''),
			day_bucket = $9,
			start_key = $10,
			doctor_key = $11,
			calendar_sync_status = $12,
			updated_at = now()
		WHERE tenant_id = $1 AND appointment_id = $2
		RETURNING `+appointmentColumns,
		in.TenantID, in.AppointmentID,
		in.StartTime.UTC(), in.EndTime.UTC(), in.DurationMinutes,
		in.DoctorID, in.DoctorName, in.Notes,
		model.DayBucket(in.StartTime), model.StartKey(in.StartTime), model.DoctorKey(in.TenantID, in.DoctorID),
		model.SyncPending,
	)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := r.emitEvent(ctx, tx, outbox.EventAppointmentRescheduled, updated); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatus is the guarded status + status_key update. Same existence
// guard as UpdateSchedule.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tenantID, appointmentID, status string) (*model.Appointment, error) {
	if !model.ValidStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			status_key = $4,
			updated_at = now()
		WHERE tenant_id = $1 AND appointment_id = $2
		RETURNING `+appointmentColumns,
		tenantID, appointmentID, status, model.StatusKey(tenantID, status),
	)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if status == model.StatusCancelled {
		if err := r.emitEvent(ctx, tx, outbox.EventAppointmentCancelled, updated); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *AppointmentRepository) emitEvent(ctx context.Context, tx pgx.Tx, eventType string, appt *model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointmentId": appt.AppointmentID,
		"tenantId":      appt.TenantID,
		"userId":        appt.UserID,
		"doctorId":      appt.DoctorID,
		"patientName":   appt.PatientName,
		"startIso":      appt.StartTime.UTC().Format(time.RFC3339),
		"endIso":        appt.EndTime.UTC().Format(time.RFC3339),
		"status":        appt.Status,
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.AppointmentID,
		EventType:     eventType,
		Payload:       payload,
	})
}
