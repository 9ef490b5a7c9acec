package sync

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// PendingAppointment is the slice of an appointment row the sync loop needs.
// The table is owned by the scheduling service; this service only reads
// pending rows and writes back the sync outcome.
type PendingAppointment struct {
	TenantID        string
	AppointmentID   string
	PatientName     string
	PatientEmail    string
	DoctorID        string
	DoctorName      string
	StartTime       time.Time
	EndTime         time.Time
	Status          string
	Notes           string
	CalendarEventID string
	SyncAttempts    int
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// FetchPending claims up to limit appointments awaiting calendar sync.
// SKIP LOCKED keeps concurrent workers from fighting over the same rows.
func (r *Repository) FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]PendingAppointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT tenant_id, appointment_id, patient_name, COALESCE(patient_email, ''),
		       doctor_id, COALESCE(doctor_name, ''), start_time, end_time, status,
		       COALESCE(notes, ''), COALESCE(calendar_event_id, ''), calendar_sync_attempts
		FROM appointments
		WHERE calendar_sync_status = 'pending'
		ORDER BY updated_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingAppointment
	for rows.Next() {
		var p PendingAppointment
		if err := rows.Scan(
			&p.TenantID, &p.AppointmentID, &p.PatientName, &p.PatientEmail,
			&p.DoctorID, &p.DoctorName, &p.StartTime, &p.EndTime, &p.Status,
			&p.Notes, &p.CalendarEventID, &p.SyncAttempts,
		); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (r *Repository) MarkSynced(ctx context.Context, tx pgx.Tx, tenantID, appointmentID, eventID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET calendar_sync_status = 'synced',
		    calendar_event_id = NULLIF($3, ''),
		    calendar_sync_attempts = 0,
		    updated_at = now()
		WHERE tenant_id = $1 AND appointment_id = $2
	`, tenantID, appointmentID, eventID)
	return err
}

// MarkFailed bumps the attempt counter; once maxAttempts is reached the row
// moves to 'error' and leaves the queue until an operator resets it.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string, attempts, maxAttempts int) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "error"
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET calendar_sync_status = $3,
		    calendar_sync_attempts = $4,
		    updated_at = now()
		WHERE tenant_id = $1 AND appointment_id = $2
	`, tenantID, appointmentID, status, attempts)
	return err
}
