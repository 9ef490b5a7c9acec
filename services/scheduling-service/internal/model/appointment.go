package model

import "time"

// Appointment statuses. Cancelled is terminal. Rescheduled exists in the
// enum but is never assigned: moving a booking keeps it scheduled. The
// value is reserved so stored data and API clients can rely on the full set.
const (
	StatusScheduled   = "scheduled"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
)

// Calendar mirror states, written back by the calendar-sync worker.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

func ValidStatus(s string) bool {
	return s == StatusScheduled || s == StatusCancelled || s == StatusRescheduled
}

// Appointment is a time-boxed booking of a doctor within a tenant.
// StartTime/EndTime are canonical UTC instants; the booked interval is
// half-open [StartTime, EndTime).
type Appointment struct {
	AppointmentID      string
	TenantID           string
	UserID             string
	PatientName        string
	PatientPhone       string
	PatientEmail       string
	DoctorID           string
	DoctorName         string
	StartTime          time.Time
	EndTime            time.Time
	DurationMinutes    int
	Status             string
	Source             string
	Notes              string
	CalendarEventID    string
	CalendarSyncStatus string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a *Appointment) Cancelled() bool {
	return a.Status == StatusCancelled
}

// Overlaps reports whether the appointment's interval intersects
// [start, end). Adjacent intervals (end == other start) do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}
