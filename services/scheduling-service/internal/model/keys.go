package model

import (
	"fmt"
	"time"
)

// Derived index keys. These are stored redundantly next to their source
// fields and recomputed on every write; external tooling that inspects the
// store directly depends on the exact string layout, so do not change it.
//
//	DayBucket: "START#YYYYMMDD"              (UTC day)
//	StartKey:  "START#YYYYMMDD#HHMM"         (UTC, 24h, zero-padded)
//	UserKey:   "USER#<tenant>#<user>"
//	DoctorKey: "DOC#<tenant>#<doctor>"
//	StatusKey: "STATUS#<tenant>#<status>"

const dayLayout = "2006-01-02"

func DayBucket(t time.Time) string {
	return "START#" + t.UTC().Format("20060102")
}

func StartKey(t time.Time) string {
	u := t.UTC()
	return DayBucket(u) + "#" + u.Format("1504")
}

func UserKey(tenantID, userID string) string {
	return "USER#" + tenantID + "#" + userID
}

func DoctorKey(tenantID, doctorID string) string {
	return "DOC#" + tenantID + "#" + doctorID
}

func StatusKey(tenantID, status string) string {
	return "STATUS#" + tenantID + "#" + status
}

// DayKeyRange returns the inclusive StartKey bounds covering one UTC day.
// An appointment that crosses UTC midnight sorts under its start day only,
// so a single-day range never sees it from the far side of midnight.
func DayKeyRange(dayISO string) (string, string, error) {
	day, err := time.ParseInLocation(dayLayout, dayISO, time.UTC)
	if err != nil {
		return "", "", fmt.Errorf("invalid day %q (want YYYY-MM-DD): %w", dayISO, err)
	}
	bucket := DayBucket(day)
	return bucket + "#0000", bucket + "#2359", nil
}

// RecomputeKeys returns all four derived keys for the appointment's current
// source fields.
func RecomputeKeys(a *Appointment) (startKey, userKey, doctorKey, statusKey string) {
	return StartKey(a.StartTime),
		UserKey(a.TenantID, a.UserID),
		DoctorKey(a.TenantID, a.DoctorID),
		StatusKey(a.TenantID, a.Status)
}
