package scheduling

import (
	"context"
	"time"

	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/model"
)

// TargetRef identifies the appointment a reschedule or cancel applies to.
// It is a two-variant reference: either an opaque appointment ID, or the
// natural triple (userId, doctorId, startIso) for callers who only know
// "my appointment with this doctor at this time". Exactly one variant is
// populated; validation is per variant so error messages stay precise.
type TargetRef struct {
	appointmentID string
	natural       naturalKey
}

type naturalKey struct {
	userID   string
	doctorID string
	startISO string
}

func ByID(appointmentID string) TargetRef {
	return TargetRef{appointmentID: appointmentID}
}

func ByNaturalKey(userID, doctorID, startISO string) TargetRef {
	return TargetRef{natural: naturalKey{userID: userID, doctorID: doctorID, startISO: startISO}}
}

func (s *Service) resolveTarget(ctx context.Context, tenantID string, ref TargetRef) (*model.Appointment, error) {
	if ref.appointmentID != "" {
		appt, err := s.store.GetByID(ctx, tenantID, ref.appointmentID)
		if err != nil {
			return nil, storeErr("get appointment by id", err)
		}
		if appt == nil {
			return nil, notFoundf("appointment %s not found", ref.appointmentID)
		}
		return appt, nil
	}

	nk := ref.natural
	if nk.userID == "" || nk.doctorID == "" || nk.startISO == "" {
		return nil, validationf("appointmentId or the full (userId, doctorId, startIso) triple is required")
	}
	start, err := time.Parse(time.RFC3339, nk.startISO)
	if err != nil {
		return nil, validationf("invalid startIso %q: must be RFC 3339", nk.startISO)
	}

	appt, err := s.store.GetByNaturalKey(ctx, tenantID, nk.userID, start)
	if err != nil {
		return nil, storeErr("get appointment by natural key", err)
	}
	if appt == nil || appt.DoctorID != nk.doctorID {
		return nil, notFoundf("no appointment for user %s with doctor %s at %s", nk.userID, nk.doctorID, nk.startISO)
	}
	return appt, nil
}
