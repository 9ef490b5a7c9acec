package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/model"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/scheduling"
)

// Scheduler is the engine surface the HTTP layer needs.
type Scheduler interface {
	CreateAppointment(ctx context.Context, req scheduling.CreateRequest) (*model.Appointment, error)
	RescheduleAppointment(ctx context.Context, req scheduling.RescheduleRequest) (*model.Appointment, error)
	CancelAppointment(ctx context.Context, req scheduling.CancelRequest) (*model.Appointment, error)
	GetAvailability(ctx context.Context, tenantID, doctorID, dayISO string) ([]scheduling.BusyInterval, error)
	DoctorScheduleInRange(ctx context.Context, tenantID, doctorID, fromISO, toISO string) ([]scheduling.BusyInterval, error)
	UserScheduleInRange(ctx context.Context, tenantID, userID, fromISO, toISO string) ([]scheduling.BusyInterval, error)
	ListByStatus(ctx context.Context, tenantID, status, dayISO string) ([]model.Appointment, error)
}

type AppointmentHandler struct {
	scheduler Scheduler
	logger    *slog.Logger
}

func NewAppointmentHandler(scheduler Scheduler, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{scheduler: scheduler, logger: logger}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appointments", h.collection)
	mux.HandleFunc("/api/v1/appointments/", h.item)
}

func (h *AppointmentHandler) collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodPatch:
		h.reschedule(w, r, "")
	case http.MethodDelete:
		h.cancel(w, r, "")
	case http.MethodGet:
		h.listByStatus(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppointmentHandler) item(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/appointments/")
	if rest == "availability" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.availability(w, r)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPatch:
		h.reschedule(w, r, rest)
	case http.MethodDelete:
		h.cancel(w, r, rest)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createAppointmentRequest struct {
	TenantID        string `json:"tenantId"`
	UserID          string `json:"userId"`
	PatientName     string `json:"patientName"`
	PatientPhone    string `json:"patientPhone,omitempty"`
	PatientEmail    string `json:"patientEmail,omitempty"`
	DoctorID        string `json:"doctorId"`
	DoctorName      string `json:"doctorName,omitempty"`
	StartISO        string `json:"startIso"`
	EndISO          string `json:"endIso,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	Source          string `json:"source,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := h.scheduler.CreateAppointment(r.Context(), scheduling.CreateRequest{
		TenantID:        strings.TrimSpace(req.TenantID),
		UserID:          strings.TrimSpace(req.UserID),
		PatientName:     strings.TrimSpace(req.PatientName),
		PatientPhone:    strings.TrimSpace(req.PatientPhone),
		PatientEmail:    strings.TrimSpace(req.PatientEmail),
		DoctorID:        strings.TrimSpace(req.DoctorID),
		DoctorName:      strings.TrimSpace(req.DoctorName),
		StartISO:        strings.TrimSpace(req.StartISO),
		EndISO:          strings.TrimSpace(req.EndISO),
		DurationMinutes: req.DurationMinutes,
		Source:          strings.TrimSpace(req.Source),
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, appointmentToWire(appt))
}

// rescheduleAppointmentRequest resolves its target either by the path/body
// appointmentId or by the natural (userId, doctorId, startIso) triple.
// newDoctorId moves the booking to another doctor.
type rescheduleAppointmentRequest struct {
	TenantID           string `json:"tenantId"`
	AppointmentID      string `json:"appointmentId,omitempty"`
	UserID             string `json:"userId,omitempty"`
	DoctorID           string `json:"doctorId,omitempty"`
	StartISO           string `json:"startIso,omitempty"`
	NewDoctorID        string `json:"newDoctorId,omitempty"`
	NewDoctorName      string `json:"newDoctorName,omitempty"`
	NewStartISO        string `json:"newStartIso"`
	NewEndISO          string `json:"newEndIso,omitempty"`
	NewDurationMinutes int    `json:"newDurationMinutes,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

func (h *AppointmentHandler) reschedule(w http.ResponseWriter, r *http.Request, pathID string) {
	var req rescheduleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if pathID != "" {
		req.AppointmentID = pathID
	}

	appt, err := h.scheduler.RescheduleAppointment(r.Context(), scheduling.RescheduleRequest{
		TenantID:           strings.TrimSpace(req.TenantID),
		Target:             targetRef(req.AppointmentID, req.UserID, req.DoctorID, req.StartISO),
		DoctorID:           strings.TrimSpace(req.NewDoctorID),
		DoctorName:         strings.TrimSpace(req.NewDoctorName),
		NewStartISO:        strings.TrimSpace(req.NewStartISO),
		NewEndISO:          strings.TrimSpace(req.NewEndISO),
		NewDurationMinutes: req.NewDurationMinutes,
		Notes:              req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, appointmentToWire(appt))
}

type cancelAppointmentRequest struct {
	TenantID      string `json:"tenantId"`
	AppointmentID string `json:"appointmentId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	DoctorID      string `json:"doctorId,omitempty"`
	StartISO      string `json:"startIso,omitempty"`
}

func (h *AppointmentHandler) cancel(w http.ResponseWriter, r *http.Request, pathID string) {
	var req cancelAppointmentRequest
	// Some HTTP clients refuse to attach a body to DELETE; fall back to
	// query parameters for those.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	if req.TenantID == "" {
		req.TenantID = q.Get("tenantId")
	}
	if req.UserID == "" {
		req.UserID = q.Get("userId")
	}
	if req.DoctorID == "" {
		req.DoctorID = q.Get("doctorId")
	}
	if req.StartISO == "" {
		req.StartISO = q.Get("startIso")
	}
	if pathID != "" {
		req.AppointmentID = pathID
	}

	appt, err := h.scheduler.CancelAppointment(r.Context(), scheduling.CancelRequest{
		TenantID: strings.TrimSpace(req.TenantID),
		Target:   targetRef(req.AppointmentID, req.UserID, req.DoctorID, req.StartISO),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, appointmentToWire(appt))
}

type busyIntervalItem struct {
	StartISO      string `json:"startIso"`
	EndISO        string `json:"endIso"`
	AppointmentID string `json:"appointmentId"`
}

func (h *AppointmentHandler) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := strings.TrimSpace(q.Get("tenantId"))
	doctorID := strings.TrimSpace(q.Get("doctorId"))
	userID := strings.TrimSpace(q.Get("userId"))
	fromISO := strings.TrimSpace(q.Get("from"))
	toISO := strings.TrimSpace(q.Get("to"))
	dayISO := strings.TrimSpace(q.Get("date"))

	var (
		busy []scheduling.BusyInterval
		err  error
	)
	switch {
	case fromISO != "" || toISO != "":
		if doctorID != "" {
			busy, err = h.scheduler.DoctorScheduleInRange(r.Context(), tenantID, doctorID, fromISO, toISO)
		} else if userID != "" {
			busy, err = h.scheduler.UserScheduleInRange(r.Context(), tenantID, userID, fromISO, toISO)
		} else {
			http.Error(w, "doctorId or userId is required with a from/to range", http.StatusBadRequest)
			return
		}
	case dayISO != "":
		busy, err = h.scheduler.GetAvailability(r.Context(), tenantID, doctorID, dayISO)
	default:
		http.Error(w, "date or a from/to range is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]busyIntervalItem, 0, len(busy))
	for _, b := range busy {
		items = append(items, busyIntervalItem{
			StartISO:      b.StartISO,
			EndISO:        b.EndISO,
			AppointmentID: b.AppointmentID,
		})
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) listByStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appts, err := h.scheduler.ListByStatus(r.Context(),
		strings.TrimSpace(q.Get("tenantId")),
		strings.TrimSpace(q.Get("status")),
		strings.TrimSpace(q.Get("date")),
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]appointmentWire, 0, len(appts))
	for i := range appts {
		items = append(items, appointmentToWire(&appts[i]))
	}
	h.writeJSON(w, http.StatusOK, items)
}

func targetRef(appointmentID, userID, doctorID, startISO string) scheduling.TargetRef {
	if id := strings.TrimSpace(appointmentID); id != "" {
		return scheduling.ByID(id)
	}
	return scheduling.ByNaturalKey(
		strings.TrimSpace(userID),
		strings.TrimSpace(doctorID),
		strings.TrimSpace(startISO),
	)
}

type appointmentWire struct {
	AppointmentID      string `json:"appointmentId"`
	TenantID           string `json:"tenantId"`
	UserID             string `json:"userId"`
	PatientName        string `json:"patientName"`
	PatientPhone       string `json:"patientPhone,omitempty"`
	PatientEmail       string `json:"patientEmail,omitempty"`
	DoctorID           string `json:"doctorId"`
	DoctorName         string `json:"doctorName,omitempty"`
	StartISO           string `json:"startIso"`
	EndISO             string `json:"endIso"`
	DurationMinutes    int    `json:"durationMinutes,omitempty"`
	Status             string `json:"status"`
	Source             string `json:"source,omitempty"`
	Notes              string `json:"notes,omitempty"`
	CalendarEventID    string `json:"calendarEventId,omitempty"`
	CalendarSyncStatus string `json:"calendarSyncStatus,omitempty"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt"`
}

func appointmentToWire(a *model.Appointment) appointmentWire {
	return appointmentWire{
		AppointmentID:      a.AppointmentID,
		TenantID:           a.TenantID,
		UserID:             a.UserID,
		PatientName:        a.PatientName,
		PatientPhone:       a.PatientPhone,
		PatientEmail:       a.PatientEmail,
		DoctorID:           a.DoctorID,
		DoctorName:         a.DoctorName,
		StartISO:           a.StartTime.UTC().Format(time.RFC3339),
		EndISO:             a.EndTime.UTC().Format(time.RFC3339),
		DurationMinutes:    a.DurationMinutes,
		Status:             a.Status,
		Source:             a.Source,
		Notes:              a.Notes,
		CalendarEventID:    a.CalendarEventID,
		CalendarSyncStatus: a.CalendarSyncStatus,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *AppointmentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps the engine taxonomy onto status codes: not-found business
// errors are 404, validation and conflict errors are 400, everything else
// is a 500 whose detail stays in the logs.
func (h *AppointmentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case scheduling.IsNotFound(err):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case scheduling.IsValidation(err), scheduling.IsConflict(err):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("appointment request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
