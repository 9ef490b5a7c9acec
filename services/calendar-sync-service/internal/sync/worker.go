package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/opalhealth/clinic-scheduler/libs/db"
	"github.com/opalhealth/clinic-scheduler/services/calendar-sync-service/internal/calendar"
)

type Worker struct {
	pool        *db.Pool
	repo        *Repository
	client      calendar.Client
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	nudge       chan struct{}
}

type WorkerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func NewWorker(pool *db.Pool, repo *Repository, client calendar.Client, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{
		pool:        pool,
		repo:        repo,
		client:      client,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		nudge:       make(chan struct{}, 1),
	}
}

// Nudge wakes the loop ahead of the next tick. Safe to call from any
// goroutine; a nudge while one is already queued is dropped.
func (w *Worker) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.nudge:
		}
		if err := w.processBatch(ctx); err != nil {
			w.logger.Error("calendar sync batch failed", "err", err)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pending, err := w.repo.FetchPending(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return tx.Commit(ctx)
	}

	for _, appt := range pending {
		eventID, err := w.push(ctx, appt)
		if err != nil {
			attempts := appt.SyncAttempts + 1
			w.logger.Error("calendar push failed",
				"tenantId", appt.TenantID,
				"appointmentId", appt.AppointmentID,
				"attempt", attempts,
				"err", err)
			if err := w.repo.MarkFailed(ctx, tx, appt.TenantID, appt.AppointmentID, attempts, w.maxAttempts); err != nil {
				return err
			}
			continue
		}
		if err := w.repo.MarkSynced(ctx, tx, appt.TenantID, appt.AppointmentID, eventID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// push mirrors the row's state to the provider: cancelled rows delete their
// event, rows with an event id update it, new rows create one. Returns the
// event id to persist (empty after a delete).
func (w *Worker) push(ctx context.Context, appt PendingAppointment) (string, error) {
	if appt.Status == "cancelled" {
		if appt.CalendarEventID == "" {
			return "", nil
		}
		if err := w.client.DeleteEvent(ctx, appt.TenantID, appt.CalendarEventID); err != nil {
			return "", err
		}
		return "", nil
	}

	ev := eventFor(appt)
	if appt.CalendarEventID != "" {
		if err := w.client.UpdateEvent(ctx, appt.CalendarEventID, ev); err != nil {
			return "", err
		}
		return appt.CalendarEventID, nil
	}
	return w.client.CreateEvent(ctx, ev)
}

func eventFor(appt PendingAppointment) calendar.Event {
	title := "Appointment: " + appt.PatientName
	if appt.DoctorName != "" {
		title += " with " + appt.DoctorName
	}
	return calendar.Event{
		TenantID:    appt.TenantID,
		Title:       title,
		Description: appt.Notes,
		StartISO:    appt.StartTime.UTC().Format(time.RFC3339),
		EndISO:      appt.EndTime.UTC().Format(time.RFC3339),
		Attendee:    appt.PatientEmail,
	}
}
