package main

import (
	"context"
	"net/http"
	"time"

	"github.com/opalhealth/clinic-scheduler/libs/config"
	"github.com/opalhealth/clinic-scheduler/libs/db"
	otelx "github.com/opalhealth/clinic-scheduler/libs/otel"
	"github.com/opalhealth/clinic-scheduler/libs/runtime"
	"github.com/opalhealth/clinic-scheduler/services/calendar-sync-service/internal/calendar"
	"github.com/opalhealth/clinic-scheduler/services/calendar-sync-service/internal/consumer"
	"github.com/opalhealth/clinic-scheduler/services/calendar-sync-service/internal/sync"
	"github.com/segmentio/kafka-go"
)

func main() {
	service := config.String("SERVICE_NAME", "calendar-sync-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var client calendar.Client
	if webhookURL := config.String("CALENDAR_WEBHOOK_URL", ""); webhookURL != "" {
		client = calendar.NewWebhookClient(webhookURL, config.String("CALENDAR_WEBHOOK_TOKEN", ""))
	} else {
		logger.Warn("CALENDAR_WEBHOOK_URL not set; running with noop calendar provider")
		client = calendar.NewNoopClient()
	}
	logger.Info("calendar provider configured", "provider", client.ProviderID())

	worker := sync.NewWorker(pool, sync.NewRepository(), client, logger, sync.WorkerConfig{
		Interval:    config.Seconds("SYNC_POLL_SECONDS", 5*time.Second),
		BatchSize:   config.Int("SYNC_BATCH_SIZE", 25),
		MaxAttempts: config.Int("SYNC_MAX_ATTEMPTS", 5),
	})
	go worker.Run(ctx)

	// Appointment events trigger an immediate sync pass; the poll tick
	// remains the fallback when Kafka is not configured.
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		groupID := config.String("KAFKA_GROUP_ID", "calendar-sync-service")
		for _, topic := range []string{
			config.String("KAFKA_TOPIC_CREATED", "scheduling.appointment.created.v1"),
			config.String("KAFKA_TOPIC_RESCHEDULED", "scheduling.appointment.rescheduled.v1"),
			config.String("KAFKA_TOPIC_CANCELLED", "scheduling.appointment.cancelled.v1"),
		} {
			if topic == "" {
				continue
			}
			eventConsumer := consumer.New(logger, consumer.Config{
				Brokers: brokers,
				GroupID: groupID,
				Topic:   topic,
			}, func(ctx context.Context, msg kafka.Message) error {
				worker.Nudge()
				return nil
			})
			go eventConsumer.Run(ctx)
		}
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
