package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/opalhealth/clinic-scheduler/libs/config"
	"github.com/opalhealth/clinic-scheduler/libs/db"
	"github.com/opalhealth/clinic-scheduler/libs/httpx"
	"github.com/opalhealth/clinic-scheduler/libs/kafkax"
	otelx "github.com/opalhealth/clinic-scheduler/libs/otel"
	"github.com/opalhealth/clinic-scheduler/libs/runtime"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/handlers"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/outbox"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/scheduling"
	"github.com/opalhealth/clinic-scheduler/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8081")
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

	outboxRepo := outbox.NewRepository()
	repo := storage.NewAppointmentRepository(pool, outboxRepo)
	engine := scheduling.NewService(repo, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handlers.NewAppointmentHandler(engine, logger).Register(mux)

	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	limiterMiddleware := httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL; keeping in-memory rate limit", "err", err)
		} else {
			rdb := redis.NewClient(opts)
			limiterMiddleware = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service).
				Middleware(logger, true)
		}
	}

	corsOrigins := strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ",")
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 15*time.Second)),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         10 * time.Minute,
		}),
		limiterMiddleware,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
