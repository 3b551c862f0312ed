package main

import (
	"net/http"
	"time"

	"github.com/harborops/slotkeeper/libs/auth"
	"github.com/harborops/slotkeeper/libs/config"
	"github.com/harborops/slotkeeper/libs/httpx"
	"github.com/harborops/slotkeeper/libs/kafkax"
	otelx "github.com/harborops/slotkeeper/libs/otel"
	"github.com/harborops/slotkeeper/libs/runtime"
	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/harborops/slotkeeper/services/booking-service/internal/catalog"
	"github.com/harborops/slotkeeper/services/booking-service/internal/grid"
	"github.com/harborops/slotkeeper/services/booking-service/internal/handlers"
	"github.com/harborops/slotkeeper/services/booking-service/internal/janitor"
	"github.com/harborops/slotkeeper/services/booking-service/internal/notify"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer runtime.Drain(logger, "otel", 5*time.Second, otelShutdown)
	}

	loc, err := time.LoadLocation(config.String("TIMEZONE", "UTC"))
	if err != nil {
		panic(err)
	}

	store, storeCheck, closeStore, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		panic(err)
	}
	defer closeStore()
	checks := []runtime.ReadyCheck{storeCheck}

	fleet, closeFleet, err := openCatalog(logger)
	if err != nil {
		logger.Error("vessel catalog init failed", "err", err)
		panic(err)
	}
	defer closeFleet()

	var directory catalog.Directory = fleet
	rdb := openRedis()
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		directory = catalog.NewCachedDirectory(fleet, rdb, config.Duration("DIRECTORY_CACHE_SECONDS", 5*time.Minute))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}

	var sink notify.Sink = notify.LogSink{Logger: logger}
	brokers := config.String("KAFKA_BROKERS", "")
	if writer, err := kafkax.NewWriter(brokers, config.String("KAFKA_NOTIFICATION_TOPIC", notify.EventTypeNotification)); err == nil {
		defer func() { _ = writer.Close() }()
		sink = notify.NewKafkaSink(writer)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("kafka not configured; notifications are logged only", "err", err)
	}
	dispatcher := notify.NewDispatcher(notify.Router{
		PrivilegedRole: config.String("NOTIFY_PRIVILEGED_ROLE", "admin"),
		OnsiteRole:     config.String("NOTIFY_ONSITE_ROLE", "onsite"),
	}, sink, logger)
	defer dispatcher.Wait()

	engine := booking.NewEngine(store, fleet, dispatcher, booking.Options{
		LockTTL:  config.Duration("LOCK_TTL_SECONDS", booking.DefaultLockTTL),
		Location: loc,
		Logger:   logger,
	})
	aggregator := grid.NewAggregator(store, fleet, directory, grid.Options{
		MaxDays:  config.Int("GRID_MAX_DAYS", grid.DefaultMaxDays, 1),
		Location: loc,
		Logger:   logger,
	})

	if config.Bool("JANITOR_ENABLED", false) {
		j := janitor.New(store, logger, janitor.Config{
			Interval: config.Duration("JANITOR_INTERVAL", 24*time.Hour),
			Location: loc,
		})
		go j.Run(ctx)
	}

	verifier, err := newVerifier()
	if err != nil {
		panic(err)
	}

	h := handlers.New(engine, aggregator, auth.NewRolePolicy(config.List("PRIVILEGED_ROLES", "admin,owner")), logger, handlers.Config{
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: config.Duration("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 5*time.Minute),
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	h.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20, 1))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
		auth.RequireAuth(verifier, "/healthz", "/readyz", handlers.StripeWebhookPath),
		rateLimit(rdb, logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := startGrpcServer(ctx, logger, service); err != nil {
		logger.Error("grpc server init failed", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	runtime.Drain(logger, "http", 10*time.Second, srv.Shutdown)
	logger.Info("http server stopped")
}
