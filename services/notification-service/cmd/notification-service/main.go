package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/harborops/slotkeeper/libs/config"
	"github.com/harborops/slotkeeper/libs/db"
	"github.com/harborops/slotkeeper/libs/httpx"
	"github.com/harborops/slotkeeper/libs/kafkax"
	otelx "github.com/harborops/slotkeeper/libs/otel"
	"github.com/harborops/slotkeeper/libs/runtime"
	"github.com/harborops/slotkeeper/services/notification-service/internal/consumer"
	"github.com/harborops/slotkeeper/services/notification-service/internal/delivery"
	"github.com/harborops/slotkeeper/services/notification-service/internal/inbox"
	"github.com/harborops/slotkeeper/services/notification-service/internal/push"
	"github.com/harborops/slotkeeper/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 5, 1))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()
	if config.Bool("DB_AUTO_MIGRATE", true) {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("migration failed", "err", err)
			panic(err)
		}
	}

	var sender push.Sender
	switch strings.ToLower(config.String("PUSH_PROVIDER", "noop")) {
	case "webhook":
		sender = push.NewWebhookSender(config.String("PUSH_WEBHOOK_URL", ""), config.String("PUSH_WEBHOOK_TOKEN", ""))
	default:
		sender = push.NewNoopSender()
	}

	handler := delivery.NewHandler(sender, storage.NewRepository(pool), logger)
	brokers := config.String("KAFKA_BROKERS", "")
	eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "booking.notification.requested.v1"),
	}, handler.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
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
	runtime.Drain(logger, "http", 10*time.Second, srv.Shutdown)
	logger.Info("http server stopped")
}
