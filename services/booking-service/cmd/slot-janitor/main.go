// Command slot-janitor sweeps expired availability records on a schedule, for hosts that
// run the sweep outside the booking service.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/harborops/slotkeeper/libs/config"
	"github.com/harborops/slotkeeper/libs/db"
	otelx "github.com/harborops/slotkeeper/libs/otel"
	"github.com/harborops/slotkeeper/libs/runtime"
	"github.com/harborops/slotkeeper/services/booking-service/internal/janitor"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	service := config.String("SERVICE_NAME", "slot-janitor")
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
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	j := janitor.New(storage.NewPostgres(pool), logger, janitor.Config{
		Interval: config.Duration("JANITOR_INTERVAL", 24*time.Hour),
		Location: loc,
	})
	if *once {
		if _, err := j.Sweep(ctx); err != nil {
			logger.Error("janitor sweep failed", "err", err)
			pool.Close()
			os.Exit(1)
		}
		return
	}
	logger.Info("janitor starting")
	j.Run(ctx)
	logger.Info("janitor stopped")
}
