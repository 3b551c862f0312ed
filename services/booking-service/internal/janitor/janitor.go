// Package janitor periodically removes availability records and day-slot overrides
// that no longer matter.
package janitor

import (
	"context"
	"log/slog"
	"time"

	otelx "github.com/harborops/slotkeeper/libs/otel"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Config struct {
	Interval time.Duration
	Location *time.Location
	Now      func() time.Time
}

type Janitor struct {
	store    storage.Store
	logger   *slog.Logger
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
}

func New(store storage.Store, logger *slog.Logger, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: store, logger: logger, interval: cfg.Interval, loc: cfg.Location, now: cfg.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Error("janitor sweep failed", "err", err)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Error("janitor sweep failed", "err", err)
			}
		}
	}
}

// Sweep deletes records dated before today and expired records no live booking holds.
// Running it twice in a row deletes nothing the second time.
func (j *Janitor) Sweep(ctx context.Context) (storage.SweepResult, error) {
	now := j.now()
	today := model.DateOf(now, j.loc)

	ctx, span := otelx.Tracer("booking-service/janitor").Start(ctx, "janitor.sweep")
	defer span.End()

	res, err := j.store.DeleteIfExpiredAndUnbooked(ctx, today, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return storage.SweepResult{}, err
	}
	span.SetAttributes(
		attribute.Int64("records_deleted", res.Records),
		attribute.Int64("day_slots_deleted", res.DaySlots),
	)
	j.logger.Info("janitor sweep finished",
		"today", today.Format(model.DateLayout),
		"records_deleted", res.Records,
		"day_slots_deleted", res.DaySlots,
	)
	return res, nil
}
