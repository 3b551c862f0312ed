// Package booking is the state machine behind bookings, locks and day-slot overrides.
// Every transition runs inside one storage unit of work keyed by vessel-day, and
// notifications go out only after that unit commits.
package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	otelx "github.com/harborops/slotkeeper/libs/otel"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// VesselSource resolves vessel configuration. It returns an apperr NotFound for
// unknown vessels.
type VesselSource interface {
	Vessel(ctx context.Context, id string) (model.Vessel, error)
}

type Notifier interface {
	Notify(ctx context.Context, t Transition)
}

type TransitionKind string

const (
	Created       TransitionKind = "created"
	StatusChanged TransitionKind = "status_changed"
	Rescheduled   TransitionKind = "rescheduled"
)

// Transition describes a committed booking change.
type Transition struct {
	Kind     TransitionKind
	Actor    model.Actor
	Booking  model.Booking
	Previous model.BookingStatus
}

const DefaultLockTTL = 10 * time.Minute

type Options struct {
	LockTTL  time.Duration
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

type Engine struct {
	store    storage.Store
	vessels  VesselSource
	notifier Notifier
	lockTTL  time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewEngine(store storage.Store, vessels VesselSource, notifier Notifier, opts Options) *Engine {
	e := &Engine{
		store:    store,
		vessels:  vessels,
		notifier: notifier,
		lockTTL:  opts.LockTTL,
		loc:      opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,
		tracer:   otelx.Tracer("booking-service/booking"),
	}
	if e.lockTTL <= 0 {
		e.lockTTL = DefaultLockTTL
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func (e *Engine) Location() *time.Location { return e.loc }

// Today is the current operating date in the engine's timezone.
func (e *Engine) Today() time.Time { return model.DateOf(e.now(), e.loc) }

// retry runs fn again once when it lost a race to another writer on the same key.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if apperr.Is(err, apperr.ConcurrencyConflict) && ctx.Err() == nil {
		e.logger.Warn("concurrent write, retrying once", "op", op, "err", err)
		err = fn()
	}
	return err
}

func (e *Engine) start(ctx context.Context, op string, key storage.Key) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "booking."+op, trace.WithAttributes(
		attribute.String("vessel_id", key.VesselID),
		attribute.String("date", key.Date.Format(model.DateLayout)),
	))
}

func (e *Engine) notify(ctx context.Context, t Transition) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, t)
}

// place aligns iv onto the day's slot shape and checks it lies within the shape's bounds.
func (e *Engine) place(ctx context.Context, tx storage.Tx, vessel model.Vessel, key storage.Key, iv slots.Interval) (slots.Interval, error) {
	override, err := tx.GetDaySlots(ctx, key)
	if err != nil {
		return slots.Interval{}, err
	}
	shape, err := vessel.Shape(override)
	if err != nil {
		return slots.Interval{}, err
	}
	bounds, ok := slots.Bounds(shape)
	if !ok {
		return slots.Interval{}, apperr.New(apperr.InvalidConfiguration, "vessel %s has no slots on %s", vessel.ID, key.Date.Format(model.DateLayout))
	}
	iv = slots.Align(iv, bounds)
	if !iv.Valid() {
		return slots.Interval{}, apperr.New(apperr.InvalidRange, "end %s must be after start %s", iv.End, iv.Start)
	}
	if !slots.Covers(shape, iv) {
		return slots.Interval{}, apperr.New(apperr.InvalidRange, "%s is not covered by the slots of %s", iv, key.Date.Format(model.DateLayout))
	}
	return iv, nil
}

// upcoming rejects an interval whose start instant has already been reached.
func (e *Engine) upcoming(key storage.Key, iv slots.Interval) error {
	if starts := model.Instant(key.Date, iv.Start, e.loc); !starts.After(e.now()) {
		return apperr.New(apperr.InvalidRange, "%s on %s has already started", iv, key.Date.Format(model.DateLayout))
	}
	return nil
}

func (e *Engine) release(ctx context.Context, tx storage.Tx, recs []model.AvailabilityRecord) error {
	for _, r := range recs {
		if err := tx.DeleteRecord(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// occupy marks span booked for b, converting reuse in place when the resolver found a
// lock to take over.
func (e *Engine) occupy(ctx context.Context, tx storage.Tx, key storage.Key, span slots.Interval, b model.Booking, reuse *model.AvailabilityRecord) (model.AvailabilityRecord, error) {
	rec := model.AvailabilityRecord{
		VesselID:  key.VesselID,
		Date:      key.Date,
		Start:     span.Start,
		End:       span.End,
		OwnerID:   b.OwnerID,
		BookingID: b.ID,
		ExpiresAt: b.EndsAt,
	}
	if reuse != nil {
		rec.ID = reuse.ID
		return tx.ConvertToBooked(ctx, rec)
	}
	return tx.InsertBooked(ctx, rec)
}

func (e *Engine) vessel(ctx context.Context, id string) (model.Vessel, error) {
	if id == "" {
		return model.Vessel{}, apperr.New(apperr.InvalidRange, "vessel id is required")
	}
	return e.vessels.Vessel(ctx, id)
}

func newID() string { return uuid.NewString() }
