package booking

import (
	"context"
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/conflict"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
)

type CreateRequest struct {
	VesselID   string
	CustomerID string
	Date       time.Time
	Interval   slots.Interval
	Passengers int
	// QuotedAmount and PendingAmount default to the vessel's running-cost quote.
	QuotedAmount   *int64
	PendingAmount  *int64
	IdempotencyKey string
}

// Create books an interval. Privileged actors get a confirmed booking, everyone else a
// pending one. A repeated IdempotencyKey from the same actor returns the first booking.
func (e *Engine) Create(ctx context.Context, actor model.Actor, req CreateRequest) (model.Booking, error) {
	if req.CustomerID == "" {
		return model.Booking{}, apperr.New(apperr.InvalidRange, "customer id is required")
	}
	vessel, err := e.vessel(ctx, req.VesselID)
	if err != nil {
		return model.Booking{}, err
	}
	if err := vessel.CheckCapacity(req.Passengers); err != nil {
		return model.Booking{}, err
	}

	key := storage.KeyOf(vessel.ID, req.Date)
	ctx, span := e.start(ctx, "Create", key)
	defer span.End()

	var (
		created model.Booking
		replay  bool
	)
	err = e.retry(ctx, "create", func() error {
		replay = false
		return e.store.Atomically(ctx, []storage.Key{key}, func(tx storage.Tx) error {
			if req.IdempotencyKey != "" {
				prior, ok, err := tx.FindBookingByIdempotencyKey(ctx, actor.ID, req.IdempotencyKey)
				if err != nil {
					return err
				}
				if ok {
					created, replay = prior, true
					return nil
				}
			}

			iv, err := e.place(ctx, tx, vessel, key, req.Interval)
			if err != nil {
				return err
			}
			if err := e.upcoming(key, iv); err != nil {
				return err
			}
			outcome, err := conflict.Resolve(ctx, tx, conflict.Request{Key: key, Interval: iv, Actor: actor, Now: e.now()})
			if err != nil {
				return err
			}
			if err := outcome.Err(); err != nil {
				return err
			}
			if err := e.release(ctx, tx, outcome.Release); err != nil {
				return err
			}

			b := e.newBooking(actor, vessel, req, iv)
			if err := tx.InsertBooking(ctx, b); err != nil {
				return err
			}
			if _, err := e.occupy(ctx, tx, key, iv, b, outcome.Reuse); err != nil {
				return err
			}
			created = b
			return nil
		})
	})
	if err != nil {
		return model.Booking{}, err
	}
	if !replay {
		e.logger.Info("booking created", "booking_id", created.ID, "vessel_id", created.VesselID,
			"date", created.Date.Format(model.DateLayout), "slot", created.Interval().String(), "status", created.Status)
		e.notify(ctx, Transition{Kind: Created, Actor: actor, Booking: created})
	}
	return created, nil
}

func (e *Engine) newBooking(actor model.Actor, vessel model.Vessel, req CreateRequest, iv slots.Interval) model.Booking {
	now := e.now()
	status := model.StatusPending
	if model.IsPrivileged(actor) {
		status = model.StatusConfirmed
	}
	quote := vessel.Quote(iv)
	if req.QuotedAmount != nil {
		quote = *req.QuotedAmount
	}
	pending := quote
	if req.PendingAmount != nil {
		pending = *req.PendingAmount
	}
	return model.Booking{
		ID:                  newID(),
		VesselID:            vessel.ID,
		CustomerID:          req.CustomerID,
		Date:                req.Date,
		Start:               iv.Start,
		End:                 iv.End,
		StartsAt:            model.Instant(req.Date, iv.Start, e.loc),
		EndsAt:              model.Instant(req.Date, iv.End, e.loc),
		QuotedAmount:        quote,
		PendingAmount:       pending,
		Passengers:          req.Passengers,
		Status:              status,
		OwnerID:             actor.ID,
		CreatedByPrivileged: model.IsPrivileged(actor),
		IdempotencyKey:      req.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

type RescheduleRequest struct {
	BookingID string
	// VesselID defaults to the booking's current vessel.
	VesselID string
	Date     time.Time
	Interval slots.Interval
}

// Reschedule moves a booking. The old record is removed and the new one written in the
// same unit of work, so a failure leaves the booking where it was.
func (e *Engine) Reschedule(ctx context.Context, actor model.Actor, req RescheduleRequest) (model.Booking, error) {
	current, err := e.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if !model.CanActFor(actor, current.OwnerID) {
		return model.Booking{}, apperr.New(apperr.Forbidden, "booking %s belongs to another user", current.ID)
	}
	if req.VesselID == "" {
		req.VesselID = current.VesselID
	}
	vessel, err := e.vessel(ctx, req.VesselID)
	if err != nil {
		return model.Booking{}, err
	}
	if err := vessel.CheckCapacity(current.Passengers); err != nil {
		return model.Booking{}, err
	}

	newKey := storage.KeyOf(vessel.ID, req.Date)
	ctx, span := e.start(ctx, "Reschedule", newKey)
	defer span.End()

	var moved model.Booking
	err = e.retry(ctx, "reschedule", func() error {
		oldKey := storage.KeyOf(current.VesselID, current.Date)
		return e.store.Atomically(ctx, []storage.Key{oldKey, newKey}, func(tx storage.Tx) error {
			b, err := tx.GetBookingForUpdate(ctx, current.ID)
			if err != nil {
				return err
			}
			if b.VesselID != current.VesselID || !b.Date.Equal(current.Date) {
				// Moved by someone else between the read and the lock; the retry re-reads.
				current = b
				return apperr.New(apperr.ConcurrencyConflict, "booking %s was rescheduled concurrently", b.ID)
			}
			if b.Status == model.StatusCancelled {
				return apperr.New(apperr.InvalidTransition, "booking %s is cancelled", b.ID)
			}

			iv, err := e.place(ctx, tx, vessel, newKey, req.Interval)
			if err != nil {
				return err
			}
			if err := e.upcoming(newKey, iv); err != nil {
				return err
			}
			outcome, err := conflict.Resolve(ctx, tx, conflict.Request{
				Key: newKey, Interval: iv, Actor: actor, IgnoreBookingID: b.ID, Now: e.now(),
			})
			if err != nil {
				return err
			}
			if err := outcome.Err(); err != nil {
				return err
			}
			if err := e.release(ctx, tx, outcome.Release); err != nil {
				return err
			}
			if _, err := tx.DeleteByBookingID(ctx, b.ID); err != nil {
				return err
			}

			b.VesselID = vessel.ID
			b.Date = req.Date
			b.Start, b.End = iv.Start, iv.End
			b.StartsAt = model.Instant(req.Date, iv.Start, e.loc)
			b.EndsAt = model.Instant(req.Date, iv.End, e.loc)
			b.UpdatedAt = e.now()
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
			if _, err := e.occupy(ctx, tx, newKey, iv, b, outcome.Reuse); err != nil {
				return err
			}
			moved = b
			return nil
		})
	})
	if err != nil {
		return model.Booking{}, err
	}
	e.logger.Info("booking rescheduled", "booking_id", moved.ID, "vessel_id", moved.VesselID,
		"date", moved.Date.Format(model.DateLayout), "slot", moved.Interval().String())
	e.notify(ctx, Transition{Kind: Rescheduled, Actor: actor, Booking: moved, Previous: moved.Status})
	return moved, nil
}

// checkTransition enforces pending -> confirmed -> cancelled and pending -> cancelled.
func checkTransition(actor model.Actor, b model.Booking, to model.BookingStatus) error {
	if b.Status == model.StatusCancelled {
		return apperr.New(apperr.InvalidTransition, "booking %s is cancelled", b.ID)
	}
	switch to {
	case model.StatusConfirmed:
		if b.Status != model.StatusPending {
			return apperr.New(apperr.InvalidTransition, "cannot confirm a %s booking", b.Status)
		}
		if !model.IsPrivileged(actor) {
			return apperr.New(apperr.Forbidden, "only privileged users can confirm bookings")
		}
	case model.StatusCancelled:
		if !model.CanActFor(actor, b.OwnerID) {
			return apperr.New(apperr.Forbidden, "booking %s belongs to another user", b.ID)
		}
	default:
		return apperr.New(apperr.InvalidTransition, "cannot move a %s booking to %s", b.Status, to)
	}
	return nil
}

// UpdateStatus confirms or cancels a booking. Cancelling deletes its availability record
// in the same unit of work. Setting the current status again is a no-op.
func (e *Engine) UpdateStatus(ctx context.Context, actor model.Actor, bookingID string, to model.BookingStatus) (model.Booking, error) {
	return e.mutateStatus(ctx, actor, bookingID, "update_status", func(tx storage.Tx, b *model.Booking) (bool, error) {
		if b.Status == to {
			return false, nil
		}
		if err := checkTransition(actor, *b, to); err != nil {
			return false, err
		}
		return true, e.setStatus(ctx, tx, b, to)
	})
}

func (e *Engine) setStatus(ctx context.Context, tx storage.Tx, b *model.Booking, to model.BookingStatus) error {
	now := e.now()
	b.Status = to
	b.UpdatedAt = now
	if to == model.StatusCancelled {
		b.CancelledAt = &now
		if _, err := tx.DeleteByBookingID(ctx, b.ID); err != nil {
			return err
		}
	}
	return tx.UpdateBooking(ctx, *b)
}

// mutateStatus locks the booking's vessel-day, lets apply change it and notifies when
// apply reports a change.
func (e *Engine) mutateStatus(ctx context.Context, actor model.Actor, bookingID, op string, apply func(storage.Tx, *model.Booking) (bool, error)) (model.Booking, error) {
	current, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	key := storage.KeyOf(current.VesselID, current.Date)
	ctx, span := e.start(ctx, op, key)
	defer span.End()

	var (
		result   model.Booking
		previous model.BookingStatus
		changed  bool
	)
	err = e.retry(ctx, op, func() error {
		return e.store.Atomically(ctx, []storage.Key{key}, func(tx storage.Tx) error {
			b, err := tx.GetBookingForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if b.VesselID != key.VesselID || !b.Date.Equal(key.Date) {
				key = storage.KeyOf(b.VesselID, b.Date)
				return apperr.New(apperr.ConcurrencyConflict, "booking %s was rescheduled concurrently", b.ID)
			}
			previous = b.Status
			changed, err = apply(tx, &b)
			if err != nil {
				return err
			}
			result = b
			return nil
		})
	})
	if err != nil {
		return model.Booking{}, err
	}
	if changed {
		e.logger.Info("booking status changed", "booking_id", result.ID, "from", previous, "to", result.Status, "actor_id", actor.ID)
		e.notify(ctx, Transition{Kind: StatusChanged, Actor: actor, Booking: result, Previous: previous})
	}
	return result, nil
}

func (e *Engine) Get(ctx context.Context, bookingID string) (model.Booking, error) {
	return e.store.GetBooking(ctx, bookingID)
}
