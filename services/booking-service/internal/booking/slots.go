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

type SlotRequest struct {
	VesselID string
	Date     time.Time
	Interval slots.Interval
}

// Lock holds an interval for the actor until the lock TTL passes. Re-locking one's own
// interval refreshes it; privileged actors take over other actors' locks.
func (e *Engine) Lock(ctx context.Context, actor model.Actor, req SlotRequest) (model.AvailabilityRecord, error) {
	vessel, err := e.vessel(ctx, req.VesselID)
	if err != nil {
		return model.AvailabilityRecord{}, err
	}
	key := storage.KeyOf(vessel.ID, req.Date)
	ctx, span := e.start(ctx, "Lock", key)
	defer span.End()

	var locked model.AvailabilityRecord
	err = e.retry(ctx, "lock", func() error {
		return e.store.Atomically(ctx, []storage.Key{key}, func(tx storage.Tx) error {
			iv, err := e.place(ctx, tx, vessel, key, req.Interval)
			if err != nil {
				return err
			}
			if err := e.upcoming(key, iv); err != nil {
				return err
			}
			now := e.now()
			outcome, err := conflict.Resolve(ctx, tx, conflict.Request{Key: key, Interval: iv, Actor: actor, Now: now})
			if err != nil {
				return err
			}
			if err := outcome.Err(); err != nil {
				return err
			}
			if err := e.release(ctx, tx, outcome.Release); err != nil {
				return err
			}
			rec := model.AvailabilityRecord{
				VesselID:  key.VesselID,
				Date:      key.Date,
				Start:     iv.Start,
				End:       iv.End,
				OwnerID:   actor.ID,
				ExpiresAt: now.Add(e.lockTTL),
			}
			if outcome.Reuse != nil {
				rec.ID = outcome.Reuse.ID
			}
			locked, err = tx.UpsertLocked(ctx, rec)
			return err
		})
	})
	if err != nil {
		return model.AvailabilityRecord{}, err
	}
	e.logger.Debug("slot locked", "vessel_id", locked.VesselID, "slot", locked.Interval().String(), "actor_id", actor.ID)
	return locked, nil
}

// Release deletes the locks overlapping an interval. Booked records cannot be released
// and other actors' live locks only by privileged actors.
func (e *Engine) Release(ctx context.Context, actor model.Actor, req SlotRequest) (int, error) {
	vessel, err := e.vessel(ctx, req.VesselID)
	if err != nil {
		return 0, err
	}
	key := storage.KeyOf(vessel.ID, req.Date)
	ctx, span := e.start(ctx, "Release", key)
	defer span.End()

	var released int
	err = e.store.Atomically(ctx, []storage.Key{key}, func(tx storage.Tx) error {
		iv, err := e.place(ctx, tx, vessel, key, req.Interval)
		if err != nil {
			return err
		}
		overlaps, err := tx.FindOverlaps(ctx, key, iv)
		if err != nil {
			return err
		}
		if len(overlaps) == 0 {
			return apperr.New(apperr.NotFound, "no lock on %s", iv)
		}
		now := e.now()
		for _, r := range overlaps {
			if r.State == model.RecordBooked {
				return apperr.WithConflict(apperr.ImmutableSlot, r.Conflict(), "%s is booked and cannot be released", r.Interval())
			}
			if !r.Expired(now) && !model.CanActFor(actor, r.OwnerID) {
				return apperr.WithConflict(apperr.Forbidden, r.Conflict(), "%s is locked by another user", r.Interval())
			}
		}
		if err := e.release(ctx, tx, overlaps); err != nil {
			return err
		}
		released = len(overlaps)
		return nil
	})
	return released, err
}

type EditRequest struct {
	VesselID string
	Date     time.Time
	Index    int
	Interval slots.Interval
}

// EditSlot applies one manual slot edit to a date's shape and saves the result as that
// date's override. Only privileged actors may override a day's layout.
func (e *Engine) EditSlot(ctx context.Context, actor model.Actor, req EditRequest) ([]slots.Entry, error) {
	if !model.IsPrivileged(actor) {
		return nil, apperr.New(apperr.Forbidden, "only privileged users can edit slots")
	}
	vessel, err := e.vessel(ctx, req.VesselID)
	if err != nil {
		return nil, err
	}
	key := storage.KeyOf(vessel.ID, req.Date)
	ctx, span := e.start(ctx, "EditSlot", key)
	defer span.End()

	var edited []slots.Entry
	err = e.store.Atomically(ctx, []storage.Key{key}, func(tx storage.Tx) error {
		override, err := tx.GetDaySlots(ctx, key)
		if err != nil {
			return err
		}
		shape, err := vessel.Shape(override)
		if err != nil {
			return err
		}
		recs, err := tx.ListRecords(ctx, key)
		if err != nil {
			return err
		}
		bookings := map[string]model.Booking{}
		for _, r := range recs {
			if r.BookingID == "" {
				continue
			}
			b, err := tx.GetBookingForUpdate(ctx, r.BookingID)
			if err != nil {
				return err
			}
			bookings[b.ID] = b
		}
		entries, _ := model.Overlay(shape, recs, bookings, e.now())

		iv := req.Interval
		if bounds, ok := slots.Bounds(shape); ok {
			iv = slots.Align(iv, bounds)
		}
		edited, err = slots.Edit(entries, req.Index, iv.Start, iv.End, vessel.SlotMinutes)
		if err != nil {
			return err
		}
		return tx.PutDaySlots(ctx, model.DaySlots{
			VesselID:  key.VesselID,
			Date:      key.Date,
			Slots:     slots.Shape(edited),
			UpdatedBy: actor.ID,
			UpdatedAt: e.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("day slots edited", "vessel_id", key.VesselID, "date", key.Date.Format(model.DateLayout), "actor_id", actor.ID, "slots", len(edited))
	return edited, nil
}

// Shape returns a date's slot layout without occupancy.
func (e *Engine) Shape(ctx context.Context, vesselID string, date time.Time) ([]slots.Interval, error) {
	vessel, err := e.vessel(ctx, vesselID)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.Snapshot(ctx, storage.KeyOf(vessel.ID, date))
	if err != nil {
		return nil, err
	}
	return vessel.Shape(snap.DaySlots)
}
