// Package conflict classifies a requested interval against the records already held on
// the same vessel-day.
package conflict

import (
	"context"
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
)

type Verdict int

const (
	Available Verdict = iota
	Blocked
)

func (v Verdict) String() string {
	if v == Blocked {
		return "blocked"
	}
	return "available"
}

const (
	ReasonLocked = "locked by another user"
	ReasonBooked = "already booked"
)

type Request struct {
	Key      storage.Key
	Interval slots.Interval
	Actor    model.Actor
	// IgnoreBookingID excludes the records of one booking, used when it is rescheduled.
	IgnoreBookingID string
	Now             time.Time
}

// Outcome is the resolver's decision. When Available, Reuse is the lock the caller should
// convert or refresh (nil when the range is free) and Release lists records the caller
// must delete in the same unit of work: expired locks and surplus reusable locks.
type Outcome struct {
	Verdict  Verdict
	Reuse    *model.AvailabilityRecord
	Release  []model.AvailabilityRecord
	Reason   string
	Conflict *model.AvailabilityRecord
}

// Err converts a blocked outcome into a SlotUnavailable error naming the blocking record.
func (o Outcome) Err() error {
	if o.Verdict != Blocked {
		return nil
	}
	if o.Conflict == nil {
		return apperr.New(apperr.SlotUnavailable, "%s", o.Reason)
	}
	return apperr.WithConflict(apperr.SlotUnavailable, o.Conflict.Conflict(),
		"%s: %s is %s", o.Reason, o.Conflict.Interval(), o.Conflict.State)
}

// Classify decides a request against the records overlapping it. Booked records take
// precedence over locks when several block.
func Classify(req Request, overlaps []model.AvailabilityRecord) Outcome {
	var (
		reusable    []model.AvailabilityRecord
		stale       []model.AvailabilityRecord
		lockedBy    *model.AvailabilityRecord
		bookedBlock *model.AvailabilityRecord
	)
	for i := range overlaps {
		r := overlaps[i]
		if !r.Interval().Overlaps(req.Interval) {
			continue
		}
		switch r.State {
		case model.RecordBooked:
			if req.IgnoreBookingID != "" && r.BookingID == req.IgnoreBookingID {
				continue
			}
			if bookedBlock == nil {
				bookedBlock = &overlaps[i]
			}
		default:
			switch {
			case r.Expired(req.Now):
				stale = append(stale, r)
			case model.CanActFor(req.Actor, r.OwnerID):
				reusable = append(reusable, r)
			case lockedBy == nil:
				lockedBy = &overlaps[i]
			}
		}
	}

	if bookedBlock != nil {
		return Outcome{Verdict: Blocked, Reason: ReasonBooked, Conflict: bookedBlock}
	}
	if lockedBy != nil {
		return Outcome{Verdict: Blocked, Reason: ReasonLocked, Conflict: lockedBy}
	}

	out := Outcome{Verdict: Available, Release: stale}
	if len(reusable) > 0 {
		pick := 0
		for i, r := range reusable {
			if r.Interval() == req.Interval {
				pick = i
				break
			}
		}
		reuse := reusable[pick]
		out.Reuse = &reuse
		for i, r := range reusable {
			if i != pick {
				out.Release = append(out.Release, r)
			}
		}
	}
	return out
}

// Resolve reads the overlapping records inside tx and classifies them.
func Resolve(ctx context.Context, tx storage.Tx, req Request) (Outcome, error) {
	overlaps, err := tx.FindOverlaps(ctx, req.Key, req.Interval)
	if err != nil {
		return Outcome{}, err
	}
	return Classify(req, overlaps), nil
}
