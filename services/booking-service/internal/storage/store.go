package storage

import (
	"context"
	"sort"
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
)

// Key identifies the unit of write serialization: one vessel on one operating date.
type Key struct {
	VesselID string
	Date     time.Time
}

func KeyOf(vesselID string, date time.Time) Key {
	return Key{VesselID: vesselID, Date: date}
}

func (k Key) String() string {
	return k.VesselID + "|" + k.Date.Format(model.DateLayout)
}

// Store is the availability and booking persistence contract. Every mutation runs inside
// Atomically, which serializes callers per Key and commits or discards all of fn's writes.
type Store interface {
	// Atomically locks keys in a deterministic order and runs fn in one unit of work.
	Atomically(ctx context.Context, keys []Key, fn func(Tx) error) error
	// Snapshot reads one date consistently: its records, its override and the bookings
	// those records reference.
	Snapshot(ctx context.Context, key Key) (Snapshot, error)
	GetBooking(ctx context.Context, id string) (model.Booking, error)
	// DeleteIfExpiredAndUnbooked removes records dated before today and expired records
	// no live booking references, plus overrides dated before today.
	DeleteIfExpiredAndUnbooked(ctx context.Context, today, now time.Time) (SweepResult, error)
}

type Tx interface {
	FindOverlaps(ctx context.Context, key Key, iv slots.Interval) ([]model.AvailabilityRecord, error)
	ListRecords(ctx context.Context, key Key) ([]model.AvailabilityRecord, error)
	// UpsertLocked rewrites the record with rec.ID as a lock, or inserts a new lock when
	// rec.ID is empty.
	UpsertLocked(ctx context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error)
	// ConvertToBooked turns the existing record rec.ID into a booked record in place.
	ConvertToBooked(ctx context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error)
	InsertBooked(ctx context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	DeleteByBookingID(ctx context.Context, bookingID string) (int64, error)

	InsertBooking(ctx context.Context, b model.Booking) error
	GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error)
	UpdateBooking(ctx context.Context, b model.Booking) error
	FindBookingByIdempotencyKey(ctx context.Context, ownerID, key string) (model.Booking, bool, error)

	GetDaySlots(ctx context.Context, key Key) (*model.DaySlots, error)
	PutDaySlots(ctx context.Context, ds model.DaySlots) error

	// MarkPaymentEvent records an external payment event id. It returns false when the
	// id was seen before.
	MarkPaymentEvent(ctx context.Context, eventID string) (bool, error)
}

type Snapshot struct {
	Records  []model.AvailabilityRecord
	DaySlots *model.DaySlots
	Bookings map[string]model.Booking
}

type SweepResult struct {
	Records  int64
	DaySlots int64
}

// orderKeys deduplicates keys and sorts them so concurrent callers locking the same
// set always acquire in the same order.
func orderKeys(keys []Key) []Key {
	seen := make(map[string]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		s := k.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sortRecords(recs []model.AvailabilityRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Start != recs[j].Start {
			return recs[i].Start < recs[j].Start
		}
		return recs[i].End < recs[j].End
	})
}
