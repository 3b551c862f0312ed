package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
)

// Memory is an in-process Store. Each Key has its own mutex so writers on different
// vessel-days proceed in parallel; a failed unit of work is undone from its undo log.
type Memory struct {
	keyMu sync.Mutex
	keys  map[string]*sync.Mutex

	mu       sync.Mutex
	records  map[string]model.AvailabilityRecord
	bookings map[string]model.Booking
	idem     map[string]string
	days     map[string]model.DaySlots
	events   map[string]struct{}
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		keys:     map[string]*sync.Mutex{},
		records:  map[string]model.AvailabilityRecord{},
		bookings: map[string]model.Booking{},
		idem:     map[string]string{},
		days:     map[string]model.DaySlots{},
		events:   map[string]struct{}{},
		now:      time.Now,
	}
}

func (m *Memory) keyLock(k Key) *sync.Mutex {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	l, ok := m.keys[k.String()]
	if !ok {
		l = &sync.Mutex{}
		m.keys[k.String()] = l
	}
	return l
}

func (m *Memory) Atomically(ctx context.Context, keys []Key, fn func(Tx) error) error {
	ordered := orderKeys(keys)
	for _, k := range ordered {
		l := m.keyLock(k)
		l.Lock()
		defer l.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *Memory) Snapshot(ctx context.Context, key Key) (Snapshot, error) {
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{Records: m.recordsFor(key), Bookings: map[string]model.Booking{}}
	if ds, ok := m.days[key.String()]; ok {
		ds.Slots = append([]slots.Interval(nil), ds.Slots...)
		snap.DaySlots = &ds
	}
	for _, r := range snap.Records {
		if r.BookingID == "" {
			continue
		}
		if b, ok := m.bookings[r.BookingID]; ok {
			snap.Bookings[b.ID] = b
		}
	}
	return snap, nil
}

func (m *Memory) GetBooking(_ context.Context, id string) (model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return model.Booking{}, apperr.New(apperr.NotFound, "booking %s not found", id)
	}
	return b, nil
}

func (m *Memory) DeleteIfExpiredAndUnbooked(_ context.Context, today, now time.Time) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res SweepResult
	for id, r := range m.records {
		live := false
		if r.BookingID != "" {
			b, ok := m.bookings[r.BookingID]
			live = ok && b.Status != model.StatusCancelled
		}
		if r.State == model.RecordBooked && live && !r.Date.Before(today) {
			continue
		}
		past := r.Date.Before(today)
		stale := r.Expired(now) && (r.State == model.RecordLocked || !live)
		if past || stale {
			delete(m.records, id)
			res.Records++
		}
	}
	for k, ds := range m.days {
		if ds.Date.Before(today) {
			delete(m.days, k)
			res.DaySlots++
		}
	}
	return res, nil
}

func (m *Memory) recordsFor(key Key) []model.AvailabilityRecord {
	var out []model.AvailabilityRecord
	for _, r := range m.records {
		if r.VesselID == key.VesselID && r.Date.Equal(key.Date) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

type memTx struct {
	m    *Memory
	undo []func()
}

func (t *memTx) rollback() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// putRecord stores rec after checking the no-overlap rule, remembering the prior value.
func (t *memTx) putRecord(rec model.AvailabilityRecord) error {
	for _, other := range t.m.records {
		if other.ID == rec.ID || other.VesselID != rec.VesselID || !other.Date.Equal(rec.Date) {
			continue
		}
		if other.Interval().Overlaps(rec.Interval()) {
			return apperr.WithConflict(apperr.ConcurrencyConflict, other.Conflict(),
				"%s overlaps existing %s record %s", rec.Interval(), other.State, other.Interval())
		}
	}
	prev, existed := t.m.records[rec.ID]
	t.m.records[rec.ID] = rec
	t.undo = append(t.undo, func() {
		if existed {
			t.m.records[rec.ID] = prev
		} else {
			delete(t.m.records, rec.ID)
		}
	})
	return nil
}

func (t *memTx) deleteRecord(id string) bool {
	prev, ok := t.m.records[id]
	if !ok {
		return false
	}
	delete(t.m.records, id)
	t.undo = append(t.undo, func() { t.m.records[id] = prev })
	return true
}

func (t *memTx) FindOverlaps(_ context.Context, key Key, iv slots.Interval) ([]model.AvailabilityRecord, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var out []model.AvailabilityRecord
	for _, r := range t.m.recordsFor(key) {
		if r.Interval().Overlaps(iv) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) ListRecords(_ context.Context, key Key) ([]model.AvailabilityRecord, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.recordsFor(key), nil
}

func (t *memTx) UpsertLocked(_ context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	now := t.m.now()
	if existing, ok := t.m.records[rec.ID]; ok && rec.ID != "" {
		rec.CreatedAt = existing.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
	}
	rec.State = model.RecordLocked
	rec.BookingID = ""
	rec.UpdatedAt = now
	if err := t.putRecord(rec); err != nil {
		return model.AvailabilityRecord{}, err
	}
	return rec, nil
}

func (t *memTx) ConvertToBooked(_ context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	existing, ok := t.m.records[rec.ID]
	if !ok {
		return model.AvailabilityRecord{}, apperr.New(apperr.NotFound, "availability record %s not found", rec.ID)
	}
	existing.Start, existing.End = rec.Start, rec.End
	existing.State = model.RecordBooked
	existing.OwnerID = rec.OwnerID
	existing.BookingID = rec.BookingID
	existing.ExpiresAt = rec.ExpiresAt
	existing.UpdatedAt = t.m.now()
	if err := t.putRecord(existing); err != nil {
		return model.AvailabilityRecord{}, err
	}
	return existing, nil
}

func (t *memTx) InsertBooked(_ context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := t.m.now()
	rec.State = model.RecordBooked
	rec.CreatedAt, rec.UpdatedAt = now, now
	if err := t.putRecord(rec); err != nil {
		return model.AvailabilityRecord{}, err
	}
	return rec, nil
}

func (t *memTx) DeleteRecord(_ context.Context, id string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.deleteRecord(id)
	return nil
}

func (t *memTx) DeleteByBookingID(_ context.Context, bookingID string) (int64, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var n int64
	for id, r := range t.m.records {
		if r.BookingID == bookingID && t.deleteRecord(id) {
			n++
		}
	}
	return n, nil
}

func idemKey(ownerID, key string) string { return ownerID + "|" + key }

func (t *memTx) InsertBooking(_ context.Context, b model.Booking) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.bookings[b.ID]; ok {
		return apperr.New(apperr.ConcurrencyConflict, "booking %s already exists", b.ID)
	}
	ik := ""
	if b.IdempotencyKey != "" {
		ik = idemKey(b.OwnerID, b.IdempotencyKey)
		if _, ok := t.m.idem[ik]; ok {
			return apperr.New(apperr.ConcurrencyConflict, "idempotency key %q already used", b.IdempotencyKey)
		}
		t.m.idem[ik] = b.ID
	}
	b.UpdatedAt = b.CreatedAt
	t.m.bookings[b.ID] = b
	t.undo = append(t.undo, func() {
		delete(t.m.bookings, b.ID)
		if ik != "" {
			delete(t.m.idem, ik)
		}
	})
	return nil
}

func (t *memTx) GetBookingForUpdate(_ context.Context, id string) (model.Booking, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	b, ok := t.m.bookings[id]
	if !ok {
		return model.Booking{}, apperr.New(apperr.NotFound, "booking %s not found", id)
	}
	return b, nil
}

func (t *memTx) UpdateBooking(_ context.Context, b model.Booking) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	prev, ok := t.m.bookings[b.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "booking %s not found", b.ID)
	}
	b.IdempotencyKey = prev.IdempotencyKey
	b.CreatedAt = prev.CreatedAt
	b.OwnerID = prev.OwnerID
	b.CreatedByPrivileged = prev.CreatedByPrivileged
	t.m.bookings[b.ID] = b
	t.undo = append(t.undo, func() { t.m.bookings[b.ID] = prev })
	return nil
}

func (t *memTx) FindBookingByIdempotencyKey(_ context.Context, ownerID, key string) (model.Booking, bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	id, ok := t.m.idem[idemKey(ownerID, key)]
	if !ok {
		return model.Booking{}, false, nil
	}
	b, ok := t.m.bookings[id]
	return b, ok, nil
}

func (t *memTx) GetDaySlots(_ context.Context, key Key) (*model.DaySlots, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	ds, ok := t.m.days[key.String()]
	if !ok {
		return nil, nil
	}
	ds.Slots = append([]slots.Interval(nil), ds.Slots...)
	return &ds, nil
}

func (t *memTx) PutDaySlots(_ context.Context, ds model.DaySlots) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	k := KeyOf(ds.VesselID, ds.Date).String()
	prev, existed := t.m.days[k]
	ds.Slots = append([]slots.Interval(nil), ds.Slots...)
	t.m.days[k] = ds
	t.undo = append(t.undo, func() {
		if existed {
			t.m.days[k] = prev
		} else {
			delete(t.m.days, k)
		}
	})
	return nil
}

func (t *memTx) MarkPaymentEvent(_ context.Context, eventID string) (bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.events[eventID]; ok {
		return false, nil
	}
	t.m.events[eventID] = struct{}{}
	t.undo = append(t.undo, func() { delete(t.m.events, eventID) })
	return true, nil
}
