package booking

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
)

var (
	tripDay = time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	clock   = time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)

	alice = model.Actor{ID: "alice"}
	bob   = model.Actor{ID: "bob"}
	admin = model.Actor{ID: "admin", Privileged: true}
)

type vessels map[string]model.Vessel

func (v vessels) Vessel(_ context.Context, id string) (model.Vessel, error) {
	if ves, ok := v[id]; ok {
		return ves, nil
	}
	return model.Vessel{}, apperr.New(apperr.NotFound, "vessel %s not found", id)
}

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) Notify(_ context.Context, t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func span(a, b string) slots.Interval {
	return slots.Interval{Start: slots.MustParse(a), End: slots.MustParse(b)}
}

func newTestEngine(t *testing.T) (*Engine, *storage.Memory, *recorder) {
	t.Helper()
	store := storage.NewMemory()
	rec := &recorder{}
	fleet := vessels{
		"aurora": {ID: "aurora", OperatingStart: slots.MustParse("09:00"), OperatingEnd: slots.MustParse("17:00"),
			SlotMinutes: 120, RunningCostPerHour: 10000, Capacity: 10},
		"borealis": {ID: "borealis", OperatingStart: slots.MustParse("08:00"), OperatingEnd: slots.MustParse("20:00"),
			SlotMinutes: 60, RunningCostPerHour: 6000, Capacity: 4},
	}
	e := NewEngine(store, fleet, rec, Options{
		Now:    func() time.Time { return clock },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return e, store, rec
}

func records(t *testing.T, store storage.Store, vessel string, date time.Time) []model.AvailabilityRecord {
	t.Helper()
	snap, err := store.Snapshot(context.Background(), storage.KeyOf(vessel, date))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap.Records
}

func TestLockThenBookConvertsInPlace(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t)

	lock, err := e.Lock(ctx, alice, SlotRequest{VesselID: "aurora", Date: tripDay, Interval: span("10:00", "12:00")})
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	_, err = e.Create(ctx, bob, CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: tripDay, Interval: span("11:00", "13:00")})
	if apperr.KindOf(err) != apperr.SlotUnavailable {
		t.Fatalf("expected SlotUnavailable, got %v", err)
	}
	e2, _ := apperr.As(err)
	if e2.Conflict == nil || e2.Conflict.Start != "10:00" || e2.Conflict.End != "12:00" || e2.Conflict.State != "locked" {
		t.Fatalf("expected conflict citing the 10:00-12:00 lock, got %+v", e2.Conflict)
	}

	b, err := e.Create(ctx, alice, CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: tripDay, Interval: span("10:00", "12:00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	recs := records(t, store, "aurora", tripDay)
	if len(recs) != 1 || recs[0].ID != lock.ID || recs[0].State != model.RecordBooked || recs[0].BookingID != b.ID {
		t.Fatalf("expected lock %s converted to booked, got %+v", lock.ID, recs)
	}
	if !recs[0].ExpiresAt.Equal(b.EndsAt) {
		t.Fatalf("expected booked record to expire at trip end %s, got %s", b.EndsAt, recs[0].ExpiresAt)
	}
	if b.Status != model.StatusPending || b.QuotedAmount != 20000 || b.PendingAmount != 20000 {
		t.Fatalf("unexpected booking %+v", b)
	}
}

func TestConcurrentCreatesExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t)

	const n = 12
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, blocked int
	)
	for i := 0; i < n; i++ {
		actor := model.Actor{ID: "staff-" + string(rune('a'+i))}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Create(ctx, actor, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("13:00", "15:00")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.KindOf(err) == apperr.SlotUnavailable:
				blocked++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || blocked != n-1 {
		t.Fatalf("expected 1 success and %d SlotUnavailable, got %d and %d", n-1, ok, blocked)
	}
	if recs := records(t, store, "aurora", tripDay); len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
}

func TestCancelFreesInterval(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t)

	b, err := e.Create(ctx, admin, CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: tripDay, Interval: span("09:00", "11:00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != model.StatusConfirmed {
		t.Fatalf("expected privileged booking to be confirmed, got %s", b.Status)
	}
	cancelled, err := e.UpdateStatus(ctx, admin, b.ID, model.StatusCancelled)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if cancelled.CancelledAt == nil || cancelled.TripStatus(clock) != model.TripCancelled {
		t.Fatalf("expected cancelled booking, got %+v", cancelled)
	}
	if recs := records(t, store, "aurora", tripDay); len(recs) != 0 {
		t.Fatalf("expected record removed on cancel, got %+v", recs)
	}
	if _, err := e.Create(ctx, bob, CreateRequest{VesselID: "aurora", CustomerID: "c2", Date: tripDay, Interval: span("09:00", "11:00")}); err != nil {
		t.Fatalf("expected rebooking after cancel to succeed, got %v", err)
	}
}

func TestReschedule(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t)

	b, err := e.Create(ctx, alice, CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: tripDay, Interval: span("09:00", "11:00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Create(ctx, bob, CreateRequest{VesselID: "aurora", CustomerID: "c2", Date: tripDay, Interval: span("13:00", "15:00")}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Blocked move leaves the booking untouched.
	_, err = e.Reschedule(ctx, alice, RescheduleRequest{BookingID: b.ID, Date: tripDay, Interval: span("14:00", "16:00")})
	if apperr.KindOf(err) != apperr.SlotUnavailable {
		t.Fatalf("expected SlotUnavailable, got %v", err)
	}
	if recs := records(t, store, "aurora", tripDay); len(recs) != 2 {
		t.Fatalf("expected both records intact after failed reschedule, got %+v", recs)
	}

	// Overlapping its own interval is fine.
	moved, err := e.Reschedule(ctx, alice, RescheduleRequest{BookingID: b.ID, Date: tripDay, Interval: span("10:00", "12:00")})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if moved.Start != slots.MustParse("10:00") || !moved.EndsAt.Equal(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected moved booking %+v", moved)
	}

	// Across dates and vessels.
	next := tripDay.AddDate(0, 0, 1)
	moved, err = e.Reschedule(ctx, alice, RescheduleRequest{BookingID: b.ID, VesselID: "borealis", Date: next, Interval: span("18:00", "19:00")})
	if err != nil {
		t.Fatalf("Reschedule across vessels: %v", err)
	}
	for _, r := range records(t, store, "aurora", tripDay) {
		if r.BookingID == b.ID {
			t.Fatalf("old record left behind: %+v", r)
		}
	}
	recs := records(t, store, "borealis", next)
	if len(recs) != 1 || recs[0].BookingID != b.ID || recs[0].State != model.RecordBooked {
		t.Fatalf("expected one booked record on borealis, got %+v", recs)
	}
	if moved.VesselID != "borealis" {
		t.Fatalf("expected vessel to change, got %s", moved.VesselID)
	}

	if _, err := e.Reschedule(ctx, bob, RescheduleRequest{BookingID: b.ID, Date: next, Interval: span("08:00", "09:00")}); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden for another user's booking, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()
	e, _, rec := newTestEngine(t)

	b, err := e.Create(ctx, alice, CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: tripDay, Interval: span("09:00", "11:00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.UpdateStatus(ctx, alice, b.ID, model.StatusConfirmed); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	confirmed, err := e.UpdateStatus(ctx, admin, b.ID, model.StatusConfirmed)
	if err != nil || confirmed.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %v %v", confirmed.Status, err)
	}
	before := rec.count()
	if _, err := e.UpdateStatus(ctx, admin, b.ID, model.StatusConfirmed); err != nil {
		t.Fatalf("expected same-status update to be a no-op, got %v", err)
	}
	if rec.count() != before {
		t.Fatalf("no-op must not notify")
	}
	if _, err := e.UpdateStatus(ctx, admin, b.ID, model.StatusPending); apperr.KindOf(err) != apperr.InvalidTransition {
		t.Fatalf("expected InvalidTransition back to pending, got %v", err)
	}
	if _, err := e.UpdateStatus(ctx, bob, b.ID, model.StatusCancelled); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden for bob, got %v", err)
	}
	if _, err := e.UpdateStatus(ctx, alice, b.ID, model.StatusCancelled); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if _, err := e.UpdateStatus(ctx, admin, b.ID, model.StatusConfirmed); apperr.KindOf(err) != apperr.InvalidTransition {
		t.Fatalf("expected cancelled to be terminal, got %v", err)
	}
	if _, err := e.UpdateStatus(ctx, admin, "missing", model.StatusCancelled); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.got) != 3 || rec.got[0].Kind != Created || rec.got[1].Previous != model.StatusPending || rec.got[2].Booking.Status != model.StatusCancelled {
		t.Fatalf("unexpected transitions %+v", rec.got)
	}
}

func TestIdempotentCreate(t *testing.T) {
	ctx := context.Background()
	e, _, rec := newTestEngine(t)
	req := CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: tripDay, Interval: span("15:00", "17:00"), IdempotencyKey: "req-1"}

	first, err := e.Create(ctx, alice, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := e.Create(ctx, alice, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected replay to return %s, got %s", first.ID, second.ID)
	}
	if rec.count() != 1 {
		t.Fatalf("expected one notification, got %d", rec.count())
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)

	cases := []struct {
		name string
		req  CreateRequest
		want apperr.Kind
	}{
		{"outside hours", CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("16:00", "18:00")}, apperr.InvalidRange},
		{"empty range", CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("10:00", "10:00")}, apperr.InvalidRange},
		{"over capacity", CreateRequest{VesselID: "borealis", CustomerID: "c", Date: tripDay, Interval: span("10:00", "11:00"), Passengers: 5}, apperr.InvalidRange},
		{"unknown vessel", CreateRequest{VesselID: "ghost", CustomerID: "c", Date: tripDay, Interval: span("10:00", "11:00")}, apperr.NotFound},
		{"no customer", CreateRequest{VesselID: "aurora", Date: tripDay, Interval: span("10:00", "11:00")}, apperr.InvalidRange},
	}
	for _, tc := range cases {
		if _, err := e.Create(ctx, alice, tc.req); apperr.KindOf(err) != tc.want {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLockAndRelease(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t)
	req := SlotRequest{VesselID: "aurora", Date: tripDay, Interval: span("11:00", "13:00")}

	first, err := e.Lock(ctx, alice, req)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	again, err := e.Lock(ctx, alice, req)
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected own lock refreshed in place, got %v %v", again.ID, err)
	}
	if _, err := e.Lock(ctx, bob, req); apperr.KindOf(err) != apperr.SlotUnavailable {
		t.Fatalf("expected SlotUnavailable for bob, got %v", err)
	}
	if _, err := e.Release(ctx, bob, req); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden release, got %v", err)
	}
	taken, err := e.Lock(ctx, admin, req)
	if err != nil || taken.OwnerID != "admin" || taken.ID != first.ID {
		t.Fatalf("expected admin to take over the lock, got %+v %v", taken, err)
	}
	n, err := e.Release(ctx, admin, req)
	if err != nil || n != 1 {
		t.Fatalf("expected one lock released, got %d %v", n, err)
	}
	if _, err := e.Release(ctx, admin, req); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound on second release, got %v", err)
	}

	if _, err := e.Create(ctx, admin, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("11:00", "13:00")}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Release(ctx, admin, req); apperr.KindOf(err) != apperr.ImmutableSlot {
		t.Fatalf("expected ImmutableSlot for booked record, got %v", err)
	}
	if recs := records(t, store, "aurora", tripDay); len(recs) != 1 {
		t.Fatalf("expected booked record kept, got %+v", recs)
	}
}

func TestExpiredLockDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(t)
	now := clock
	e.now = func() time.Time { return now }

	if _, err := e.Lock(ctx, alice, SlotRequest{VesselID: "aurora", Date: tripDay, Interval: span("09:00", "11:00")}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	now = now.Add(DefaultLockTTL + time.Second)
	b, err := e.Create(ctx, bob, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("09:00", "11:00")})
	if err != nil {
		t.Fatalf("expected expired lock to be ignored, got %v", err)
	}
	recs := records(t, store, "aurora", tripDay)
	if len(recs) != 1 || recs[0].BookingID != b.ID {
		t.Fatalf("expected stale lock replaced by booking record, got %+v", recs)
	}
}

func TestApplyPayment(t *testing.T) {
	ctx := context.Background()
	e, store, rec := newTestEngine(t)

	b, err := e.Create(ctx, alice, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("09:00", "11:00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	paid, err := e.ApplyPayment(ctx, PaymentEvent{EventID: "evt_1", BookingID: b.ID, Outcome: PaymentSucceeded, AmountPaid: 5000})
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if paid.Status != model.StatusConfirmed || paid.PendingAmount != 15000 {
		t.Fatalf("expected confirmed with 15000 pending, got %s %d", paid.Status, paid.PendingAmount)
	}
	replay, err := e.ApplyPayment(ctx, PaymentEvent{EventID: "evt_1", BookingID: b.ID, Outcome: PaymentSucceeded, AmountPaid: 5000})
	if err != nil || replay.PendingAmount != 15000 {
		t.Fatalf("expected replay ignored, got %d %v", replay.PendingAmount, err)
	}

	rec.mu.Lock()
	last := rec.got[len(rec.got)-1]
	rec.mu.Unlock()
	if last.Kind != StatusChanged || !last.Actor.Privileged || last.Previous != model.StatusPending {
		t.Fatalf("expected privileged status change notification, got %+v", last)
	}

	other, err := e.Create(ctx, bob, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("13:00", "15:00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	failed, err := e.ApplyPayment(ctx, PaymentEvent{EventID: "evt_2", BookingID: other.ID, Outcome: PaymentFailed})
	if err != nil || failed.Status != model.StatusCancelled {
		t.Fatalf("expected failed payment to cancel, got %s %v", failed.Status, err)
	}
	for _, r := range records(t, store, "aurora", tripDay) {
		if r.BookingID == other.ID {
			t.Fatalf("cancelled booking left a record behind")
		}
	}
}

func TestEditSlotPersistsOverride(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)

	if _, err := e.Create(ctx, admin, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("11:00", "13:00")}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	req := EditRequest{VesselID: "aurora", Date: tripDay, Index: 2, Interval: span("13:00", "14:00")}
	if _, err := e.EditSlot(ctx, alice, req); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if _, err := e.EditSlot(ctx, admin, EditRequest{VesselID: "aurora", Date: tripDay, Index: 1, Interval: span("11:00", "12:00")}); apperr.KindOf(err) != apperr.ImmutableSlot {
		t.Fatalf("expected ImmutableSlot for booked slot, got %v", err)
	}
	edited, err := e.EditSlot(ctx, admin, req)
	if err != nil {
		t.Fatalf("EditSlot: %v", err)
	}
	if len(edited) != 5 {
		t.Fatalf("expected 5 slots after edit, got %v", edited)
	}
	shape, err := e.Shape(ctx, "aurora", tripDay)
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	if len(shape) != 5 || shape[2].String() != "13:00-14:00" || shape[3].String() != "14:00-15:00" {
		t.Fatalf("expected saved override, got %v", shape)
	}
	other, _ := e.Shape(ctx, "aurora", tripDay.AddDate(0, 0, 1))
	if len(other) != 4 {
		t.Fatalf("override must only apply to its date, got %v", other)
	}
}

type flakyStore struct {
	storage.Store
	failures int
}

func (f *flakyStore) Atomically(ctx context.Context, keys []storage.Key, fn func(storage.Tx) error) error {
	if f.failures > 0 {
		f.failures--
		return apperr.New(apperr.ConcurrencyConflict, "serialization failure")
	}
	return f.Store.Atomically(ctx, keys, fn)
}

func TestRetryOnceOnConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	fleet := vessels{"aurora": {ID: "aurora", OperatingStart: slots.MustParse("09:00"), OperatingEnd: slots.MustParse("17:00"), SlotMinutes: 120}}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	flaky := &flakyStore{Store: storage.NewMemory(), failures: 1}
	e := NewEngine(flaky, fleet, nil, Options{Now: func() time.Time { return clock }, Logger: quiet})
	if _, err := e.Create(ctx, alice, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("09:00", "11:00")}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	flaky = &flakyStore{Store: storage.NewMemory(), failures: 2}
	e = NewEngine(flaky, fleet, nil, Options{Now: func() time.Time { return clock }, Logger: quiet})
	if _, err := e.Create(ctx, alice, CreateRequest{VesselID: "aurora", CustomerID: "c", Date: tripDay, Interval: span("09:00", "11:00")}); apperr.KindOf(err) != apperr.ConcurrencyConflict {
		t.Fatalf("expected ConcurrencyConflict after one retry, got %v", err)
	}
}
