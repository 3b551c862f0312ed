package grid

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/booking"
	"github.com/harborops/slotkeeper/services/booking-service/internal/catalog"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
)

var (
	today = time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)
	clock = time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)

	alice = model.Actor{ID: "alice"}
	admin = model.Actor{ID: "admin", Privileged: true}
)

func span(a, b string) slots.Interval {
	return slots.Interval{Start: slots.MustParse(a), End: slots.MustParse(b)}
}

func fixture(t *testing.T) (*Aggregator, *booking.Engine) {
	t.Helper()
	store := storage.NewMemory()
	fleet := catalog.NewStatic([]model.Vessel{{
		ID: "aurora", OperatingStart: slots.MustParse("09:00"), OperatingEnd: slots.MustParse("17:00"),
		SlotMinutes: 120, RunningCostPerHour: 10000, Capacity: 10,
	}}, map[string]string{"alice": "Alice Deck", "admin": "Harbor Office", "c1": "Casey Customer"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return clock }

	engine := booking.NewEngine(store, fleet, nil, booking.Options{Now: now, Logger: logger})
	agg := NewAggregator(store, fleet, fleet, Options{MaxDays: 7, Now: now, Logger: logger})
	return agg, engine
}

func states(row Row) []slots.State {
	out := make([]slots.State, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.State
	}
	return out
}

func TestConfirmedThenCancelledShowsFree(t *testing.T) {
	ctx := context.Background()
	agg, engine := fixture(t)
	day := today.AddDate(0, 0, 1)

	b, err := engine.Create(ctx, admin, booking.CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: day, Interval: span("09:00", "11:00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != model.StatusConfirmed {
		t.Fatalf("expected privileged booking to be confirmed, got %s", b.Status)
	}

	row, err := agg.Day(ctx, "aurora", day)
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	first := row.Cells[0]
	if first.State != slots.StateBooked || first.BookingID != b.ID || first.OwnerName != "Harbor Office" || first.CustomerName != "Casey Customer" {
		t.Fatalf("unexpected booked cell %+v", first)
	}

	if _, err := engine.UpdateStatus(ctx, admin, b.ID, model.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	row, err = agg.Day(ctx, "aurora", day)
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	for i, c := range row.Cells {
		if c.State != slots.StateFree || c.OwnerID != "" || c.BookingID != "" {
			t.Fatalf("cell %d expected free after cancel, got %+v", i, c)
		}
	}
}

func TestAggregateOverlaysAndPast(t *testing.T) {
	ctx := context.Background()
	agg, engine := fixture(t)
	tomorrow := today.AddDate(0, 0, 1)

	if _, err := engine.Lock(ctx, alice, booking.SlotRequest{VesselID: "aurora", Date: tomorrow, Interval: span("13:00", "15:00")}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := engine.Create(ctx, alice, booking.CreateRequest{VesselID: "aurora", CustomerID: "c1", Date: tomorrow, Interval: span("09:00", "11:00")}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	g, err := agg.Aggregate(ctx, "aurora", today, tomorrow)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(g.Rows) != 2 || g.Rows[0].Date != "2026-06-14" || g.Rows[1].Date != "2026-06-15" {
		t.Fatalf("unexpected rows %+v", g.Rows)
	}

	var past []bool
	for _, c := range g.Rows[0].Cells {
		past = append(past, c.Past)
	}
	if len(past) != 4 || !past[0] || !past[1] || past[2] || past[3] {
		t.Fatalf("expected the two morning cells of today to be past, got %v", past)
	}

	got := states(g.Rows[1])
	want := []slots.State{slots.StatePending, slots.StateFree, slots.StateLocked, slots.StateFree}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tomorrow states = %v, want %v", got, want)
		}
	}
	if lock := g.Rows[1].Cells[2]; lock.OwnerName != "Alice Deck" || lock.CustomerID != "" || lock.Past {
		t.Fatalf("unexpected lock cell %+v", lock)
	}
}

func TestAggregateRejectsBadRanges(t *testing.T) {
	ctx := context.Background()
	agg, _ := fixture(t)

	if _, err := agg.Aggregate(ctx, "aurora", today, today.AddDate(0, 0, -1)); apperr.KindOf(err) != apperr.InvalidRange {
		t.Fatalf("expected InvalidRange for inverted range, got %v", err)
	}
	if _, err := agg.Aggregate(ctx, "aurora", today, today.AddDate(0, 0, 7)); apperr.KindOf(err) != apperr.InvalidRange {
		t.Fatalf("expected InvalidRange for oversized range, got %v", err)
	}
	if _, err := agg.Aggregate(ctx, "ghost", today, today); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound for unknown vessel, got %v", err)
	}
}
