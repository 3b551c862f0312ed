// Package grid builds calendar-shaped availability for a vessel over a range of dates.
package grid

import (
	"context"
	"log/slog"
	"sync"
	"time"

	otelx "github.com/harborops/slotkeeper/libs/otel"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"github.com/harborops/slotkeeper/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type VesselSource interface {
	Vessel(ctx context.Context, id string) (model.Vessel, error)
}

type Directory interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

type Cell struct {
	Start        slots.TimeOfDay `json:"start"`
	End          slots.TimeOfDay `json:"end"`
	State        slots.State     `json:"state"`
	Past         bool            `json:"past"`
	OwnerID      string          `json:"owner_id,omitempty"`
	OwnerName    string          `json:"owner_name,omitempty"`
	CustomerID   string          `json:"customer_id,omitempty"`
	CustomerName string          `json:"customer_name,omitempty"`
	BookingID    string          `json:"booking_id,omitempty"`
}

type Row struct {
	Date  string `json:"date"`
	Cells []Cell `json:"cells"`
}

type Grid struct {
	VesselID string `json:"vessel_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Rows     []Row  `json:"rows"`
}

const (
	DefaultMaxDays     = 62
	defaultConcurrency = 8
)

type Options struct {
	MaxDays     int
	Concurrency int
	Location    *time.Location
	Now         func() time.Time
	Logger      *slog.Logger
}

type Aggregator struct {
	store       storage.Store
	vessels     VesselSource
	directory   Directory
	maxDays     int
	concurrency int
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewAggregator(store storage.Store, vessels VesselSource, directory Directory, opts Options) *Aggregator {
	a := &Aggregator{
		store:       store,
		vessels:     vessels,
		directory:   directory,
		maxDays:     opts.MaxDays,
		concurrency: opts.Concurrency,
		loc:         opts.Location,
		now:         opts.Now,
		logger:      opts.Logger,
		tracer:      otelx.Tracer("booking-service/grid"),
	}
	if a.maxDays <= 0 {
		a.maxDays = DefaultMaxDays
	}
	if a.concurrency <= 0 {
		a.concurrency = defaultConcurrency
	}
	if a.loc == nil {
		a.loc = time.UTC
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Aggregate returns one row per date in [from, to]. Each date is read from its own
// snapshot; dates are read concurrently.
func (a *Aggregator) Aggregate(ctx context.Context, vesselID string, from, to time.Time) (Grid, error) {
	if to.Before(from) {
		return Grid{}, apperr.New(apperr.InvalidRange, "to %s is before from %s", to.Format(model.DateLayout), from.Format(model.DateLayout))
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if days > a.maxDays {
		return Grid{}, apperr.New(apperr.InvalidRange, "range of %d days exceeds the maximum of %d", days, a.maxDays)
	}

	ctx, span := a.tracer.Start(ctx, "grid.aggregate", trace.WithAttributes(
		attribute.String("vessel_id", vesselID),
		attribute.Int("days", days),
	))
	defer span.End()

	vessel, err := a.vessels.Vessel(ctx, vesselID)
	if err != nil {
		return Grid{}, err
	}

	names := newNameCache(a.directory)
	now := a.now()
	rows := make([]Row, days)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i := 0; i < days; i++ {
		date := from.AddDate(0, 0, i)
		g.Go(func() error {
			row, err := a.row(gctx, vessel, date, now, names)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Grid{}, err
	}
	return Grid{
		VesselID: vesselID,
		From:     from.Format(model.DateLayout),
		To:       to.Format(model.DateLayout),
		Rows:     rows,
	}, nil
}

// Day is Aggregate for a single date.
func (a *Aggregator) Day(ctx context.Context, vesselID string, date time.Time) (Row, error) {
	g, err := a.Aggregate(ctx, vesselID, date, date)
	if err != nil {
		return Row{}, err
	}
	return g.Rows[0], nil
}

func (a *Aggregator) row(ctx context.Context, vessel model.Vessel, date, now time.Time, names *nameCache) (Row, error) {
	snap, err := a.store.Snapshot(ctx, storage.KeyOf(vessel.ID, date))
	if err != nil {
		return Row{}, err
	}
	shape, err := vessel.Shape(snap.DaySlots)
	if err != nil {
		return Row{}, err
	}
	entries, source := model.Overlay(shape, snap.Records, snap.Bookings, now)

	row := Row{Date: date.Format(model.DateLayout), Cells: make([]Cell, len(entries))}
	for i, e := range entries {
		c := Cell{
			Start: e.Start,
			End:   e.End,
			State: e.State,
			Past:  !model.Instant(date, e.Start, a.loc).After(now),
		}
		if j := source[i]; j >= 0 {
			rec := snap.Records[j]
			c.OwnerID = rec.OwnerID
			c.OwnerName = names.lookup(ctx, rec.OwnerID, a.logger)
			if b, ok := snap.Bookings[rec.BookingID]; ok {
				c.BookingID = b.ID
				c.CustomerID = b.CustomerID
				c.CustomerName = names.lookup(ctx, b.CustomerID, a.logger)
			}
		}
		row.Cells[i] = c
	}
	return row, nil
}

// nameCache lives for one Aggregate call.
type nameCache struct {
	dir   Directory
	mu    sync.Mutex
	names map[string]string
}

func newNameCache(dir Directory) *nameCache {
	return &nameCache{dir: dir, names: map[string]string{}}
}

func (c *nameCache) lookup(ctx context.Context, id string, logger *slog.Logger) string {
	if id == "" || c.dir == nil {
		return id
	}
	c.mu.Lock()
	name, ok := c.names[id]
	c.mu.Unlock()
	if ok {
		return name
	}
	name, err := c.dir.DisplayName(ctx, id)
	if err != nil {
		logger.Warn("display name lookup failed", "id", id, "err", err)
		name = id
	}
	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()
	return name
}
