package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/harborops/slotkeeper/libs/db"
	otelx "github.com/harborops/slotkeeper/libs/otel"
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/model"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// Postgres stores availability in PostgreSQL. Writers on one key are serialized by a
// transaction-scoped advisory lock; the exclusion constraint on availability_records
// rejects any overlap that slips past it.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var tracer = otelx.Tracer("booking-service/storage")

func (p *Postgres) Atomically(ctx context.Context, keys []Key, fn func(Tx) error) error {
	ctx, span := tracer.Start(ctx, "storage.Atomically")
	defer span.End()

	ordered := orderKeys(keys)
	err := p.pool.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		for _, k := range ordered {
			span.AddEvent("lock", trace.WithAttributes(
				attribute.String("vessel_id", k.VesselID),
				attribute.String("date", k.Date.Format(model.DateLayout)),
			))
			if err := db.AdvisoryXactLock(ctx, tx, "availability:"+k.String()); err != nil {
				return err
			}
		}
		return fn(&pgTx{tx: tx})
	})
	if err != nil {
		err = mapErr(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	return err
}

func (p *Postgres) Snapshot(ctx context.Context, key Key) (Snapshot, error) {
	var snap Snapshot
	err := p.pool.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		t := &pgTx{tx: tx}
		recs, err := t.ListRecords(ctx, key)
		if err != nil {
			return err
		}
		days, err := t.GetDaySlots(ctx, key)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT `+bookingColumns+`
			FROM bookings b
			WHERE b.id IN (
				SELECT booking_id FROM availability_records
				WHERE vessel_id = $1 AND slot_date = $2 AND booking_id IS NOT NULL
			)
		`, key.VesselID, key.Date)
		if err != nil {
			return err
		}
		bookings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Booking, error) {
			return scanBooking(row)
		})
		if err != nil {
			return err
		}
		snap = Snapshot{Records: recs, DaySlots: days, Bookings: make(map[string]model.Booking, len(bookings))}
		for _, b := range bookings {
			snap.Bookings[b.ID] = b
		}
		return nil
	})
	return snap, mapErr(err)
}

func (p *Postgres) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Booking{}, apperr.New(apperr.NotFound, "booking %s not found", id)
	}
	row := p.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		return model.Booking{}, mapNotFound(err, "booking %s not found", id)
	}
	return b, nil
}

func (p *Postgres) DeleteIfExpiredAndUnbooked(ctx context.Context, today, now time.Time) (SweepResult, error) {
	var res SweepResult
	err := p.pool.InTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM availability_records r
			WHERE (
				r.slot_date < $1
				OR (r.expires_at IS NOT NULL AND r.expires_at <= $2 AND (
					r.state = 'locked'
					OR NOT EXISTS (SELECT 1 FROM bookings b WHERE b.id = r.booking_id AND b.status <> 'cancelled')
				))
			)
			AND NOT (
				r.state = 'booked'
				AND r.slot_date >= $1
				AND EXISTS (SELECT 1 FROM bookings b WHERE b.id = r.booking_id AND b.status <> 'cancelled')
			)
		`, today, now)
		if err != nil {
			return err
		}
		res.Records = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM day_slots WHERE slot_date < $1`, today)
		if err != nil {
			return err
		}
		res.DaySlots = tag.RowsAffected()
		return nil
	})
	return res, mapErr(err)
}

type pgTx struct {
	tx pgx.Tx
}

const recordColumns = `r.id::text, r.vessel_id, r.slot_date, r.start_min, r.end_min, r.state, r.owner_id,
	COALESCE(r.booking_id::text, ''), r.expires_at, r.created_at, r.updated_at`

const bookingColumns = `b.id::text, b.vessel_id, b.customer_id, b.slot_date, b.start_min, b.end_min,
	b.starts_at, b.ends_at, b.quoted_amount, b.pending_amount, b.passengers, b.status, b.owner_id,
	b.created_by_privileged, COALESCE(b.idempotency_key, ''), b.created_at, b.updated_at, b.cancelled_at`

func (t *pgTx) FindOverlaps(ctx context.Context, key Key, iv slots.Interval) ([]model.AvailabilityRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM availability_records r
		WHERE r.vessel_id = $1 AND r.slot_date = $2 AND r.start_min < $4 AND r.end_min > $3
		ORDER BY r.start_min
		FOR UPDATE
	`, key.VesselID, key.Date, int(iv.Start), int(iv.End))
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (t *pgTx) ListRecords(ctx context.Context, key Key) ([]model.AvailabilityRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+recordColumns+`
		FROM availability_records r
		WHERE r.vessel_id = $1 AND r.slot_date = $2
		ORDER BY r.start_min
	`, key.VesselID, key.Date)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (t *pgTx) UpsertLocked(ctx context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO availability_records AS r (id, vessel_id, slot_date, start_min, end_min, state, owner_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'locked', $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET start_min = EXCLUDED.start_min,
			end_min = EXCLUDED.end_min,
			state = 'locked',
			owner_id = EXCLUDED.owner_id,
			booking_id = NULL,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
		RETURNING `+recordColumns,
		rec.ID, rec.VesselID, rec.Date, int(rec.Start), int(rec.End), rec.OwnerID, nullTime(rec.ExpiresAt))
	return scanRecord(row)
}

func (t *pgTx) ConvertToBooked(ctx context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE availability_records r
		SET start_min = $2,
			end_min = $3,
			state = 'booked',
			owner_id = $4,
			booking_id = $5,
			expires_at = $6,
			updated_at = now()
		WHERE r.id = $1
		RETURNING `+recordColumns,
		rec.ID, int(rec.Start), int(rec.End), rec.OwnerID, rec.BookingID, nullTime(rec.ExpiresAt))
	out, err := scanRecord(row)
	if err != nil {
		return model.AvailabilityRecord{}, mapNotFound(err, "availability record %s not found", rec.ID)
	}
	return out, nil
}

func (t *pgTx) InsertBooked(ctx context.Context, rec model.AvailabilityRecord) (model.AvailabilityRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO availability_records AS r (id, vessel_id, slot_date, start_min, end_min, state, owner_id, booking_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'booked', $6, $7, $8)
		RETURNING `+recordColumns,
		rec.ID, rec.VesselID, rec.Date, int(rec.Start), int(rec.End), rec.OwnerID, rec.BookingID, nullTime(rec.ExpiresAt))
	return scanRecord(row)
}

func (t *pgTx) DeleteRecord(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM availability_records WHERE id = $1`, id)
	return err
}

func (t *pgTx) DeleteByBookingID(ctx context.Context, bookingID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM availability_records WHERE booking_id = $1`, bookingID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b model.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings
			(id, vessel_id, customer_id, slot_date, start_min, end_min, starts_at, ends_at,
			 quoted_amount, pending_amount, passengers, status, owner_id, created_by_privileged,
			 idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, b.ID, b.VesselID, b.CustomerID, b.Date, int(b.Start), int(b.End), b.StartsAt, b.EndsAt,
		b.QuotedAmount, b.PendingAmount, b.Passengers, string(b.Status), b.OwnerID, b.CreatedByPrivileged,
		nullString(b.IdempotencyKey), b.CreatedAt)
	return err
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Booking{}, apperr.New(apperr.NotFound, "booking %s not found", id)
	}
	row := t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1 FOR UPDATE`, id)
	b, err := scanBooking(row)
	if err != nil {
		return model.Booking{}, mapNotFound(err, "booking %s not found", id)
	}
	return b, nil
}

func (t *pgTx) UpdateBooking(ctx context.Context, b model.Booking) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET vessel_id = $2,
			slot_date = $3,
			start_min = $4,
			end_min = $5,
			starts_at = $6,
			ends_at = $7,
			quoted_amount = $8,
			pending_amount = $9,
			passengers = $10,
			status = $11,
			cancelled_at = $12,
			updated_at = $13
		WHERE id = $1
	`, b.ID, b.VesselID, b.Date, int(b.Start), int(b.End), b.StartsAt, b.EndsAt,
		b.QuotedAmount, b.PendingAmount, b.Passengers, string(b.Status), b.CancelledAt, b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "booking %s not found", b.ID)
	}
	return nil
}

func (t *pgTx) FindBookingByIdempotencyKey(ctx context.Context, ownerID, key string) (model.Booking, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.owner_id = $1 AND b.idempotency_key = $2
	`, ownerID, key)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, false, nil
	}
	if err != nil {
		return model.Booking{}, false, err
	}
	return b, true, nil
}

func (t *pgTx) GetDaySlots(ctx context.Context, key Key) (*model.DaySlots, error) {
	var (
		raw []byte
		ds  = model.DaySlots{VesselID: key.VesselID, Date: key.Date}
	)
	err := t.tx.QueryRow(ctx, `
		SELECT slots, updated_by, updated_at
		FROM day_slots
		WHERE vessel_id = $1 AND slot_date = $2
	`, key.VesselID, key.Date).Scan(&raw, &ds.UpdatedBy, &ds.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &ds.Slots); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (t *pgTx) PutDaySlots(ctx context.Context, ds model.DaySlots) error {
	raw, err := json.Marshal(ds.Slots)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO day_slots (vessel_id, slot_date, slots, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (vessel_id, slot_date) DO UPDATE
		SET slots = EXCLUDED.slots,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, ds.VesselID, ds.Date, raw, ds.UpdatedBy, ds.UpdatedAt)
	return err
}

func (t *pgTx) MarkPaymentEvent(ctx context.Context, eventID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_payment_events (event_id) VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectRecords(rows pgx.Rows) ([]model.AvailabilityRecord, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AvailabilityRecord, error) {
		return scanRecord(row)
	})
}

func scanRecord(row rowScanner) (model.AvailabilityRecord, error) {
	var (
		rec        model.AvailabilityRecord
		start, end int
		state      string
		expiresAt  *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.VesselID, &rec.Date, &start, &end, &state, &rec.OwnerID,
		&rec.BookingID, &expiresAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return model.AvailabilityRecord{}, err
	}
	rec.Start, rec.End = slots.TimeOfDay(start), slots.TimeOfDay(end)
	rec.State = model.RecordState(state)
	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
	}
	return rec, nil
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var (
		b          model.Booking
		start, end int
		status     string
	)
	if err := row.Scan(&b.ID, &b.VesselID, &b.CustomerID, &b.Date, &start, &end,
		&b.StartsAt, &b.EndsAt, &b.QuotedAmount, &b.PendingAmount, &b.Passengers, &status, &b.OwnerID,
		&b.CreatedByPrivileged, &b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt, &b.CancelledAt); err != nil {
		return model.Booking{}, err
	}
	b.Start, b.End = slots.TimeOfDay(start), slots.TimeOfDay(end)
	b.Status = model.BookingStatus(status)
	return b, nil
}

// mapErr translates driver failures into the caller-facing taxonomy. Errors that are
// already classified pass through unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.NotFound, err, "not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01", "23505", "40001", "40P01":
			return apperr.Wrap(apperr.ConcurrencyConflict, err, "concurrent write on the same slot")
		}
	}
	return err
}

func mapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.NotFound, format, args...)
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
