package model

import (
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
)

const DateLayout = "2006-01-02"

// ParseDate parses an operating date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// DateOf returns the calendar date of t in loc as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Instant resolves a time of day on an operating date to an absolute time in loc.
func Instant(date time.Time, at slots.TimeOfDay, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, int(at), 0, 0, loc)
}

type RecordState string

const (
	RecordLocked RecordState = "locked"
	RecordBooked RecordState = "booked"
)

// AvailabilityRecord marks [Start,End) of a vessel's operating date as locked or booked.
// A range without a record is free.
type AvailabilityRecord struct {
	ID        string
	VesselID  string
	Date      time.Time
	Start     slots.TimeOfDay
	End       slots.TimeOfDay
	State     RecordState
	OwnerID   string
	BookingID string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r AvailabilityRecord) Interval() slots.Interval {
	return slots.Interval{Start: r.Start, End: r.End}
}

func (r AvailabilityRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r AvailabilityRecord) Conflict() apperr.Conflict {
	return apperr.Conflict{
		Date:      r.Date.Format(DateLayout),
		Start:     r.Start.String(),
		End:       r.End.String(),
		State:     string(r.State),
		OwnerID:   r.OwnerID,
		BookingID: r.BookingID,
	}
}

// DaySlots is an administrative override of one date's slot layout. It replaces the
// regular partition for that date and is always written whole.
type DaySlots struct {
	VesselID  string
	Date      time.Time
	Slots     []slots.Interval
	UpdatedBy string
	UpdatedAt time.Time
}
