package model

import (
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

func ParseStatus(s string) (BookingStatus, bool) {
	switch st := BookingStatus(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return st, true
	}
	return "", false
}

type TripStatus string

const (
	TripPending   TripStatus = "pending"
	TripInitiated TripStatus = "initiated"
	TripSuccess   TripStatus = "success"
	TripCancelled TripStatus = "cancelled"
)

type Booking struct {
	ID                  string
	VesselID            string
	CustomerID          string
	Date                time.Time
	Start               slots.TimeOfDay
	End                 slots.TimeOfDay
	StartsAt            time.Time
	EndsAt              time.Time
	QuotedAmount        int64
	PendingAmount       int64
	Passengers          int
	Status              BookingStatus
	OwnerID             string
	CreatedByPrivileged bool
	IdempotencyKey      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CancelledAt         *time.Time
}

// TripStatus is derived from Status and the clock on every read. It is never stored.
func (b Booking) TripStatus(now time.Time) TripStatus {
	switch b.Status {
	case StatusCancelled:
		return TripCancelled
	case StatusConfirmed:
		if !now.Before(b.EndsAt) {
			return TripSuccess
		}
		return TripInitiated
	default:
		return TripPending
	}
}

func (b Booking) Interval() slots.Interval {
	return slots.Interval{Start: b.Start, End: b.End}
}
