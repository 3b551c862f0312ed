package model

import (
	"time"

	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
)

// CellState is the occupancy of one slot of a day's shape.
func CellState(r AvailabilityRecord, bookings map[string]Booking) slots.State {
	if r.State != RecordBooked {
		return slots.StateLocked
	}
	if b, ok := bookings[r.BookingID]; ok && b.Status == StatusPending {
		return slots.StatePending
	}
	return slots.StateBooked
}

func rank(s slots.State) int {
	switch s {
	case slots.StateBooked:
		return 3
	case slots.StatePending:
		return 2
	case slots.StateLocked:
		return 1
	}
	return 0
}

// Overlay tags every slot of shape with the strongest state among the records that
// intersect it (booked, then pending, then locked). Expired locks do not count.
// The returned index maps each slot to the record that produced its tag, or -1.
func Overlay(shape []slots.Interval, recs []AvailabilityRecord, bookings map[string]Booking, now time.Time) ([]slots.Entry, []int) {
	entries := make([]slots.Entry, len(shape))
	source := make([]int, len(shape))
	for i, s := range shape {
		entries[i] = slots.Entry{Interval: s, State: slots.StateFree}
		source[i] = -1
		for j, r := range recs {
			if r.State == RecordLocked && r.Expired(now) {
				continue
			}
			if !r.Interval().Overlaps(s) {
				continue
			}
			if st := CellState(r, bookings); rank(st) > rank(entries[i].State) {
				entries[i].State = st
				source[i] = j
			}
		}
	}
	return entries, source
}
