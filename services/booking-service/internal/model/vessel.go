package model

import (
	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
	"github.com/harborops/slotkeeper/services/booking-service/internal/slots"
)

// Vessel is the read-only view of a fleet entry supplied by the Vessel Catalog.
type Vessel struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	OperatingStart     slots.TimeOfDay   `json:"operating_start"`
	OperatingEnd       slots.TimeOfDay   `json:"operating_end"`
	SlotMinutes        int               `json:"slot_minutes"`
	SpecialStarts      []slots.TimeOfDay `json:"special_starts,omitempty"`
	RunningCostPerHour int64             `json:"running_cost_per_hour"`
	Capacity           int               `json:"capacity"`
}

// Shape returns the slot layout of one operating date: the saved override when there is
// one, otherwise the regular partition.
func (v Vessel) Shape(override *DaySlots) ([]slots.Interval, error) {
	if override != nil && len(override.Slots) > 0 {
		out := make([]slots.Interval, len(override.Slots))
		copy(out, override.Slots)
		return out, nil
	}
	return slots.Partition(v.OperatingStart, v.OperatingEnd, v.SlotMinutes, v.SpecialStarts)
}

// Quote prices [start,end) at the running cost, rounding partial hours up to the minute.
func (v Vessel) Quote(iv slots.Interval) int64 {
	mins := int64(iv.Minutes())
	return (v.RunningCostPerHour*mins + 59) / 60
}

func (v Vessel) CheckCapacity(passengers int) error {
	if passengers < 0 {
		return apperr.New(apperr.InvalidRange, "passengers must not be negative")
	}
	if v.Capacity > 0 && passengers > v.Capacity {
		return apperr.New(apperr.InvalidRange, "%d passengers exceed capacity %d of vessel %s", passengers, v.Capacity, v.ID)
	}
	return nil
}
