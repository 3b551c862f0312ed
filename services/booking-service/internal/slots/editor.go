package slots

import (
	"sort"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
)

type State string

const (
	StateFree    State = "free"
	StateLocked  State = "locked"
	StateBooked  State = "booked"
	StatePending State = "pending"
)

// Immutable reports whether a slot in this state may not be edited or absorbed.
func (s State) Immutable() bool {
	return s == StateLocked || s == StateBooked || s == StatePending
}

// Entry is a slot of a day's shape tagged with its current occupancy.
type Entry struct {
	Interval
	State State `json:"state"`
}

// Edit moves the slot at index to [start, end). Free slots the new range overlaps are
// absorbed and the gaps left behind are refilled: a gap that is a whole number of
// durations becomes regular slots, anything else stays one irregular free slot.
// entries is not modified.
func Edit(entries []Entry, index int, start, end TimeOfDay, duration int) ([]Entry, error) {
	if duration <= 0 {
		return nil, apperr.New(apperr.InvalidConfiguration, "slot duration must be positive, got %d", duration)
	}
	if index < 0 || index >= len(entries) {
		return nil, apperr.New(apperr.NotFound, "slot %d does not exist", index)
	}
	target := entries[index]
	if target.State.Immutable() {
		return nil, apperr.WithConflict(apperr.ImmutableSlot, conflictOf(target),
			"slot %s is %s and cannot be edited", target.Interval, target.State)
	}
	edited := Interval{Start: start, End: end}
	if !edited.Valid() {
		return nil, apperr.New(apperr.InvalidRange, "end %s must be after start %s", end, start)
	}
	for i, e := range entries {
		if i != index && e.State.Immutable() && e.Overlaps(edited) {
			return nil, apperr.WithConflict(apperr.SlotConflict, conflictOf(e),
				"edited range %s overlaps %s slot %s", edited, e.State, e.Interval)
		}
	}

	out := make([]Entry, 0, len(entries)+4)
	out = append(out, Entry{Interval: edited, State: StateFree})
	for i, e := range entries {
		if i == index || e.Overlaps(edited) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	return fillGaps(out, duration), nil
}

func fillGaps(sorted []Entry, duration int) []Entry {
	if len(sorted) == 0 {
		return sorted
	}
	out := make([]Entry, 0, len(sorted))
	out = append(out, sorted[0])
	for _, e := range sorted[1:] {
		prevEnd := out[len(out)-1].End
		if gap := int(e.Start - prevEnd); gap > 0 {
			if gap%duration == 0 {
				for t := prevEnd; t < e.Start; t += TimeOfDay(duration) {
					out = append(out, Entry{Interval: Interval{Start: t, End: t + TimeOfDay(duration)}, State: StateFree})
				}
			} else {
				out = append(out, Entry{Interval: Interval{Start: prevEnd, End: e.Start}, State: StateFree})
			}
		}
		out = append(out, e)
	}
	return out
}

// Shape strips the occupancy tags.
func Shape(entries []Entry) []Interval {
	out := make([]Interval, len(entries))
	for i, e := range entries {
		out[i] = e.Interval
	}
	return out
}

func conflictOf(e Entry) apperr.Conflict {
	return apperr.Conflict{Start: e.Start.String(), End: e.End.String(), State: string(e.State)}
}
