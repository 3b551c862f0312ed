package slots

import (
	"sort"

	"github.com/harborops/slotkeeper/services/booking-service/internal/apperr"
)

// Partition splits the operating window into slots of duration minutes. A special start
// strictly inside a would-be slot truncates it and starts the next slot at that instant.
// Specials outside the window are still emitted as slots of their own. Negative or
// out-of-day specials are ignored.
func Partition(windowStart, windowEnd TimeOfDay, duration int, specials []TimeOfDay) ([]Interval, error) {
	if duration <= 0 {
		return nil, apperr.New(apperr.InvalidConfiguration, "slot duration must be positive, got %d", duration)
	}
	window := NormalizeWindow(windowStart, windowEnd)

	inside, outside := splitSpecials(window, specials)

	out := make([]Interval, 0, window.Minutes()/duration+len(specials)+1)
	next := 0
	for cursor := window.Start; cursor < window.End; {
		end := cursor + TimeOfDay(duration)
		if end > window.End {
			end = window.End
		}
		for next < len(inside) && inside[next] <= cursor {
			next++
		}
		if next < len(inside) && inside[next] < end {
			end = inside[next]
		}
		out = append(out, Interval{Start: cursor, End: end})
		cursor = end
	}

	out = append(out, outsideSlots(window, duration, outside)...)
	return dedupe(out), nil
}

func splitSpecials(window Interval, specials []TimeOfDay) (inside, outside []TimeOfDay) {
	for _, s := range specials {
		if s < 0 || s >= MinutesPerDay {
			continue
		}
		// On a wrapped window a clock time up to and including the end belongs to the
		// next day, so an end-boundary special follows the window.
		if s < window.Start && s+MinutesPerDay <= window.End {
			s += MinutesPerDay
		}
		if s >= window.Start && s < window.End {
			inside = append(inside, s)
		} else {
			outside = append(outside, s)
		}
	}
	sortTimes(inside)
	sortTimes(outside)
	return inside, outside
}

// outsideSlots gives each out-of-window special one slot. Slots before the window stop at
// the window start and neighbouring specials clip each other so the result never overlaps.
func outsideSlots(window Interval, duration int, specials []TimeOfDay) []Interval {
	var out []Interval
	for i, s := range specials {
		if i > 0 && s == specials[i-1] {
			continue
		}
		end := s + TimeOfDay(duration)
		if s < window.Start && end > window.Start {
			end = window.Start
		}
		if i+1 < len(specials) && specials[i+1] > s && specials[i+1] < end {
			end = specials[i+1]
		}
		out = append(out, Interval{Start: s, End: end})
	}
	return out
}

func dedupe(in []Interval) []Interval {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Start != in[j].Start {
			return in[i].Start < in[j].Start
		}
		return in[i].End < in[j].End
	})
	out := make([]Interval, 0, len(in))
	for _, iv := range in {
		if n := len(out); n > 0 && out[n-1] == iv {
			continue
		}
		out = append(out, iv)
	}
	return out
}

func sortTimes(ts []TimeOfDay) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}
