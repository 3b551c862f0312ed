// Package slots derives and edits the time-slot shape of a vessel's operating day.
package slots

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const MinutesPerDay = 24 * 60

// TimeOfDay is minutes since midnight of the operating date. Values of MinutesPerDay
// and above fall on the following calendar day, which is how windows that wrap past
// midnight are represented.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM". Hours up to 47 are accepted so next-day instants
// round-trip through String.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 47 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	mins, err := strconv.Atoi(m)
	if err != nil || len(m) != 2 || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(hours*60 + mins), nil
}

func MustParse(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (iv Interval) Minutes() int { return int(iv.End - iv.Start) }

func (iv Interval) Valid() bool { return iv.End > iv.Start }

// Overlaps reports strict intersection; touching boundaries do not overlap.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && iv.End > o.Start
}

func (iv Interval) Contains(o Interval) bool {
	return iv.Start <= o.Start && o.End <= iv.End
}

func (iv Interval) String() string {
	return iv.Start.String() + "-" + iv.End.String()
}

// NormalizeWindow applies the operating-window rules: an end of exactly midnight means
// one minute before midnight, and an end at or before the start wraps to the next day.
func NormalizeWindow(start, end TimeOfDay) Interval {
	start = start % MinutesPerDay
	end = end % MinutesPerDay
	if end == 0 {
		end = MinutesPerDay - 1
	}
	if end <= start {
		end += MinutesPerDay
	}
	return Interval{Start: start, End: end}
}

// Align maps a caller-supplied interval onto the day described by bounds. Clock times
// earlier than the bounds' start are read as next-day times when that lands them inside
// the bounds, and an end before the start wraps past midnight.
func Align(iv Interval, bounds Interval) Interval {
	if iv.End < iv.Start && iv.End < MinutesPerDay {
		iv.End += MinutesPerDay
	}
	if iv.Start < bounds.Start && iv.Start+MinutesPerDay < bounds.End {
		iv.Start += MinutesPerDay
		if iv.End < MinutesPerDay || iv.End <= iv.Start {
			iv.End += MinutesPerDay
		}
	}
	return iv
}

// Bounds returns the smallest interval covering every slot.
func Bounds(shape []Interval) (Interval, bool) {
	if len(shape) == 0 {
		return Interval{}, false
	}
	b := shape[0]
	for _, s := range shape[1:] {
		if s.Start < b.Start {
			b.Start = s.Start
		}
		if s.End > b.End {
			b.End = s.End
		}
	}
	return b, true
}

// Covers reports whether iv lies inside one gap-free run of shape slots.
func Covers(shape []Interval, iv Interval) bool {
	if !iv.Valid() {
		return false
	}
	sorted := append([]Interval(nil), shape...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	cursor := iv.Start
	for _, s := range sorted {
		if s.End <= cursor {
			continue
		}
		if s.Start > cursor {
			return false
		}
		cursor = s.End
		if cursor >= iv.End {
			return true
		}
	}
	return false
}
