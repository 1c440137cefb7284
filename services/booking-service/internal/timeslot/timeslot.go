// Package timeslot holds the interval arithmetic shared by availability and
// booking. Intervals are half-open: [Start, End).
package timeslot

import (
	"sort"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Valid reports whether the interval is non-empty.
func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Contains reports whether o lies entirely within i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Overlaps(o Interval) bool {
	return Overlaps(i.Start, i.End, o.Start, o.End)
}

// Overlaps is the single overlap predicate: [aStart,aEnd) and [bStart,bEnd)
// overlap iff aStart < bEnd && bStart < aEnd. Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Generate returns every open + k*step such that open + k*step + step <= close.
func Generate(open, close time.Time, step time.Duration) []time.Time {
	if step <= 0 || !close.After(open) {
		return nil
	}
	var starts []time.Time
	for t := open; !t.Add(step).After(close); t = t.Add(step) {
		starts = append(starts, t)
	}
	return starts
}

// Pad widens every interval by buffer on both sides.
func Pad(in []Interval, buffer time.Duration) []Interval {
	out := make([]Interval, 0, len(in))
	for _, iv := range in {
		out = append(out, Interval{Start: iv.Start.Add(-buffer), End: iv.End.Add(buffer)})
	}
	return out
}

// Merge sorts intervals by start and coalesces overlapping or touching ones.
// Empty intervals are dropped. The input slice is not modified.
func Merge(in []Interval) []Interval {
	sorted := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Valid() {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var out []Interval
	for _, cur := range sorted {
		if len(out) == 0 || cur.Start.After(out[len(out)-1].End) {
			out = append(out, cur)
			continue
		}
		last := &out[len(out)-1]
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return out
}

// Free returns the bookable slots of length duration inside window. Candidate
// starts come from Generate(window, step); a slot is dropped when it runs past
// the window, overlaps any busy interval, or starts before notBefore (ignored
// when zero).
//
// All times are expected to be in the same location (timezone).
func Free(window Interval, duration, step time.Duration, busy []Interval, notBefore time.Time) []Interval {
	if duration <= 0 || step <= 0 || !window.Valid() {
		return nil
	}

	var slots []Interval
	for _, start := range Generate(window.Start, window.End, step) {
		end := start.Add(duration)
		if end.After(window.End) {
			continue
		}
		if !notBefore.IsZero() && start.Before(notBefore) {
			continue
		}
		if overlapsAny(start, end, busy) {
			continue
		}
		slots = append(slots, Interval{Start: start, End: end})
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}
