package timerange

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrCrossingRanges is returned when two configured ranges overlap.
var ErrCrossingRanges = errors.New("crossing hours ranges")

// Range is one [Begin, End) slice of the day with its cost.
// A range whose Begin is after its End wraps past midnight.
type Range struct {
	Begin Time
	End   Time
	Cost  float64
	// Filler marks ranges inserted to close gaps between configured ones.
	Filler bool
}

// Span returns the length of the range. Begin == End covers the whole day.
func (r Range) Span() time.Duration {
	d := r.Begin.WaitUntil(r.End)
	if d == 0 {
		return Day * time.Second
	}
	return d
}

// contains reports whether t is in (Begin, End]: at the exact Begin instant
// the previous range still applies.
func (r Range) contains(t Time) bool {
	w := r.Begin.WaitUntil(t)
	return w > 0 && w <= r.Span() || w == 0 && r.Span() == Day*time.Second
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s:%g", r.Begin, r.End, r.Cost)
}

// HoursRanges is a gapless partition of the day.
type HoursRanges struct {
	ranges       []Range
	configured   int
	outRangeCost float64
}

// New builds the partition from configured ranges, filling every gap with
// outRangeCost.
func New(configured []Range, outRangeCost float64) (*HoursRanges, error) {
	h := &HoursRanges{outRangeCost: outRangeCost, configured: len(configured)}
	if len(configured) == 0 {
		h.ranges = []Range{{Begin: 0, End: 0, Cost: outRangeCost, Filler: true}}
		return h, nil
	}
	sorted := make([]Range, len(configured))
	copy(sorted, configured)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Begin < sorted[j].Begin })

	if len(sorted) == 1 {
		r := sorted[0]
		r.Filler = false
		h.ranges = append(h.ranges, r)
		if r.Begin != r.End {
			h.ranges = append(h.ranges, Range{Begin: r.End, End: r.Begin, Cost: outRangeCost, Filler: true})
		}
		return h, nil
	}
	for i, cur := range sorted {
		cur.Filler = false
		next := sorted[(i+1)%len(sorted)]
		gap := cur.Begin.WaitUntil(next.Begin)
		if gap == 0 || cur.Span() > gap {
			return nil, fmt.Errorf("%w: %s and %s", ErrCrossingRanges, cur, next)
		}
		h.ranges = append(h.ranges, cur)
		if cur.End != next.Begin {
			h.ranges = append(h.ranges, Range{Begin: cur.End, End: next.Begin, Cost: outRangeCost, Filler: true})
		}
	}
	return h, nil
}

// MustNew panics on error; for literals.
func MustNew(configured []Range, outRangeCost float64) *HoursRanges {
	h, err := New(configured, outRangeCost)
	if err != nil {
		panic(err)
	}
	return h
}

// Ranges returns the whole partition, configured ranges and fillers.
func (h *HoursRanges) Ranges() []Range {
	out := make([]Range, len(h.ranges))
	copy(out, h.ranges)
	return out
}

// Configured returns only the ranges coming from configuration.
func (h *HoursRanges) Configured() []Range {
	out := make([]Range, 0, h.configured)
	for _, r := range h.ranges {
		if !r.Filler {
			out = append(out, r)
		}
	}
	return out
}

// IsEmpty is true when no range was configured.
func (h *HoursRanges) IsEmpty() bool { return h.configured == 0 }

// OutRangeCost is the cost of filler ranges.
func (h *HoursRanges) OutRangeCost() float64 { return h.outRangeCost }

// Status is the result of CheckRange.
type Status struct {
	// InRange is true inside a configured range.
	InRange bool
	// End is the instant the current range closes.
	End  time.Time
	Cost float64
}

// Wait returns the duration from now to End.
func (s Status) Wait(now time.Time) time.Duration { return s.End.Sub(now) }

// CheckRange reports the range active at now. When now is exactly on a
// boundary the range ending there is still the active one.
func (h *HoursRanges) CheckRange(now time.Time) Status {
	if h.IsEmpty() {
		return Status{End: now.Truncate(time.Second).Add(Day * time.Second), Cost: h.outRangeCost}
	}
	t := FromClock(now)
	for _, r := range h.ranges {
		if r.contains(t) {
			end := r.End.Next(now)
			if r.Span() == Day*time.Second && end.Equal(now.Truncate(time.Second)) {
				end = end.Add(Day * time.Second)
			}
			return Status{InRange: !r.Filler, End: end, Cost: r.Cost}
		}
	}
	// unreachable for a valid partition
	return Status{End: now.Add(Day * time.Second), Cost: h.outRangeCost}
}

// Cost returns the price at attime.
func (h *HoursRanges) Cost(attime time.Time) float64 { return h.CheckRange(attime).Cost }

// MaxCost returns the highest cost of the partition.
func (h *HoursRanges) MaxCost() float64 {
	m := h.ranges[0].Cost
	for _, r := range h.ranges[1:] {
		if r.Cost > m {
			m = r.Cost
		}
	}
	return m
}

// MinCost returns the lowest cost of the partition.
func (h *HoursRanges) MinCost() float64 {
	m := h.ranges[0].Cost
	for _, r := range h.ranges[1:] {
		if r.Cost < m {
			m = r.Cost
		}
	}
	return m
}

// Period is one dated slice of a HoursRanges.
type Period struct {
	Begin   time.Time
	End     time.Time
	Cost    float64
	InRange bool
}

// Duration of the period.
func (p Period) Duration() time.Duration { return p.End.Sub(p.Begin) }

// Periods cuts [from, to) along range boundaries.
func (h *HoursRanges) Periods(from, to time.Time) []Period {
	var out []Period
	cur := from
	for cur.Before(to) {
		st := h.CheckRange(cur)
		end := st.End
		if !end.After(cur) {
			// exact boundary: step into the following range
			st = h.CheckRange(cur.Add(time.Second))
			end = st.End
		}
		if end.After(to) {
			end = to
		}
		out = append(out, Period{Begin: cur, End: end, Cost: st.Cost, InRange: st.InRange})
		cur = end
	}
	return out
}

func (h *HoursRanges) String() string {
	parts := make([]string, len(h.ranges))
	for i, r := range h.ranges {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
