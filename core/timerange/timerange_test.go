package timerange

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m, s int) time.Time {
	return time.Date(2025, 1, 15, h, m, s, 0, time.UTC)
}

func TestParseTimeForms(t *testing.T) {
	cases := map[string]int{
		"22:00:00":   220000,
		"6:30":       63000,
		"22h":        220000,
		"6":          60000,
		"6h30":       63000,
		" 12:34:56 ": 123456,
	}
	for in, want := range cases {
		got, err := ParseTime(in)
		if err != nil {
			t.Fatalf("ParseTime(%q): %v", in, err)
		}
		if got.HHMMSS() != want {
			t.Fatalf("ParseTime(%q)=%d want %d", in, got.HHMMSS(), want)
		}
	}
	for _, bad := range []string{"", "abc", "25h", "12:60", "1h2h"} {
		if _, err := ParseTime(bad); !errors.Is(err, ErrBadTime) {
			t.Fatalf("ParseTime(%q) expected ErrBadTime, got %v", bad, err)
		}
	}
}

func TestWaitUntilWraps(t *testing.T) {
	assert.Equal(t, 8*time.Hour, MustTime(22, 0, 0).WaitUntil(MustTime(6, 0, 0)))
	assert.Equal(t, 2*time.Hour, MustTime(10, 0, 0).WaitUntil(MustTime(12, 0, 0)))
	assert.Equal(t, time.Duration(0), MustTime(10, 0, 0).WaitUntil(MustTime(10, 0, 0)))
}

func TestFromHHMMSS(t *testing.T) {
	v, err := FromHHMMSS(Midnight)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Seconds())
	v, err = FromHHMMSS(63015)
	require.NoError(t, err)
	assert.Equal(t, 6*3600+30*60+15, v.Seconds())
	_, err = FromHHMMSS(67000)
	assert.Error(t, err)
}

func TestPartitionCoversDay(t *testing.T) {
	sets := [][]Range{
		{{Begin: MustTime(22, 0, 0), End: MustTime(6, 0, 0)}},
		{{Begin: MustTime(14, 0, 0), End: MustTime(16, 0, 0)}, {Begin: MustTime(10, 0, 0), End: MustTime(11, 30, 0)}},
		{{Begin: MustTime(0, 0, 0), End: MustTime(6, 0, 0)}, {Begin: MustTime(6, 0, 0), End: MustTime(0, 0, 0)}},
		{{Begin: MustTime(1, 0, 0), End: MustTime(2, 0, 0)}, {Begin: MustTime(23, 0, 0), End: MustTime(0, 30, 0)}},
	}
	for i, set := range sets {
		h, err := New(set, 0.2)
		require.NoError(t, err, "set %d", i)
		rs := h.Ranges()
		var total time.Duration
		for j, r := range rs {
			next := rs[(j+1)%len(rs)]
			if r.End != next.Begin {
				t.Fatalf("set %d: range %s does not join %s", i, r, next)
			}
			total += r.Span()
		}
		assert.Equal(t, 24*time.Hour, total, "set %d", i)
	}
}

func TestCrossingRangesRejected(t *testing.T) {
	_, err := New([]Range{
		{Begin: MustTime(10, 0, 0), End: MustTime(12, 0, 0)},
		{Begin: MustTime(11, 0, 0), End: MustTime(13, 0, 0)},
	}, 0)
	if !errors.Is(err, ErrCrossingRanges) {
		t.Fatalf("expected ErrCrossingRanges, got %v", err)
	}
	_, err = New([]Range{
		{Begin: MustTime(22, 0, 0), End: MustTime(6, 0, 0)},
		{Begin: MustTime(5, 0, 0), End: MustTime(7, 0, 0)},
	}, 0)
	assert.ErrorIs(t, err, ErrCrossingRanges)
}

func TestCheckRangeAcrossMidnight(t *testing.T) {
	h, err := ParseHoursRanges([]any{[]any{"22:00:00", "06:00:00"}}, 0.1, 0.2)
	require.NoError(t, err)

	st := h.CheckRange(at(23, 0, 0))
	assert.True(t, st.InRange)
	assert.Equal(t, time.Date(2025, 1, 16, 6, 0, 0, 0, time.UTC), st.End)
	assert.Equal(t, 0.1, st.Cost)

	st = h.CheckRange(at(6, 30, 0))
	assert.False(t, st.InRange)
	assert.Equal(t, at(22, 0, 0), st.End)
	assert.Equal(t, 0.2, st.Cost)
}

func TestCheckRangeTwoRanges(t *testing.T) {
	h, err := ParseHoursRanges([]any{"10:00-11:30", "14h-16h"}, 0, 1)
	require.NoError(t, err)

	st := h.CheckRange(at(15, 0, 0))
	assert.True(t, st.InRange)
	assert.Equal(t, at(16, 0, 0), st.End)

	st = h.CheckRange(at(23, 0, 0))
	assert.False(t, st.InRange)
	assert.Equal(t, time.Date(2025, 1, 16, 10, 0, 0, 0, time.UTC), st.End)

	st = h.CheckRange(at(12, 34, 56))
	assert.False(t, st.InRange)
	assert.Equal(t, at(14, 0, 0), st.End)
}

func TestCheckRangeExactBoundaryKeepsPreviousRange(t *testing.T) {
	h := MustNew([]Range{{Begin: MustTime(22, 0, 0), End: MustTime(6, 0, 0), Cost: 0.1}}, 0.2)

	// 22:00 sharp still belongs to the day range ending there
	st := h.CheckRange(at(22, 0, 0))
	assert.False(t, st.InRange)
	assert.Equal(t, at(22, 0, 0), st.End)
	assert.Equal(t, 0.2, st.Cost)

	st = h.CheckRange(at(22, 0, 1))
	assert.True(t, st.InRange)

	// 06:00 sharp is still off-peak
	st = h.CheckRange(at(6, 0, 0))
	assert.True(t, st.InRange)
	assert.Equal(t, at(6, 0, 0), st.End)
}

func TestEmptyRanges(t *testing.T) {
	h, err := New(nil, 0.17)
	require.NoError(t, err)
	assert.True(t, h.IsEmpty())
	st := h.CheckRange(at(8, 0, 0))
	assert.False(t, st.InRange)
	assert.Equal(t, 0.17, st.Cost)
	assert.Equal(t, at(8, 0, 0).Add(24*time.Hour), st.End)
}

func TestMinMaxCost(t *testing.T) {
	h, err := ParseHoursRanges([]any{
		[]any{"0h", "6h", 0.1},
		map[string]any{"range": "12h-14h", "cost": "0.05"},
	}, 0.15, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, h.MaxCost())
	assert.Equal(t, 0.05, h.MinCost())
	assert.Len(t, h.Configured(), 2)
	assert.Len(t, h.Ranges(), 4)
}

func TestPeriods(t *testing.T) {
	h := MustNew([]Range{{Begin: MustTime(22, 0, 0), End: MustTime(6, 0, 0), Cost: 0.1}}, 0.2)
	ps := h.Periods(at(20, 0, 0), time.Date(2025, 1, 16, 8, 0, 0, 0, time.UTC))
	require.Len(t, ps, 3)
	assert.Equal(t, 2*time.Hour, ps[0].Duration())
	assert.False(t, ps[0].InRange)
	assert.Equal(t, 8*time.Hour, ps[1].Duration())
	assert.True(t, ps[1].InRange)
	assert.Equal(t, 2*time.Hour, ps[2].Duration())

	// starting on a boundary steps into the next range
	ps = h.Periods(at(22, 0, 0), at(23, 0, 0))
	require.Len(t, ps, 1)
	assert.True(t, ps[0].InRange)
}

func TestParseRangesErrors(t *testing.T) {
	_, err := ParseRanges([]any{"22h"}, 0)
	assert.Error(t, err)
	_, err = ParseRanges([]any{[]any{"a", "b"}}, 0)
	assert.Error(t, err)
	_, err = ParseRanges(42, 0)
	assert.Error(t, err)
}
