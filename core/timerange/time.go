package timerange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Day is the number of seconds in one daily cycle.
const Day = 24 * 60 * 60

// Midnight is 24:00:00 in HHMMSS form; clock comparisons wrap there.
const Midnight = 240000

// ErrBadTime is returned when a textual time matches none of the accepted forms.
var ErrBadTime = errors.New("invalid time")

// Time is a time of day without date, stored as seconds since midnight.
type Time int

var (
	reHMS  = regexp.MustCompile(`^(\d+):(\d+):(\d+)$`)
	reHM   = regexp.MustCompile(`^(\d+):(\d+)$`)
	reH    = regexp.MustCompile(`^(\d+)h?$`)
	reHhMM = regexp.MustCompile(`^(\d+)h(\d+)$`)
)

// NewTime builds a Time from its clock parts.
func NewTime(h, m, s int) (Time, error) {
	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return 0, fmt.Errorf("%w: %02d:%02d:%02d", ErrBadTime, h, m, s)
	}
	return Time(h*3600 + m*60 + s), nil
}

// MustTime is NewTime for literals known to be valid.
func MustTime(h, m, s int) Time {
	t, err := NewTime(h, m, s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTime accepts "HH:MM:SS", "HH:MM", "Hh" (or a bare hour) and "HhMM".
func ParseTime(s string) (Time, error) {
	s = strings.TrimSpace(s)
	var parts []string
	switch {
	case reHMS.MatchString(s):
		parts = reHMS.FindStringSubmatch(s)[1:]
	case reHM.MatchString(s):
		parts = reHM.FindStringSubmatch(s)[1:]
	case reH.MatchString(s):
		parts = reH.FindStringSubmatch(s)[1:]
	case reHhMM.MatchString(s):
		parts = reHhMM.FindStringSubmatch(s)[1:]
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	var hms [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadTime, s)
		}
		hms[i] = v
	}
	t, err := NewTime(hms[0], hms[1], hms[2])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	return t, nil
}

// FromHHMMSS converts the canonical HHMMSS integer form.
func FromHHMMSS(v int) (Time, error) {
	if v == Midnight {
		return 0, nil
	}
	return NewTime(v/10000, (v/100)%100, v%100)
}

// FromClock extracts the time of day of t in its own location.
func FromClock(t time.Time) Time {
	h, m, s := t.Clock()
	return Time(h*3600 + m*60 + s)
}

// HHMMSS returns the canonical integer form, e.g. 223000 for 22:30:00.
func (t Time) HHMMSS() int {
	h, m, s := t.Clock()
	return h*10000 + m*100 + s
}

// Clock returns hours, minutes and seconds.
func (t Time) Clock() (h, m, s int) {
	v := int(t.norm())
	return v / 3600, (v / 60) % 60, v % 60
}

// Seconds since midnight.
func (t Time) Seconds() int { return int(t.norm()) }

func (t Time) norm() Time {
	v := int(t) % Day
	if v < 0 {
		v += Day
	}
	return Time(v)
}

// WaitUntil returns how long to wait from t to reach next, wrapping past midnight.
// A zero wait means next is now.
func (t Time) WaitUntil(next Time) time.Duration {
	d := next.Seconds() - t.Seconds()
	if d < 0 {
		d += Day
	}
	return time.Duration(d) * time.Second
}

// Next returns the first instant at or after now whose clock reads t.
func (t Time) Next(now time.Time) time.Time {
	base := now.Truncate(time.Second)
	return base.Add(FromClock(now).WaitUntil(t))
}

func (t Time) String() string {
	h, m, s := t.Clock()
	if s != 0 {
		return fmt.Sprintf("%dh%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%dh%02d", h, m)
}

// MarshalText renders HH:MM:SS.
func (t Time) MarshalText() ([]byte, error) {
	h, m, s := t.Clock()
	return []byte(fmt.Sprintf("%02d:%02d:%02d", h, m, s)), nil
}

// UnmarshalText accepts every form ParseTime does.
func (t *Time) UnmarshalText(b []byte) error {
	v, err := ParseTime(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
