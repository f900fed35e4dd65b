package contract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kilianp07/hems/core/feeder"
	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/timerange"
)

// Color is a Tempo day colour.
type Color string

const (
	Blue  Color = "bleu"
	White Color = "blanc"
	Red   Color = "rouge"
)

// Colors lists the Tempo colours, cheapest first.
var Colors = []Color{Blue, White, Red}

// ParseColor accepts French and English names.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bleu", "blue":
		return Blue, nil
	case "blanc", "white":
		return White, nil
	case "rouge", "red":
		return Red, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownColor, s)
}

// ColorProvider looks up the colour of a Tempo day. day is the calendar
// date the Tempo day starts on.
type ColorProvider interface {
	Color(ctx context.Context, day time.Time) (Color, error)
}

// DefaultDayChangeHour is the hour a Tempo day starts.
const DefaultDayChangeHour = 6

const (
	cacheKeyLayout = "2006010215"
	dayLayout      = "2006-01-02"
	historySize    = 64
)

// TempoConfig configures a Tempo contract.
type TempoConfig struct {
	PeakPrices    map[Color]float64
	OffPeakPrices map[Color]float64
	OffPeakRanges []timerange.Range
	DayChangeHour int
	SellPrice     float64
	// Color and NextColor read the colours from entities. When nil the
	// provider is asked.
	Color     feeder.Feeder[string]
	NextColor feeder.Feeder[string]
	Provider  ColorProvider
	Logger    logger.Logger
	// NewBackOff paces provider retries.
	NewBackOff func() backoff.BackOff
	Timeout    time.Duration
}

type colorCache struct {
	key   string
	color Color
}

// Tempo is the RTE Tempo option: prices depend on a colour set every day by
// RTE. A Tempo day runs from DayChangeHour to DayChangeHour the next day.
type Tempo struct {
	cfg   TempoConfig
	hours *timerange.HoursRanges
	log   logger.Logger

	mu      sync.Mutex
	cur     colorCache
	next    colorCache
	history *lru.Cache[string, Color]
	byColor map[Color]*timerange.HoursRanges
}

// NewTempo validates cfg and builds the contract.
func NewTempo(cfg TempoConfig) (*Tempo, error) {
	if cfg.DayChangeHour < 0 || cfg.DayChangeHour > 23 {
		return nil, fmt.Errorf("tempo day change hour %d out of range", cfg.DayChangeHour)
	}
	if cfg.Color == nil && cfg.Provider == nil {
		return nil, fmt.Errorf("tempo: no color entity nor color provider")
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultBackOff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	t := &Tempo{cfg: cfg, log: logger.OrDiscard(cfg.Logger), byColor: map[Color]*timerange.HoursRanges{}}
	var err error
	if t.hours, err = timerange.New(cfg.OffPeakRanges, 0); err != nil {
		return nil, err
	}
	for _, c := range Colors {
		peak, ok1 := cfg.PeakPrices[c]
		off, ok2 := cfg.OffPeakPrices[c]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("tempo: missing price for %s", c)
		}
		rs := make([]timerange.Range, len(cfg.OffPeakRanges))
		for i, r := range cfg.OffPeakRanges {
			r.Cost = off
			rs[i] = r
		}
		if t.byColor[c], err = timerange.New(rs, peak); err != nil {
			return nil, err
		}
	}
	if t.history, err = lru.New[string, Color](historySize); err != nil {
		return nil, err
	}
	return t, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 64 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// ColorDate returns the calendar date the Tempo day of attime started on.
func (t *Tempo) ColorDate(attime time.Time) time.Time {
	if attime.Hour() < t.cfg.DayChangeHour {
		attime = attime.AddDate(0, 0, -1)
	}
	y, m, d := attime.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, attime.Location())
}

// Color returns the colour applying at attime, seen from now.
func (t *Tempo) Color(now, attime time.Time) (Color, error) {
	if attime.IsZero() || attime.Equal(now) {
		return t.CurrentColor(now)
	}
	day := t.ColorDate(attime)
	today := t.ColorDate(now)
	switch {
	case day.Equal(today):
		return t.CurrentColor(now)
	case day.Equal(today.AddDate(0, 0, 1)):
		return t.NextColor(now)
	case day.After(today):
		return "", fmt.Errorf("%w: %s is not published yet", ErrUnknownColor, day.Format(dayLayout))
	}
	return t.historyColor(day)
}

// CurrentColor returns today's colour. The value is cached for the calendar
// hour; invalid values are never cached.
func (t *Tempo) CurrentColor(now time.Time) (Color, error) {
	return t.cached(&t.cur, now, t.cfg.Color, t.ColorDate(now))
}

// NextColor returns tomorrow's colour, cached like CurrentColor.
func (t *Tempo) NextColor(now time.Time) (Color, error) {
	return t.cached(&t.next, now, t.cfg.NextColor, t.ColorDate(now).AddDate(0, 0, 1))
}

func (t *Tempo) cached(c *colorCache, now time.Time, f feeder.Feeder[string], day time.Time) (Color, error) {
	key := now.Format(cacheKeyLayout)
	t.mu.Lock()
	if c.key == key {
		color := c.color
		t.mu.Unlock()
		return color, nil
	}
	t.mu.Unlock()

	var color Color
	var err error
	if f != nil {
		var raw string
		if raw, err = f.Value(); err == nil {
			color, err = ParseColor(raw)
		}
	} else {
		color, err = t.lookup(day)
	}
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	*c = colorCache{key: key, color: color}
	t.mu.Unlock()
	return color, nil
}

func (t *Tempo) historyColor(day time.Time) (Color, error) {
	k := day.Format(dayLayout)
	if c, ok := t.history.Get(k); ok {
		return c, nil
	}
	c, err := t.lookup(day)
	if err != nil {
		return "", err
	}
	t.history.Add(k, c)
	return c, nil
}

func (t *Tempo) lookup(day time.Time) (Color, error) {
	if t.cfg.Provider == nil {
		return "", fmt.Errorf("%w: no provider for %s", ErrUnknownColor, day.Format(dayLayout))
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout*4)
	defer cancel()
	op := func() (Color, error) {
		rctx, rcancel := context.WithTimeout(ctx, t.cfg.Timeout)
		defer rcancel()
		c, err := t.cfg.Provider.Color(rctx, day)
		if err != nil {
			t.log.Warnf("tempo color of %s: %v", day.Format(dayLayout), err)
		}
		return c, err
	}
	return backoff.RetryWithData(op, backoff.WithContext(t.cfg.NewBackOff(), ctx))
}

func (t *Tempo) prices(now, attime time.Time) (*timerange.HoursRanges, Color, error) {
	c, err := t.Color(now, attime)
	if err != nil {
		return nil, "", err
	}
	h, ok := t.byColor[c]
	if !ok {
		return nil, c, fmt.Errorf("%w: %q", ErrUnknownColor, c)
	}
	return h, c, nil
}

// HoursRanges returns the ranges priced with the colour of attime.
func (t *Tempo) HoursRanges(attime time.Time) (*timerange.HoursRanges, error) {
	h, _, err := t.prices(attime, attime)
	return h, err
}

func (t *Tempo) Price(attime time.Time) (float64, error) {
	h, _, err := t.prices(attime, attime)
	if err != nil {
		return 0, err
	}
	return h.Cost(attime), nil
}

func (t *Tempo) PeakPrice(attime time.Time) (float64, error) {
	_, c, err := t.prices(attime, attime)
	if err != nil {
		return 0, err
	}
	return t.cfg.PeakPrices[c], nil
}

func (t *Tempo) OffPeakPrice(attime time.Time) (float64, error) {
	_, c, err := t.prices(attime, attime)
	if err != nil {
		return 0, err
	}
	return t.cfg.OffPeakPrices[c], nil
}

// InOffpeakRange does not depend on the colour. The cost is left at zero
// when the colour is unknown.
func (t *Tempo) InOffpeakRange(now time.Time) timerange.Status {
	st := t.hours.CheckRange(now)
	if h, _, err := t.prices(now, now); err == nil {
		st.Cost = h.Cost(now)
	} else {
		t.log.Warnf("tempo: %v", err)
	}
	return st
}

func (t *Tempo) SellPrice() float64 { return t.cfg.SellPrice }

func (t *Tempo) String() string {
	return fmt.Sprintf("RTETempo(offpeak=%s, peak=%v, offpeak=%v)", t.hours, t.cfg.PeakPrices, t.cfg.OffPeakPrices)
}
