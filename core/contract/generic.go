package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/hems/core/timerange"
)

// DefaultOutRangePrice is the price outside configured ranges of a Generic
// contract.
const DefaultOutRangePrice = 0.15

// Generic is a contract with static prices and off-peak hours.
type Generic struct {
	name   string
	ranges *timerange.HoursRanges
	sell   float64

	mu     sync.Mutex
	cached timerange.Status
	from   time.Time
	valid  bool
}

// NewGeneric builds a contract from priced ranges. Without ranges the whole
// day costs defaultPrice.
func NewGeneric(ranges []timerange.Range, defaultPrice, outRangePrice float64) (*Generic, error) {
	if len(ranges) == 0 {
		outRangePrice = defaultPrice
	}
	h, err := timerange.New(ranges, outRangePrice)
	if err != nil {
		return nil, err
	}
	return &Generic{name: "Generic", ranges: h}, nil
}

// NewHeuresCreuses is the RTE "Heures Creuses" option: offpeak inside the
// off-peak ranges, peak everywhere else.
func NewHeuresCreuses(peak, offpeak float64, offpeakRanges []timerange.Range) (*Generic, error) {
	rs := make([]timerange.Range, len(offpeakRanges))
	for i, r := range offpeakRanges {
		r.Cost = offpeak
		rs[i] = r
	}
	h, err := timerange.New(rs, peak)
	if err != nil {
		return nil, err
	}
	return &Generic{name: "RTEHeuresCreuses", ranges: h}, nil
}

// NewTarifBleu is the RTE base option: one price all day.
func NewTarifBleu(price float64) *Generic {
	return &Generic{name: "RTETarifBleu", ranges: timerange.MustNew(nil, price)}
}

// WithSellPrice sets the export price and returns g.
func (g *Generic) WithSellPrice(p float64) *Generic {
	g.sell = p
	return g
}

func (g *Generic) SellPrice() float64 { return g.sell }

func (g *Generic) HoursRanges(time.Time) (*timerange.HoursRanges, error) { return g.ranges, nil }

func (g *Generic) Price(attime time.Time) (float64, error) { return g.ranges.Cost(attime), nil }

func (g *Generic) PeakPrice(time.Time) (float64, error) { return g.ranges.MaxCost(), nil }

func (g *Generic) OffPeakPrice(time.Time) (float64, error) { return g.ranges.MinCost(), nil }

// InOffpeakRange caches the result until the current range ends.
func (g *Generic) InOffpeakRange(now time.Time) timerange.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.valid && !now.Before(g.from) && !now.After(g.cached.End) {
		return g.cached
	}
	g.cached = g.ranges.CheckRange(now)
	g.from = now
	g.valid = true
	return g.cached
}

func (g *Generic) String() string {
	return fmt.Sprintf("%s(%s)", g.name, g.ranges)
}
