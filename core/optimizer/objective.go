package optimizer

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the objective memo.
const DefaultCacheSize = 10000

// Objective scores a total equipment power. Importing is weighted by the
// buy price and discharging (exporting or draining the battery) by the taxed
// sell price, both relative to their sum.
type Objective struct {
	net       float64
	initial   float64
	importC   float64
	dischargC float64
	memo      *lru.Cache[float64, float64]
}

type objectiveKey struct {
	net, solar, initial float64
	prices              Prices
}

func newObjective(p *Problem, initial float64, memo *lru.Cache[float64, float64]) *Objective {
	o := &Objective{net: p.NetConsumption, initial: initial, memo: memo}
	sell := p.Prices.Sell * (1 - p.Prices.SellTax/100)
	if total := p.Prices.Buy + sell; total != 0 {
		o.importC = p.Prices.Buy / total
		o.dischargC = sell / total
	}
	return o
}

// Value returns the objective of states.
func (o *Objective) Value(p *Problem, states []State) float64 {
	var total float64
	for i, s := range states {
		total += p.power(i, s)
	}
	return o.ForPower(total)
}

// ForPower returns the objective for a total equipment power. Results are
// memoised; the memo must be purged when prices or consumption change.
func (o *Objective) ForPower(total float64) float64 {
	if o.memo != nil {
		if v, ok := o.memo.Get(total); ok {
			return v
		}
	}
	newNet := o.net + total - o.initial
	var imp, discharge float64
	if newNet < 0 {
		discharge = -newNet
	} else {
		imp = newNet
	}
	v := o.importC*imp + o.dischargC*discharge
	if o.memo != nil {
		o.memo.Add(total, v)
	}
	return v
}

// Initial is the power drawn by the loads before optimization.
func (o *Objective) Initial() float64 { return o.initial }
