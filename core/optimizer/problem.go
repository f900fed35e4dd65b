package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNoLoads is returned when there is nothing to optimise.
var ErrNoLoads = errors.New("no controllable load: no optimization possible")

// Load is one controllable device as seen by the optimizer.
type Load struct {
	ID string
	// Levels are the powers the device can run at, ascending. A device
	// without controlled power has {0, MaxPower}.
	Levels       []float64
	MaxPower     float64
	CurrentPower float64
	On           bool
	// Usable is false for deactivated devices, which keep their state.
	Usable bool
	// Waiting forbids switching the device off.
	Waiting bool
}

// CanChangePower reports whether the device has intermediate levels.
func (l Load) CanChangePower() bool { return len(l.Levels) > 2 }

// nearest returns the index of the level closest to p.
func (l Load) nearest(p float64) int {
	best := 0
	for i, v := range l.Levels {
		if math.Abs(v-p) < math.Abs(l.Levels[best]-p) {
			best = i
		}
	}
	return best
}

// firstOn is the lowest level drawing power.
func (l Load) firstOn() int {
	for i, v := range l.Levels {
		if v > 0 {
			return i
		}
	}
	return len(l.Levels) - 1
}

// Prices are the per-kWh prices used by the objective. SellTax is a
// percentage removed from Sell, set by the Optimizer from its Config.
type Prices struct {
	Buy     float64
	OffPeak float64
	Sell    float64
	SellTax float64
}

// Problem is one optimization request.
type Problem struct {
	Loads []Load
	// NetConsumption is the grid power, negative when exporting.
	NetConsumption  float64
	SolarProduction float64
	BatterySoC      float64
	Prices          Prices
}

// Validate normalises levels and rejects empty problems.
func (p *Problem) Validate() error {
	if len(p.Loads) == 0 {
		return ErrNoLoads
	}
	for i := range p.Loads {
		l := &p.Loads[i]
		if len(l.Levels) == 0 {
			l.Levels = []float64{0, l.MaxPower}
		}
		sort.Float64s(l.Levels)
		for _, v := range l.Levels {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("load %s: invalid power level %v", l.ID, v)
			}
		}
	}
	return nil
}

// State is the decision for one load: run at Levels[Level] when On.
type State struct {
	Level int
	On    bool
}

func (p *Problem) power(i int, s State) float64 {
	if !s.On {
		return 0
	}
	return p.Loads[i].Levels[s.Level]
}

// initial returns the states matching what the devices do now.
func (p *Problem) initial() []State {
	out := make([]State, len(p.Loads))
	for i, l := range p.Loads {
		if l.On {
			out[i] = State{Level: l.nearest(l.CurrentPower), On: true}
			if l.Levels[out[i].Level] <= 0 {
				out[i].Level = l.firstOn()
			}
		}
	}
	return out
}

// Assignment is the decision for one load, in watts.
type Assignment struct {
	ID    string
	Power float64
	On    bool
}

// Solution is the result of a search.
type Solution struct {
	Assignments []Assignment
	Objective   float64
	// Initial is the objective of the devices' current states.
	Initial float64
	// TotalPower is the power drawn by the loads switched on.
	TotalPower float64
	Algorithm  string
}

func (p *Problem) solution(states []State, obj *Objective, algo string) Solution {
	s := Solution{Assignments: make([]Assignment, len(states)), Algorithm: algo}
	for i, st := range states {
		pw := p.power(i, st)
		s.Assignments[i] = Assignment{ID: p.Loads[i].ID, Power: pw, On: st.On && pw > 0}
		s.TotalPower += pw
	}
	s.Objective = obj.ForPower(s.TotalPower)
	return s
}
