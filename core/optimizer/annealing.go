package optimizer

import (
	"context"
	"math"
	"math/rand"
)

// Searcher explores assignments of one problem. Implementations share the
// objective and differ only in how they search.
type Searcher interface {
	Name() string
	Search(ctx context.Context, p *Problem, obj *Objective, initial []State, rng *rand.Rand) []State
}

func clone(s []State) []State {
	out := make([]State, len(s))
	copy(out, s)
	return out
}

// usable returns the indexes of loads a search may change.
func usable(p *Problem) []int {
	var out []int
	for i, l := range p.Loads {
		if l.Usable {
			out = append(out, i)
		}
	}
	return out
}

// Annealing is simulated annealing over single-load moves: switch a device
// on or off, or step its power one level up or down.
type Annealing struct {
	InitialTemp   float64
	MinTemp       float64
	CoolingFactor float64
	MaxIterations int
}

func (Annealing) Name() string { return string(AlgoAnnealing) }

func (a Annealing) Search(ctx context.Context, p *Problem, obj *Objective, initial []State, rng *rand.Rand) []State {
	candidates := usable(p)
	current := clone(initial)
	currentV := obj.Value(p, current)
	best, bestV := clone(current), currentV
	if len(candidates) == 0 {
		return best
	}
	temp := a.InitialTemp
	for it := 0; it < a.MaxIterations && temp >= a.MinTemp; it++ {
		if ctx.Err() != nil {
			break
		}
		neighbor := clone(current)
		move(p, neighbor, candidates[rng.Intn(len(candidates))], rng)
		v := obj.Value(p, neighbor)
		if v < currentV || rng.Float64() < math.Exp((currentV-v)/temp) {
			current, currentV = neighbor, v
			if v < bestV {
				best, bestV = clone(neighbor), v
			}
		}
		temp *= a.CoolingFactor
	}
	return best
}

// move mutates load i of states in place.
func move(p *Problem, states []State, i int, rng *rand.Rand) {
	l := p.Loads[i]
	s := &states[i]
	switch {
	case !s.On && l.Waiting:
		// a waiting load off stays off
	case s.On && l.CanChangePower():
		next := s.Level
		switch {
		case s.Level <= 0:
			next = 1
		case s.Level >= len(l.Levels)-1:
			next = s.Level - 1
		default:
			if rng.Intn(2) == 0 {
				next--
			} else {
				next++
			}
		}
		if next == 0 {
			// the lowest level means off, unless the load must keep running
			if l.Waiting {
				if l.Levels[0] > 0 {
					s.Level = 0
				}
				return
			}
			s.On = false
			s.Level = 0
			return
		}
		s.Level = next
	case s.On:
		if !l.Waiting {
			s.On = false
			s.Level = 0
		}
	default:
		s.On = true
		s.Level = l.firstOn()
	}
}
