package optimizer

import (
	"context"
	"math"
	"math/rand"
	"sort"
)

// Genes encode one load each: 0 is off, g > 0 runs at Levels[g-1].
type genome []int

func encode(states []State) genome {
	g := make(genome, len(states))
	for i, s := range states {
		if s.On {
			g[i] = s.Level + 1
		}
	}
	return g
}

func (g genome) decode() []State {
	out := make([]State, len(g))
	for i, v := range g {
		if v > 0 {
			out[i] = State{Level: v - 1, On: true}
		}
	}
	return out
}

// geneBounds returns the inclusive range load i may take given its
// initial state. A waiting load that is on never goes below its first
// level drawing power.
func geneBounds(p *Problem, i int, initial State) (lo, hi int) {
	l := p.Loads[i]
	cur := 0
	if initial.On {
		cur = initial.Level + 1
	}
	switch {
	case !l.Usable:
		return cur, cur
	case l.Waiting && !initial.On:
		return 0, 0
	case l.Waiting:
		return l.firstOn() + 1, len(l.Levels)
	}
	return 0, len(l.Levels)
}

// Genetic is a generational genetic search with tournament selection,
// uniform crossover, per-gene mutation and elitism. The initial assignment
// is part of the first generation.
type Genetic struct {
	Population   int
	Generations  int
	MutationRate float64
}

func (Genetic) Name() string { return string(AlgoGenetic) }

type individual struct {
	g genome
	v float64
}

func (ga Genetic) Search(ctx context.Context, p *Problem, obj *Objective, initial []State, rng *rand.Rand) []State {
	n := len(p.Loads)
	lo, hi := make([]int, n), make([]int, n)
	for i := range p.Loads {
		lo[i], hi[i] = geneBounds(p, i, initial[i])
	}
	randomGene := func(i int) int { return lo[i] + rng.Intn(hi[i]-lo[i]+1) }
	eval := func(g genome) individual { return individual{g: g, v: obj.Value(p, g.decode())} }

	size := ga.Population
	if size < 2 {
		size = 2
	}
	pop := make([]individual, 0, size)
	pop = append(pop, eval(encode(initial)))
	for len(pop) < size {
		g := make(genome, n)
		for i := range g {
			g[i] = randomGene(i)
		}
		pop = append(pop, eval(g))
	}
	byValue := func() { sort.SliceStable(pop, func(a, b int) bool { return pop[a].v < pop[b].v }) }
	byValue()

	tournament := func() individual {
		best := pop[rng.Intn(len(pop))]
		for k := 0; k < 2; k++ {
			if c := pop[rng.Intn(len(pop))]; c.v < best.v {
				best = c
			}
		}
		return best
	}
	for gen := 0; gen < ga.Generations; gen++ {
		if ctx.Err() != nil {
			break
		}
		next := []individual{pop[0]}
		for len(next) < size {
			a, b := tournament(), tournament()
			child := make(genome, n)
			for i := range child {
				if rng.Intn(2) == 0 {
					child[i] = a.g[i]
				} else {
					child[i] = b.g[i]
				}
				if rng.Float64() < ga.MutationRate {
					child[i] = randomGene(i)
				}
			}
			next = append(next, eval(child))
		}
		pop = next
		byValue()
	}
	return pop[0].g.decode()
}

// BasinHopping perturbs one gene per iteration and accepts worse moves with
// a fixed temperature Metropolis test.
type BasinHopping struct {
	Iterations  int
	Temperature float64
}

func (BasinHopping) Name() string { return string(AlgoBasinHopping) }

func (bh BasinHopping) Search(ctx context.Context, p *Problem, obj *Objective, initial []State, rng *rand.Rand) []State {
	n := len(p.Loads)
	var free []int
	lo, hi := make([]int, n), make([]int, n)
	for i := range p.Loads {
		lo[i], hi[i] = geneBounds(p, i, initial[i])
		if hi[i] > lo[i] {
			free = append(free, i)
		}
	}
	current := encode(initial)
	currentV := obj.Value(p, current.decode())
	best, bestV := append(genome(nil), current...), currentV
	if len(free) == 0 {
		return best.decode()
	}
	temp := bh.Temperature
	if temp <= 0 {
		temp = 1
	}
	for it := 0; it < bh.Iterations; it++ {
		if ctx.Err() != nil {
			break
		}
		i := free[rng.Intn(len(free))]
		step := append(genome(nil), current...)
		v := lo[i] + rng.Intn(hi[i]-lo[i])
		if v >= current[i] {
			v++
		}
		step[i] = v
		sv := obj.Value(p, step.decode())
		if sv < currentV || rng.Float64() < math.Exp((currentV-sv)/temp) {
			current, currentV = step, sv
			if sv < bestV {
				best, bestV = append(genome(nil), step...), sv
			}
		}
	}
	return best.decode()
}
