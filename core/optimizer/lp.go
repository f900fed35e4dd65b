package optimizer

import (
	"context"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// LinearRelaxation solves the continuous relaxation of the problem with the
// simplex method, then rounds every load to its nearest level. The rounded
// assignment is kept only when it beats the initial one.
type LinearRelaxation struct{}

func (LinearRelaxation) Name() string { return string(AlgoLinear) }

// solveRelaxed minimises importC*I + dischargeC*D over variables
// [p_1..p_n, I, D] subject to lo_i <= p_i <= hi_i, I, D >= 0 and
// sum(p) - I + D = initial - net.
func solveRelaxed(lo, hi []float64, importC, dischargeC, rhs float64) ([]float64, error) {
	n := len(lo)
	nv := n + 2
	c := make([]float64, nv)
	c[n], c[n+1] = importC, dischargeC

	g := mat.NewDense(2*n+2, nv, nil)
	h := make([]float64, 2*n+2)
	for i := 0; i < n; i++ {
		g.Set(2*i, i, 1)
		h[2*i] = hi[i]
		g.Set(2*i+1, i, -1)
		h[2*i+1] = -lo[i]
	}
	g.Set(2*n, n, -1)
	g.Set(2*n+1, n+1, -1)

	a := mat.NewDense(1, nv, nil)
	for i := 0; i < n; i++ {
		a.Set(0, i, 1)
	}
	a.Set(0, n, -1)
	a.Set(0, n+1, 1)
	b := []float64{rhs}

	cStd, aStd, bStd := lp.Convert(c, g, h, a, b)
	_, sol, err := lp.Simplex(cStd, aStd, bStd, 1e-7, nil)
	if err != nil {
		return nil, err
	}
	// Convert splits every variable into a positive and a negative part.
	x := make([]float64, n)
	for i := range x {
		x[i] = sol[i] - sol[nv+i]
	}
	return x, nil
}

// relaxedSolve is replaced in tests to simulate solver failures.
var relaxedSolve = solveRelaxed

func (LinearRelaxation) Search(_ context.Context, p *Problem, obj *Objective, initial []State, _ *rand.Rand) []State {
	n := len(p.Loads)
	lo, hi := make([]float64, n), make([]float64, n)
	for i, l := range p.Loads {
		gl, gh := geneBounds(p, i, initial[i])
		lo[i] = powerOfGene(l, gl)
		hi[i] = powerOfGene(l, gh)
	}
	x, err := relaxedSolve(lo, hi, obj.importC, obj.dischargC, obj.initial-obj.net)
	if err != nil {
		return clone(initial)
	}
	out := make([]State, n)
	for i, l := range p.Loads {
		gl, gh := geneBounds(p, i, initial[i])
		best, bestD := gl, -1.0
		for gene := gl; gene <= gh; gene++ {
			d := powerOfGene(l, gene) - x[i]
			if d < 0 {
				d = -d
			}
			if bestD < 0 || d < bestD {
				best, bestD = gene, d
			}
		}
		if best > 0 {
			out[i] = State{Level: best - 1, On: true}
		}
	}
	if obj.Value(p, out) < obj.Value(p, initial) {
		return out
	}
	return clone(initial)
}

func powerOfGene(l Load, gene int) float64 {
	if gene <= 0 {
		return 0
	}
	return l.Levels[gene-1]
}
