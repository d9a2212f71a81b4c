package polytope

import (
	"fmt"
	"math"
)

const lmoTolerance = 1e-7

// FindDescentVertex solves the Linear Minimization Oracle:
//
//	z* = argmin_{z in {0,1}^n, A^T z {>=,<=,=} b} <gradient, z>
//
// via the package's LRU-cached search (see cache.go). It is the step the
// Frank-Wolfe projector calls every iteration.
func (p *Polytope) FindDescentVertex(gradient []float64, cache *Cache) ([]float64, error) {
	if cache != nil {
		if cached, ok := cache.Get(p.Constraints, gradient); ok {
			return cached, nil
		}
	}

	z, err := p.findDescentVertexUncached(gradient)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		cache.Put(p.Constraints, gradient, z)
	}
	return z, nil
}

// findDescentVertexUncached performs branch-and-bound over the binary
// hypercube. At each node it fixes one more variable to 0 or 1 and prunes
// a branch once its best achievable objective can't beat the incumbent.
func (p *Polytope) findDescentVertexUncached(gradient []float64) ([]float64, error) {
	n := p.N
	assignment := make([]float64, n)
	fixed := make([]bool, n)

	best := &bnbState{objective: math.Inf(1)}
	p.branch(0, assignment, fixed, gradient, best)

	if best.solution == nil {
		return nil, fmt.Errorf("no feasible binary vertex satisfies the constraint system")
	}
	return best.solution, nil
}

type bnbState struct {
	objective float64
	solution  []float64
}

// branch explores both assignments for variable idx, pruning once
// lowerBound (the fixed gradient contributions plus min(0, g) for every
// unfixed variable) can no longer beat the incumbent.
func (p *Polytope) branch(idx int, assignment []float64, fixed []bool, gradient []float64, best *bnbState) {
	if idx == p.N {
		if !p.IsFeasible(assignment, lmoTolerance) {
			return
		}
		obj := dot(gradient, assignment)
		if obj < best.objective {
			best.objective = obj
			best.solution = append([]float64(nil), assignment...)
		}
		return
	}

	if p.lowerBound(idx, assignment, gradient) >= best.objective {
		return
	}

	for _, v := range [2]float64{0, 1} {
		assignment[idx] = v
		fixed[idx] = true
		p.branch(idx+1, assignment, fixed, gradient, best)
	}
	fixed[idx] = false
}

// lowerBound estimates the best objective reachable from this partial
// assignment by assuming every remaining variable takes whichever of 0/1
// has the smaller gradient coefficient (ignoring constraints — an
// admissible relaxation since constraints can only rule out that choice,
// never improve the objective).
func (p *Polytope) lowerBound(idx int, assignment, gradient []float64) float64 {
	bound := 0.0
	for i := 0; i < idx; i++ {
		bound += gradient[i] * assignment[i]
	}
	for i := idx; i < p.N; i++ {
		bound += math.Min(0, gradient[i])
	}
	return bound
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
