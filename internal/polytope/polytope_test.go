package polytope

import (
	"math"
	"testing"
)

// sumToOne returns the two-variable "YES+NO=1" constraint, the atomic
// pair's marginal polytope.
func sumToOne() *Polytope {
	return New(2, []Constraint{
		{Coeffs: map[int]float64{0: 1, 1: 1}, Sense: EQ, RHS: 1},
	})
}

func TestIsFeasible(t *testing.T) {
	t.Parallel()
	p := sumToOne()

	if !p.IsFeasible([]float64{1, 0}, 1e-6) {
		t.Error("{1,0} should satisfy YES+NO=1")
	}
	if !p.IsFeasible([]float64{0, 1}, 1e-6) {
		t.Error("{0,1} should satisfy YES+NO=1")
	}
	if p.IsFeasible([]float64{1, 1}, 1e-6) {
		t.Error("{1,1} should violate YES+NO=1")
	}
}

func TestFindDescentVertexPicksMinimizer(t *testing.T) {
	t.Parallel()
	p := sumToOne()
	cache := NewCache(10)

	// Minimizing <grad, z> with grad=[1,0] over {(1,0),(0,1)} should pick (0,1).
	z, err := p.FindDescentVertex([]float64{1, 0}, cache)
	if err != nil {
		t.Fatalf("FindDescentVertex: %v", err)
	}
	if z[0] != 0 || z[1] != 1 {
		t.Errorf("z = %v, want [0,1]", z)
	}
}

func TestFindDescentVertexInfeasible(t *testing.T) {
	t.Parallel()
	p := New(1, []Constraint{
		{Coeffs: map[int]float64{0: 1}, Sense: GE, RHS: 2}, // z0 in {0,1} can never reach 2
	})
	cache := NewCache(10)

	if _, err := p.FindDescentVertex([]float64{1}, cache); err == nil {
		t.Error("expected an error for an infeasible constraint system")
	}
}

func TestCacheHitsOnRepeatedQuery(t *testing.T) {
	t.Parallel()
	p := sumToOne()
	cache := NewCache(10)

	if _, err := p.FindDescentVertex([]float64{1, 0}, cache); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := p.FindDescentVertex([]float64{1, 0}, cache); err != nil {
		t.Fatalf("second call: %v", err)
	}

	hits, misses := cache.Stats()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
}

func TestCacheEvictsLRU(t *testing.T) {
	t.Parallel()
	cache := NewCache(1)

	c := []Constraint{{Coeffs: map[int]float64{0: 1}, Sense: GE, RHS: 0}}
	cache.Put(c, []float64{1}, []float64{1})
	cache.Put(c, []float64{2}, []float64{2}) // evicts the first

	if _, ok := cache.Get(c, []float64{1}); ok {
		t.Error("expected first entry to be evicted")
	}
	if _, ok := cache.Get(c, []float64{2}); !ok {
		t.Error("expected second entry to remain cached")
	}
}

func TestProjectorConvergesOnFeasiblePoint(t *testing.T) {
	t.Parallel()
	p := sumToOne()
	pr := NewProjector(ProjectorConfig{MaxIterations: 200, Tolerance: 1e-6, BarrierWeight: 0.01, StallRounds: 5}, 50)

	// Raw prices sum to 1.1 -- an atomic sum-violation the projector
	// should pull back toward the YES+NO=1 constraint surface.
	mu, err := pr.Project([]float64{0.6, 0.5}, p)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	sum := mu[0] + mu[1]
	if math.Abs(sum-1.0) > 0.05 {
		t.Errorf("projected sum = %v, want close to 1.0", sum)
	}
	for i, v := range mu {
		if v < 0 || v > 1 {
			t.Errorf("mu[%d] = %v out of [0,1]", i, v)
		}
	}
}

func TestProjectorPreservesOrderingOfInputs(t *testing.T) {
	t.Parallel()
	p := sumToOne()
	pr := NewProjector(ProjectorConfig{MaxIterations: 200, Tolerance: 1e-6, BarrierWeight: 0.01, StallRounds: 5}, 50)

	mu, err := pr.Project([]float64{0.7, 0.2}, p)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if mu[0] <= mu[1] {
		t.Errorf("expected projected price for the dominant input to remain larger: mu=%v", mu)
	}
}
