package polytope

import "math"

const clipEpsilon = 1e-12

// ProjectorConfig tunes the Barrier Frank-Wolfe projection.
type ProjectorConfig struct {
	MaxIterations int
	Tolerance     float64
	BarrierWeight float64
	StallRounds   int
}

// Projector projects raw cross-venue price vectors onto the nearest
// arbitrage-free point of a Polytope.
type Projector struct {
	cfg   ProjectorConfig
	cache *Cache
}

// NewProjector builds a Projector backed by a bounded LRU cache of LMO
// results, shared across calls for the same constraint structure.
func NewProjector(cfg ProjectorConfig, cacheSize int) *Projector {
	return &Projector{cfg: cfg, cache: NewCache(cacheSize)}
}

// Project finds the arbitrage-free price vector closest to theta (in KL
// divergence) subject to p's constraints, via Barrier Frank-Wolfe with an
// epsilon-contracted polytope to avoid the gradient blowup of the log
// barrier near 0 and 1.
func (pr *Projector) Project(theta []float64, p *Polytope) ([]float64, error) {
	n := len(theta)
	u := uniform(n)

	z0, err := p.FindDescentVertex(make([]float64, n), pr.cache)
	if err != nil {
		return nil, err
	}

	epsilon := 0.1
	mu := combine(z0, u, 1-epsilon, epsilon)

	prevGap := math.Inf(1)
	stall := 0

	for t := 0; t < pr.cfg.MaxIterations; t++ {
		gradient := pr.gradient(mu, theta)

		s, err := p.FindDescentVertex(gradient, pr.cache)
		if err != nil {
			return nil, err
		}
		sBar := combine(s, u, 1-epsilon, epsilon)

		gap := dotDiff(gradient, mu, sBar)
		if gap <= pr.cfg.Tolerance {
			break
		}

		if math.Abs(prevGap-gap) < pr.cfg.Tolerance*0.1 {
			stall++
			if stall > pr.cfg.StallRounds {
				break
			}
		} else {
			stall = 0
		}
		prevGap = gap

		if gap < 10*epsilon {
			epsilon = math.Max(1e-6, epsilon*0.9)
		}

		gamma := 2.0 / float64(t+2)
		mu = step(mu, sBar, gamma)
		clip(mu)
	}

	return mu, nil
}

// gradient is the KL-divergence gradient plus a weighted log-barrier term
// that keeps mu away from the [0,1] boundary.
func (pr *Projector) gradient(mu, theta []float64) []float64 {
	grad := make([]float64, len(mu))
	for i := range mu {
		muSafe := clamp(mu[i], clipEpsilon, 1-clipEpsilon)
		thetaSafe := clamp(theta[i], clipEpsilon, 1)

		kl := math.Log(muSafe) - math.Log(thetaSafe)
		barrier := -1/muSafe + 1/(1-muSafe)
		grad[i] = kl + pr.cfg.BarrierWeight*barrier
	}
	return grad
}

func uniform(n int) []float64 {
	u := make([]float64, n)
	for i := range u {
		u[i] = 1.0 / float64(n)
	}
	return u
}

// combine returns wa*a + wb*b element-wise.
func combine(a, b []float64, wa, wb float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = wa*a[i] + wb*b[i]
	}
	return out
}

// step returns (1-gamma)*mu + gamma*sBar.
func step(mu, sBar []float64, gamma float64) []float64 {
	return combine(mu, sBar, 1-gamma, gamma)
}

// dotDiff computes <gradient, mu - sBar>.
func dotDiff(gradient, mu, sBar []float64) float64 {
	var sum float64
	for i := range gradient {
		sum += gradient[i] * (mu[i] - sBar[i])
	}
	return sum
}

func clip(v []float64) {
	for i := range v {
		v[i] = clamp(v[i], clipEpsilon, 1-clipEpsilon)
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
