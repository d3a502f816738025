package generator

import (
	"math/rand"
	"sync"
)

// NoiseSource perturbs generated values. Implementations are chosen once at
// construction so generation code never branches on a mode flag.
type NoiseSource interface {
	// Factor returns a multiplier in [1-spread, 1+spread].
	Factor(spread float64) float64
	// Within returns a value in [lo, hi].
	Within(lo, hi float64) float64
}

// DeterministicNoise produces reproducible output: Factor is always 1 and
// Within always returns the low end of the band.
type DeterministicNoise struct{}

func (DeterministicNoise) Factor(float64) float64 { return 1.0 }

func (DeterministicNoise) Within(lo, _ float64) float64 { return lo }

// StochasticNoise samples uniformly. Safe for concurrent use; publishes from
// the scheduler and from manual triggers may overlap.
type StochasticNoise struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewStochasticNoise creates a noise source seeded from the given value.
func NewStochasticNoise(seed int64) *StochasticNoise {
	return &StochasticNoise{rng: rand.New(rand.NewSource(seed))}
}

func (n *StochasticNoise) Factor(spread float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return 1.0 + (n.rng.Float64()*2.0-1.0)*spread
}

func (n *StochasticNoise) Within(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return lo + n.rng.Float64()*(hi-lo)
}
