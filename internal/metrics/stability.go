package metrics

import (
	"math"

	"github.com/san-kum/recede/internal/dynamo"
)

// Stability is the fraction of observed states whose components all stay
// within threshold. It also remembers when the state first left.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
	firstExit  float64
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
		firstExit: math.NaN(),
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	if x.MaxAbs() <= s.threshold {
		return
	}
	if s.violations == 0 {
		s.firstExit = t
	}
	s.violations++
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

// FirstExit returns the time of the first violation, NaN if none.
func (s *Stability) FirstExit() float64 { return s.firstExit }

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
	s.firstExit = math.NaN()
}
