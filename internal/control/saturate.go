package control

import (
	"context"
	"math"

	"github.com/san-kum/recede/internal/dynamo"
)

// Saturate clamps every input of the wrapped controller to [Min, Max].
type Saturate struct {
	Inner    dynamo.Controller
	Min, Max float64
}

func NewSaturate(inner dynamo.Controller, limit float64) *Saturate {
	return &Saturate{Inner: inner, Min: -limit, Max: limit}
}

func (s *Saturate) Compute(ctx context.Context, x dynamo.State, t float64) (dynamo.Control, error) {
	u, err := s.Inner.Compute(ctx, x, t)
	for i := range u {
		u[i] = math.Max(s.Min, math.Min(s.Max, u[i]))
	}
	return u, err
}

// Reset rewinds the wrapped controller when it keeps state.
func (s *Saturate) Reset() {
	if r, ok := s.Inner.(dynamo.Resetter); ok {
		r.Reset()
	}
}
