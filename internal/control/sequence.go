package control

import (
	"context"

	"github.com/san-kum/recede/internal/dynamo"
)

// Sequence replays a fixed input sequence, one entry per call, and applies
// zero input once it is exhausted.
type Sequence struct {
	inputs []dynamo.Control
	dim    int
	next   int
}

func NewSequence(dim int, inputs []dynamo.Control) *Sequence {
	cp := make([]dynamo.Control, len(inputs))
	for i, u := range inputs {
		cp[i] = u.Clone()
	}
	return &Sequence{inputs: cp, dim: dim}
}

func (s *Sequence) Compute(ctx context.Context, x dynamo.State, t float64) (dynamo.Control, error) {
	if s.next >= len(s.inputs) {
		return make(dynamo.Control, s.dim), nil
	}
	u := s.inputs[s.next].Clone()
	s.next++
	return u, nil
}

// Reset rewinds the sequence.
func (s *Sequence) Reset() { s.next = 0 }
