package control

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

type LQR struct {
	K      *mat.Dense
	Target dynamo.State
}

// NewLQR copies K. A nil target regulates to the origin.
func NewLQR(k mat.Matrix, target dynamo.State) *LQR {
	return &LQR{K: mat.DenseCopyOf(k), Target: target}
}

// Compute returns u = −K(x − target). A state or target whose length does
// not match the columns of K is rejected.
func (l *LQR) Compute(ctx context.Context, x dynamo.State, t float64) (dynamo.Control, error) {
	m, n := l.K.Dims()
	if len(x) != n {
		return nil, fmt.Errorf("control: state has %d entries, gain expects %d: %w", len(x), n, dynamo.ErrShapeMismatch)
	}
	if l.Target != nil && len(l.Target) != n {
		return nil, fmt.Errorf("control: target has %d entries, gain expects %d: %w", len(l.Target), n, dynamo.ErrShapeMismatch)
	}
	u := make(dynamo.Control, m)
	for i := range u {
		for j := 0; j < n; j++ {
			target := 0.0
			if l.Target != nil {
				target = l.Target[j]
			}
			u[i] -= l.K.At(i, j) * (x[j] - target)
		}
	}
	return u, nil
}
