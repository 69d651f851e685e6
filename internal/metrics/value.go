package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

// ValueFunction watches V(x) = xᵀPx along a trajectory and counts the steps
// on which it failed to decrease. Zero means V was strictly decreasing, the
// discrete Lyapunov condition for the closed loop.
type ValueFunction struct {
	name      string
	p         *mat.SymDense
	last      float64
	first     float64
	increases int
	worst     float64
	samples   int
}

func NewValueFunction(p mat.Symmetric) *ValueFunction {
	v := &ValueFunction{name: "value_increases", p: mat.NewSymDense(p.SymmetricDim(), nil)}
	v.p.CopySym(p)
	return v
}

func (v *ValueFunction) Name() string { return v.name }

func (v *ValueFunction) Observe(x dynamo.State, u dynamo.Control, t float64) {
	xv := mat.NewVecDense(len(x), x.Clone())
	val := mat.Inner(xv, v.p, xv)
	if v.samples == 0 {
		v.first = val
	} else if val >= v.last {
		v.increases++
		v.worst = math.Max(v.worst, val-v.last)
	}
	v.last = val
	v.samples++
}

func (v *ValueFunction) Value() float64 { return float64(v.increases) }

// Monotone reports whether V decreased on every observed step.
func (v *ValueFunction) Monotone() bool { return v.increases == 0 }

// Ratio is V at the last observation over V at the first.
func (v *ValueFunction) Ratio() float64 {
	if v.first == 0 {
		return 0
	}
	return v.last / v.first
}

// WorstIncrease is the largest single-step rise of V.
func (v *ValueFunction) WorstIncrease() float64 { return v.worst }

func (v *ValueFunction) Reset() {
	v.last, v.first, v.worst = 0, 0, 0
	v.increases, v.samples = 0, 0
}
