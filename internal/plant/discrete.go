package plant

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

// Method selects how a continuous plant is discretized.
type Method int

const (
	// Euler uses Ad = I + A*dt, Bd = B*dt.
	Euler Method = iota
	// ZOH holds the input constant over the step: exp([[A, B], [0, 0]]*dt).
	ZOH
)

func (m Method) String() string {
	switch m {
	case Euler:
		return "euler"
	case ZOH:
		return "zoh"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod accepts "euler" or "zoh", case-insensitively. Empty means Euler.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "", "euler":
		return Euler, nil
	case "zoh":
		return ZOH, nil
	default:
		return 0, fmt.Errorf("plant: unknown discretization %q: %w", s, dynamo.ErrParameterBounds)
	}
}

// Discrete is the plant x[k+1] = Ad x[k] + Bd u[k] for a fixed step.
type Discrete struct {
	ad     *mat.Dense
	bd     *mat.Dense
	dt     float64
	method Method
}

// Discretize builds the discrete pair for step dt.
func (l *Linear) Discretize(dt float64, method Method) (*Discrete, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("plant: dt must be positive, got %g: %w", dt, dynamo.ErrParameterBounds)
	}

	d := &Discrete{dt: dt, method: method}
	switch method {
	case Euler:
		d.ad = mat.NewDense(l.n, l.n, nil)
		d.ad.Scale(dt, l.a)
		for i := 0; i < l.n; i++ {
			d.ad.Set(i, i, d.ad.At(i, i)+1)
		}
		d.bd = mat.NewDense(l.n, l.m, nil)
		d.bd.Scale(dt, l.b)
	case ZOH:
		size := l.n + l.m
		aug := mat.NewDense(size, size, nil)
		aug.Slice(0, l.n, 0, l.n).(*mat.Dense).Scale(dt, l.a)
		aug.Slice(0, l.n, l.n, size).(*mat.Dense).Scale(dt, l.b)

		var e mat.Dense
		e.Exp(aug)
		d.ad = mat.DenseCopyOf(e.Slice(0, l.n, 0, l.n))
		d.bd = mat.DenseCopyOf(e.Slice(0, l.n, l.n, size))
	default:
		return nil, fmt.Errorf("plant: unsupported discretization %v: %w", method, dynamo.ErrParameterBounds)
	}
	return d, nil
}

// NewDiscrete wraps an already discrete pair.
func NewDiscrete(ad, bd mat.Matrix, dt float64) (*Discrete, error) {
	lin, err := New(ad, bd)
	if err != nil {
		return nil, err
	}
	if dt <= 0 {
		return nil, fmt.Errorf("plant: dt must be positive, got %g: %w", dt, dynamo.ErrParameterBounds)
	}
	return &Discrete{ad: lin.a, bd: lin.b, dt: dt, method: Euler}, nil
}

func (d *Discrete) Ad() mat.Matrix { return d.ad }
func (d *Discrete) Bd() mat.Matrix { return d.bd }
func (d *Discrete) Dt() float64    { return d.dt }
func (d *Discrete) Method() Method { return d.method }

func (d *Discrete) StateDim() int {
	r, _ := d.ad.Dims()
	return r
}

func (d *Discrete) ControlDim() int {
	_, c := d.bd.Dims()
	return c
}

// Next returns Ad x + Bd u.
func (d *Discrete) Next(x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	n, m := d.StateDim(), d.ControlDim()
	if len(x) != n || len(u) != m {
		return nil, fmt.Errorf("plant: got state %d and control %d, want %d and %d: %w", len(x), len(u), n, m, dynamo.ErrShapeMismatch)
	}

	var next mat.VecDense
	next.MulVec(d.ad, mat.NewVecDense(n, x.Clone()))
	var bu mat.VecDense
	bu.MulVec(d.bd, mat.NewVecDense(m, u.Clone()))
	next.AddVec(&next, &bu)

	out := make(dynamo.State, n)
	for i := range out {
		out[i] = next.AtVec(i)
	}
	return out, nil
}
