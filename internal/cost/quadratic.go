// Package cost holds the quadratic weights of the regulation problem.
//
// A Model prices a state/control pair at xᵀQx + uᵀRu and a terminal state
// at xᵀPx. R must be positive definite; Q and P positive semi-definite.
package cost

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

var ErrNotPositiveDefinite = fmt.Errorf("cost: weight matrix not positive (semi-)definite: %w", dynamo.ErrParameterBounds)

// psdTol is the smallest eigenvalue, relative to the largest, accepted as
// zero when checking semi-definiteness.
const psdTol = 1e-12

type Model struct {
	q, r *mat.SymDense
	p    *mat.SymDense
}

func New(q, r mat.Symmetric) (*Model, error) {
	if q.SymmetricDim() == 0 || r.SymmetricDim() == 0 {
		return nil, fmt.Errorf("cost: empty weight: %w", dynamo.ErrShapeMismatch)
	}
	if !IsPositiveDefinite(r) {
		return nil, fmt.Errorf("cost: R: %w", ErrNotPositiveDefinite)
	}
	if !IsPositiveSemidefinite(q) {
		return nil, fmt.Errorf("cost: Q: %w", ErrNotPositiveDefinite)
	}
	return &Model{q: copySym(q), r: copySym(r)}, nil
}

// WithTerminal returns a copy of the model with terminal weight P.
func (c *Model) WithTerminal(p mat.Symmetric) (*Model, error) {
	if p.SymmetricDim() != c.StateDim() {
		return nil, fmt.Errorf("cost: P is %d square, Q is %d: %w", p.SymmetricDim(), c.StateDim(), dynamo.ErrShapeMismatch)
	}
	if !IsPositiveSemidefinite(p) {
		return nil, fmt.Errorf("cost: P: %w", ErrNotPositiveDefinite)
	}
	return &Model{q: c.q, r: c.r, p: copySym(p)}, nil
}

func (c *Model) StateDim() int   { return c.q.SymmetricDim() }
func (c *Model) ControlDim() int { return c.r.SymmetricDim() }

func (c *Model) Q() mat.Symmetric { return c.q }
func (c *Model) R() mat.Symmetric { return c.r }

// Terminal returns P, or nil when the model has no terminal weight.
func (c *Model) Terminal() mat.Symmetric {
	if c.p == nil {
		return nil
	}
	return c.p
}

// Check verifies the weights fit a plant with n states and m inputs.
func (c *Model) Check(n, m int) error {
	if c.StateDim() != n || c.ControlDim() != m {
		return fmt.Errorf("cost: weights are %dx%d, plant is %dx%d: %w", c.StateDim(), c.ControlDim(), n, m, dynamo.ErrShapeMismatch)
	}
	return nil
}

// StageCost returns xᵀQx + uᵀRu. x and u must have StateDim and
// ControlDim entries; use StageCostChecked for untrusted input.
func (c *Model) StageCost(x dynamo.State, u dynamo.Control) float64 {
	return quad(c.q, x) + quad(c.r, u)
}

// StageCostChecked is StageCost with dimension validation.
func (c *Model) StageCostChecked(x dynamo.State, u dynamo.Control) (float64, error) {
	if err := c.checkState(x); err != nil {
		return 0, err
	}
	if len(u) != c.ControlDim() {
		return 0, fmt.Errorf("cost: control has %d entries, want %d: %w", len(u), c.ControlDim(), dynamo.ErrShapeMismatch)
	}
	return c.StageCost(x, u), nil
}

// TerminalCost returns xᵀPx, zero without a terminal weight. x must have
// StateDim entries.
func (c *Model) TerminalCost(x dynamo.State) float64 {
	if c.p == nil {
		return 0
	}
	return quad(c.p, x)
}

// TerminalCostChecked is TerminalCost with dimension validation.
func (c *Model) TerminalCostChecked(x dynamo.State) (float64, error) {
	if err := c.checkState(x); err != nil {
		return 0, err
	}
	return c.TerminalCost(x), nil
}

func (c *Model) checkState(x dynamo.State) error {
	if len(x) != c.StateDim() {
		return fmt.Errorf("cost: state has %d entries, want %d: %w", len(x), c.StateDim(), dynamo.ErrShapeMismatch)
	}
	return nil
}

// Scaled returns Q*dt and R*dt, the stage weights of a discretized cost
// integral. The terminal weight is kept as is.
func (c *Model) Scaled(dt float64) *Model {
	q := mat.NewSymDense(c.StateDim(), nil)
	q.ScaleSym(dt, c.q)
	r := mat.NewSymDense(c.ControlDim(), nil)
	r.ScaleSym(dt, c.r)
	return &Model{q: q, r: r, p: c.p}
}

// Diagonal builds a diagonal weight.
func Diagonal(d ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(d), nil)
	for i, v := range d {
		s.SetSym(i, i, v)
	}
	return s
}

// FromDense converts a square matrix to a symmetric one, rejecting
// asymmetric input.
func FromDense(a mat.Matrix) (*mat.SymDense, error) {
	r, cols := a.Dims()
	if r != cols {
		return nil, fmt.Errorf("cost: weight is %dx%d, want square: %w", r, cols, dynamo.ErrShapeMismatch)
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			aij, aji := a.At(i, j), a.At(j, i)
			if math.Abs(aij-aji) > 1e-12*math.Max(1, math.Abs(aij)) {
				return nil, fmt.Errorf("cost: weight not symmetric at (%d,%d): %w", i, j, dynamo.ErrParameterBounds)
			}
			s.SetSym(i, j, aij)
		}
	}
	return s, nil
}

func IsPositiveDefinite(s mat.Symmetric) bool {
	var chol mat.Cholesky
	return chol.Factorize(s)
}

func IsPositiveSemidefinite(s mat.Symmetric) bool {
	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		return false
	}
	vals := eig.Values(nil)
	scale := 0.0
	for _, v := range vals {
		scale = math.Max(scale, math.Abs(v))
	}
	return vals[0] >= -psdTol*math.Max(scale, 1)
}

func quad(s mat.Symmetric, v []float64) float64 {
	n := s.SymmetricDim()
	sum := 0.0
	for i := 0; i < n; i++ {
		row := 0.0
		for j := 0; j < n; j++ {
			row += s.At(i, j) * v[j]
		}
		sum += v[i] * row
	}
	return sum
}

func copySym(s mat.Symmetric) *mat.SymDense {
	n := s.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(s)
	return out
}
