package qp

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

const (
	defaultMaxIter = 2000
	defaultTol     = 1e-9

	// feasTol bounds the constraint violation of a returned point,
	// relative to its magnitude.
	feasTol = 1e-6
	// depTol is the smallest squared share, in the G⁻¹ metric, of a normal
	// that must lie outside the active span for it to be added.
	depTol = 1e-14
)

// ActiveSet is a Goldfarb-Idnani dual active-set solver for strictly
// convex problems. It starts from the unconstrained minimizer and adds
// violated constraints one at a time, dropping constraints whose
// multipliers would turn negative.
//
// The Hessian inverse and the constraint Gram matrix are cached against the
// identity of Problem.Hessian and Problem.Constraints, so repeated solves
// that only change the linear term and the bounds skip all factorization.
// Callers must not modify a cached Hessian or constraint matrix in place;
// call Reset after doing so.
//
// An ActiveSet is not safe for concurrent use.
type ActiveSet struct {
	MaxIter int
	Tol     float64

	hess *mat.SymDense
	cons *mat.Dense

	// ginvN holds G⁻¹aᵀ for every base normal a: constraint rows first,
	// then unit vectors for the variable bounds.
	ginvN *mat.Dense
	// gram holds a G⁻¹ bᵀ for every pair of base normals.
	gram *mat.Dense
	ginv *mat.SymDense
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{MaxIter: defaultMaxIter, Tol: defaultTol}
}

// Reset drops the cached factorization.
func (s *ActiveSet) Reset() {
	s.hess, s.cons, s.ginvN, s.gram, s.ginv = nil, nil, nil, nil, nil
}

// constraint is sign·a_base·z ≥ rhs, or = rhs for equalities.
type constraint struct {
	base  int
	sign  float64
	rhs   float64
	equal bool
}

func (s *ActiveSet) prepare(p *Problem) error {
	if s.hess == p.Hessian && s.cons == p.Constraints && s.ginv != nil {
		return nil
	}

	var chol mat.Cholesky
	if !chol.Factorize(p.Hessian) {
		return fmt.Errorf("qp: Hessian not positive definite: %w", dynamo.ErrSolveFailure)
	}
	var ginv mat.SymDense
	if err := chol.InverseTo(&ginv); err != nil {
		return fmt.Errorf("qp: Hessian inverse: %v: %w", err, dynamo.ErrSolveFailure)
	}

	n, rows := p.Dim(), p.Rows()
	normals := mat.NewDense(rows+n, n, nil)
	if rows > 0 {
		normals.Slice(0, rows, 0, n).(*mat.Dense).Copy(p.Constraints)
	}
	for j := 0; j < n; j++ {
		normals.Set(rows+j, j, 1)
	}

	ginvN := mat.NewDense(n, rows+n, nil)
	ginvN.Mul(&ginv, normals.T())
	gram := mat.NewDense(rows+n, rows+n, nil)
	gram.Mul(normals, ginvN)

	s.hess, s.cons = p.Hessian, p.Constraints
	s.ginv, s.ginvN, s.gram = &ginv, ginvN, gram
	return nil
}

// Solve minimizes the problem. It returns dynamo.ErrInfeasible when no
// point satisfies the constraints and dynamo.ErrSolveFailure when the
// Hessian is not positive definite, the iteration limit is reached, or ctx
// ends first.
func (s *ActiveSet) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.prepare(p); err != nil {
		return nil, err
	}

	maxIter, tol := s.MaxIter, s.Tol
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	if tol <= 0 {
		tol = defaultTol
	}

	w := &workspace{s: s, p: p, n: p.Dim(), rows: p.Rows()}
	w.collect()

	// Unconstrained minimizer.
	w.x = make([]float64, w.n)
	for i := 0; i < w.n; i++ {
		for j := 0; j < w.n; j++ {
			w.x[i] -= s.ginv.At(i, j) * p.Linear[j]
		}
	}

	for _, ci := range w.equalities {
		if err := w.addEquality(ci, tol); err != nil {
			return nil, err
		}
	}

	iter := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("qp: %w: %w", dynamo.ErrSolveFailure, err)
		}

		pi := w.mostViolated(tol)
		if pi < 0 {
			break
		}

		done := false
		for !done {
			iter++
			if iter > maxIter {
				return nil, fmt.Errorf("qp: no convergence after %d iterations: %w", maxIter, dynamo.ErrSolveFailure)
			}
			var err error
			done, err = w.step(pi)
			if err != nil {
				return nil, err
			}
		}
	}

	x := w.x
	if v := p.Violation(x); v > feasTol*(1+maxAbs(x)) {
		return nil, fmt.Errorf("qp: final point breaks a constraint by %g: %w", v, dynamo.ErrInfeasible)
	}
	if len(w.active) > w.n {
		return nil, fmt.Errorf("qp: %d active constraints for %d variables: %w", len(w.active), w.n, dynamo.ErrSolveFailure)
	}
	for j := range x {
		x[j] = math.Max(p.varLower(j), math.Min(p.varUpper(j), x[j]))
	}
	return &Solution{
		X:          x,
		Objective:  p.Objective(x),
		Iterations: iter,
		Active:     len(w.active),
	}, nil
}

type workspace struct {
	s       *ActiveSet
	p       *Problem
	n, rows int

	cons        []constraint
	equalities  []int
	inequality  []int
	x           []float64
	active      []int
	mult        []float64
	isActive    []bool
	accumulated float64
}

func (w *workspace) collect() {
	add := func(base int, lo, hi float64) {
		switch {
		case lo == hi:
			w.equalities = append(w.equalities, len(w.cons))
			w.cons = append(w.cons, constraint{base: base, sign: 1, rhs: lo, equal: true})
		default:
			if !math.IsInf(hi, 1) {
				w.inequality = append(w.inequality, len(w.cons))
				w.cons = append(w.cons, constraint{base: base, sign: -1, rhs: -hi})
			}
			if !math.IsInf(lo, -1) {
				w.inequality = append(w.inequality, len(w.cons))
				w.cons = append(w.cons, constraint{base: base, sign: 1, rhs: lo})
			}
		}
	}
	for i := 0; i < w.rows; i++ {
		add(i, w.p.Lower[i], w.p.Upper[i])
	}
	for j := 0; j < w.n; j++ {
		add(w.rows+j, w.p.varLower(j), w.p.varUpper(j))
	}
	w.isActive = make([]bool, len(w.cons))
}

// dot returns sign·a·v for constraint c.
func (w *workspace) dot(c constraint, v []float64) float64 {
	if c.base >= w.rows {
		return c.sign * v[c.base-w.rows]
	}
	sum := 0.0
	for j := 0; j < w.n; j++ {
		sum += w.p.Constraints.At(c.base, j) * v[j]
	}
	return c.sign * sum
}

func (w *workspace) slack(c constraint) float64 {
	return w.dot(c, w.x) - c.rhs
}

func (w *workspace) gram(a, b constraint) float64 {
	return a.sign * b.sign * w.s.gram.At(a.base, b.base)
}

// directions returns the primal step z and the dual step r for adding
// constraint c to the current active set.
func (w *workspace) directions(c constraint) ([]float64, []float64, error) {
	z := make([]float64, w.n)
	for i := 0; i < w.n; i++ {
		z[i] = c.sign * w.s.ginvN.At(i, c.base)
	}

	k := len(w.active)
	if k == 0 {
		return z, nil, nil
	}

	m := mat.NewDense(k, k, nil)
	rhs := mat.NewVecDense(k, nil)
	for i, ai := range w.active {
		ci := w.cons[ai]
		for j, aj := range w.active {
			m.Set(i, j, w.gram(ci, w.cons[aj]))
		}
		rhs.SetVec(i, w.gram(ci, c))
	}

	// Added normals are kept independent, so an ill-conditioned Gram
	// matrix means the active set has degenerated numerically.
	var r mat.VecDense
	if err := r.SolveVec(m, rhs); err != nil {
		return nil, nil, fmt.Errorf("qp: active constraints are dependent (%v): %w", err, dynamo.ErrSolveFailure)
	}

	out := make([]float64, k)
	for j, aj := range w.active {
		rj := r.AtVec(j)
		out[j] = rj
		cj := w.cons[aj]
		for i := 0; i < w.n; i++ {
			z[i] -= rj * cj.sign * w.s.ginvN.At(i, cj.base)
		}
	}
	return z, out, nil
}

// dependent reports whether the projected step z vanished, meaning c lies
// in the span of the active normals. A full active set spans every normal.
func (w *workspace) dependent(c constraint, z []float64) bool {
	if len(w.active) >= w.n {
		return true
	}
	raw := 0.0
	for i := 0; i < w.n; i++ {
		raw = math.Max(raw, math.Abs(w.s.ginvN.At(i, c.base)))
	}
	if maxAbs(z) <= 1e-9*raw {
		return true
	}
	return w.dot(c, z) <= depTol*w.gram(c, c)
}

func (w *workspace) addEquality(ci int, tol float64) error {
	c := w.cons[ci]
	z, r, err := w.directions(c)
	if err != nil {
		return err
	}
	s := w.slack(c)
	if w.dependent(c, z) {
		// Linearly dependent on the equalities already added.
		if math.Abs(s) > tol*(1+math.Abs(c.rhs)) {
			return fmt.Errorf("qp: inconsistent equality constraints: %w", dynamo.ErrInfeasible)
		}
		return nil
	}

	t := -s / w.dot(c, z)
	for i := range w.x {
		w.x[i] += t * z[i]
	}
	for j := range w.mult {
		w.mult[j] -= t * r[j]
	}
	w.push(ci, t)
	return nil
}

func (w *workspace) mostViolated(tol float64) int {
	threshold := -tol * (1 + maxAbs(w.x))
	worst, idx := threshold, -1
	for _, ci := range w.inequality {
		if w.isActive[ci] {
			continue
		}
		if s := w.slack(w.cons[ci]); s < worst {
			worst, idx = s, ci
		}
	}
	if idx >= 0 {
		w.accumulated = 0
	}
	return idx
}

// step performs one primal-dual update toward satisfying constraint pi and
// reports whether pi was added or became satisfied.
func (w *workspace) step(pi int) (bool, error) {
	c := w.cons[pi]
	z, r, err := w.directions(c)
	if err != nil {
		return false, err
	}

	s := w.slack(c)
	if s >= -1e-14 {
		return true, nil
	}

	// Largest dual step that keeps inequality multipliers nonnegative.
	partial, block := math.Inf(1), -1
	for j, aj := range w.active {
		if w.cons[aj].equal || r[j] <= 0 {
			continue
		}
		if v := w.mult[j] / r[j]; v < partial {
			partial, block = v, j
		}
	}

	zn := w.dot(c, z)
	if w.dependent(c, z) || zn <= 1e-300 {
		if block < 0 {
			return false, fmt.Errorf("qp: constraint %d cannot be satisfied: %w", pi, dynamo.ErrInfeasible)
		}
		for j := range w.mult {
			w.mult[j] -= partial * r[j]
		}
		w.accumulated += partial
		w.drop(block)
		return false, nil
	}

	full := -s / zn
	t := math.Min(partial, full)
	for i := range w.x {
		w.x[i] += t * z[i]
	}
	for j := range w.mult {
		w.mult[j] -= t * r[j]
	}
	w.accumulated += t

	if full <= partial {
		w.push(pi, w.accumulated)
		return true, nil
	}
	w.drop(block)
	return false, nil
}

func (w *workspace) push(ci int, mult float64) {
	w.active = append(w.active, ci)
	w.mult = append(w.mult, mult)
	w.isActive[ci] = true
}

func (w *workspace) drop(j int) {
	w.isActive[w.active[j]] = false
	w.active = append(w.active[:j], w.active[j+1:]...)
	w.mult = append(w.mult[:j], w.mult[j+1:]...)
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
