package mpc

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/plant"
	"github.com/san-kum/recede/internal/qp"
)

// Plan is the optimal open-loop trajectory from one solve.
type Plan struct {
	States   []dynamo.State
	Controls []dynamo.Control
	// Cost is the full finite-horizon objective J*, including the stage
	// cost of x_0.
	Cost       float64
	Iterations int
}

// First returns u*_0.
func (p *Plan) First() dynamo.Control {
	return p.Controls[0].Clone()
}

// Program is a finite-horizon QP whose structure is fixed at construction.
// It is not safe for concurrent use.
type Program struct {
	n, m    int
	horizon int
	form    Formulation
	bounds  Bounds

	ad, bd   *mat.Dense
	q, r     *mat.SymDense
	terminal *mat.SymDense

	solver  qp.Solver
	problem *qp.Problem

	// Condensed: X = Φx0 + ΓU over x_0..x_N.
	phi   *mat.Dense
	gamma *mat.Dense
	// lin is 2ΓᵀQ̄Φ, so the linear term is lin·x0.
	lin *mat.Dense
	// offset is ΦᵀQ̄Φ, the cost that does not depend on U.
	offset *mat.SymDense
	// stateRows maps each state-bound row to its index in X; stateLo and
	// stateHi are the bounds before shifting by Φx0.
	stateRows        []int
	stateLo, stateHi []float64
}

// NewProgram builds the program for a discrete plant and stage weights.
// A nil terminal means no terminal cost; the stage model's own terminal
// weight is not consulted. A nil solver selects qp.NewActiveSet.
func NewProgram(disc *plant.Discrete, stage *cost.Model, terminal mat.Symmetric, cfg Config, solver qp.Solver) (*Program, error) {
	if cfg.Horizon <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidHorizon, cfg.Horizon)
	}
	n, m := disc.StateDim(), disc.ControlDim()
	if err := stage.Check(n, m); err != nil {
		return nil, err
	}
	if err := cfg.Bounds.check(n, m); err != nil {
		return nil, err
	}
	if solver == nil {
		solver = qp.NewActiveSet()
	}

	p := &Program{
		n:       n,
		m:       m,
		horizon: cfg.Horizon,
		form:    cfg.Formulation,
		bounds:  cfg.Bounds,
		ad:      mat.DenseCopyOf(disc.Ad()),
		bd:      mat.DenseCopyOf(disc.Bd()),
		q:       symCopy(stage.Q()),
		r:       symCopy(stage.R()),
		solver:  solver,
	}
	if terminal != nil {
		if terminal.SymmetricDim() != n {
			return nil, fmt.Errorf("mpc: terminal weight is %d square, plant has %d states: %w", terminal.SymmetricDim(), n, dynamo.ErrShapeMismatch)
		}
		p.terminal = symCopy(terminal)
	} else {
		p.terminal = mat.NewSymDense(n, nil)
	}

	var err error
	switch cfg.Formulation {
	case Condensed:
		err = p.buildCondensed()
	case Sparse:
		err = p.buildSparse()
	default:
		err = fmt.Errorf("mpc: unsupported formulation %v: %w", cfg.Formulation, dynamo.ErrParameterBounds)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Program) Horizon() int             { return p.horizon }
func (p *Program) StateDim() int            { return p.n }
func (p *Program) ControlDim() int          { return p.m }
func (p *Program) Formulation() Formulation { return p.form }

// Problem exposes the underlying QP. Its Hessian and constraint matrix are
// built once; Solve only rewrites the linear term and the bounds.
func (p *Program) Problem() *qp.Problem { return p.problem }

// Solve writes x_init into the program and solves it.
func (p *Program) Solve(ctx context.Context, xInit dynamo.State) (*Plan, error) {
	if len(xInit) != p.n {
		return nil, fmt.Errorf("mpc: initial state has %d entries, want %d: %w", len(xInit), p.n, dynamo.ErrShapeMismatch)
	}
	if !xInit.IsValid() {
		return nil, fmt.Errorf("mpc: %w", dynamo.ErrInvalidState)
	}

	switch p.form {
	case Condensed:
		p.parameterizeCondensed(xInit)
	case Sparse:
		p.parameterizeSparse(xInit)
	}

	sol, err := p.solver.Solve(ctx, p.problem)
	if err != nil {
		if !errors.Is(err, dynamo.ErrInfeasible) && !errors.Is(err, dynamo.ErrSolveFailure) {
			err = fmt.Errorf("%w: %w", dynamo.ErrSolveFailure, err)
		}
		return nil, fmt.Errorf("mpc: solve: %w", err)
	}

	var plan *Plan
	switch p.form {
	case Condensed:
		plan = p.planCondensed(xInit, sol)
	default:
		plan = p.planSparse(sol)
	}
	plan.Iterations = sol.Iterations
	return plan, nil
}

// Cost evaluates the finite-horizon objective of an input sequence from
// x_init by forward simulation.
func (p *Program) Cost(xInit dynamo.State, controls []dynamo.Control) float64 {
	x := mat.NewVecDense(p.n, xInit.Clone())
	total := 0.0
	for k := 0; k < p.horizon; k++ {
		u := mat.NewVecDense(p.m, controls[k].Clone())
		total += mat.Inner(x, p.q, x) + mat.Inner(u, p.r, u)

		var next, bu mat.VecDense
		next.MulVec(p.ad, x)
		bu.MulVec(p.bd, u)
		next.AddVec(&next, &bu)
		x = &next
	}
	return total + mat.Inner(x, p.terminal, x)
}

func symCopy(s mat.Symmetric) *mat.SymDense {
	out := mat.NewSymDense(s.SymmetricDim(), nil)
	out.CopySym(s)
	return out
}

// symmetrize returns (a + aᵀ)/2.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// repeat tiles v, or def when v is nil, times over.
func repeat(v []float64, times int, def float64, width int) []float64 {
	out := make([]float64, 0, times*width)
	for k := 0; k < times; k++ {
		for i := 0; i < width; i++ {
			out = append(out, bound(v, i, def))
		}
	}
	return out
}
