package mpc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/qp"
)

// buildSparse lays out z = [x_0 ... x_N u_0 ... u_{N-1}] with
//
//	H = 2·blkdiag(Q, ..., Q, P, R, ..., R)
//
// and the dynamics as equality rows. The first n rows pin x_0 and are the
// only part of the program that changes between solves.
func (p *Program) buildSparse() error {
	if !cost.IsPositiveDefinite(p.q) {
		return fmt.Errorf("mpc: sparse formulation needs positive-definite Q: %w", cost.ErrNotPositiveDefinite)
	}
	if !cost.IsPositiveDefinite(p.terminal) {
		return fmt.Errorf("mpc: sparse formulation needs positive-definite P: %w", cost.ErrNotPositiveDefinite)
	}

	n, m, N := p.n, p.m, p.horizon
	nx := (N + 1) * n
	dim := nx + N*m

	hess := mat.NewSymDense(dim, nil)
	place := func(off int, w mat.Symmetric) {
		d := w.SymmetricDim()
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				hess.SetSym(off+i, off+j, 2*w.At(i, j))
			}
		}
	}
	for k := 0; k < N; k++ {
		place(k*n, p.q)
		place(nx+k*m, p.r)
	}
	place(N*n, p.terminal)

	rows := nx
	cons := mat.NewDense(rows, dim, nil)
	for i := 0; i < n; i++ {
		cons.Set(i, i, 1)
	}
	for k := 0; k < N; k++ {
		r0 := (k + 1) * n
		for i := 0; i < n; i++ {
			cons.Set(r0+i, (k+1)*n+i, 1)
			for j := 0; j < n; j++ {
				cons.Set(r0+i, k*n+j, -p.ad.At(i, j))
			}
			for j := 0; j < m; j++ {
				cons.Set(r0+i, nx+k*m+j, -p.bd.At(i, j))
			}
		}
	}

	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < n; i++ {
		lower[i], upper[i] = math.Inf(-1), math.Inf(1)
	}
	copy(lower[n:nx], repeat(p.bounds.XMin, N, math.Inf(-1), n))
	copy(upper[n:nx], repeat(p.bounds.XMax, N, math.Inf(1), n))
	copy(lower[nx:], repeat(p.bounds.UMin, N, math.Inf(-1), m))
	copy(upper[nx:], repeat(p.bounds.UMax, N, math.Inf(1), m))

	p.problem = &qp.Problem{
		Hessian:     hess,
		Linear:      make([]float64, dim),
		Constraints: cons,
		Lower:       make([]float64, rows),
		Upper:       make([]float64, rows),
		VarLower:    lower,
		VarUpper:    upper,
	}
	return nil
}

func (p *Program) parameterizeSparse(x0 dynamo.State) {
	copy(p.problem.Lower[:p.n], x0)
	copy(p.problem.Upper[:p.n], x0)
}

func (p *Program) planSparse(sol *qp.Solution) *Plan {
	n, m, N := p.n, p.m, p.horizon
	nx := (N + 1) * n

	plan := &Plan{
		States:   make([]dynamo.State, N+1),
		Controls: make([]dynamo.Control, N),
		Cost:     sol.Objective,
	}
	for k := 0; k <= N; k++ {
		plan.States[k] = dynamo.State(append([]float64(nil), sol.X[k*n:(k+1)*n]...))
	}
	for k := 0; k < N; k++ {
		plan.Controls[k] = dynamo.Control(append([]float64(nil), sol.X[nx+k*m:nx+(k+1)*m]...))
	}
	return plan
}
