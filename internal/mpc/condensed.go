package mpc

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/qp"
)

// buildCondensed eliminates the states. With X = [x_0; ...; x_N] = Φx0 + ΓU
// and Q̄ = blkdiag(Q, ..., Q, P):
//
//	J = ½UᵀHU + (Fx0)ᵀU + x0ᵀΦᵀQ̄Φx0
//	H = 2(ΓᵀQ̄Γ + R̄),  F = 2ΓᵀQ̄Φ
func (p *Program) buildCondensed() error {
	n, m, N := p.n, p.m, p.horizon
	rowsX, cols := (N+1)*n, N*m

	p.phi = mat.NewDense(rowsX, n, nil)
	pow := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		pow.Set(i, i, 1)
	}
	// ab[i] = Ad^i Bd
	ab := make([]*mat.Dense, N)
	for k := 0; k <= N; k++ {
		p.phi.Slice(k*n, (k+1)*n, 0, n).(*mat.Dense).Copy(pow)
		if k < N {
			ab[k] = mat.NewDense(n, m, nil)
			ab[k].Mul(pow, p.bd)
		}
		var next mat.Dense
		next.Mul(p.ad, pow)
		pow = &next
	}

	p.gamma = mat.NewDense(rowsX, cols, nil)
	for k := 1; k <= N; k++ {
		for j := 0; j < k; j++ {
			p.gamma.Slice(k*n, (k+1)*n, j*m, (j+1)*m).(*mat.Dense).Copy(ab[k-1-j])
		}
	}

	qbar := mat.NewDense(rowsX, rowsX, nil)
	for k := 0; k <= N; k++ {
		var w mat.Symmetric = p.q
		if k == N {
			w = p.terminal
		}
		qbar.Slice(k*n, (k+1)*n, k*n, (k+1)*n).(*mat.Dense).Copy(w)
	}

	var qgam, qphi mat.Dense
	qgam.Mul(qbar, p.gamma)
	qphi.Mul(qbar, p.phi)

	var hess mat.Dense
	hess.Mul(p.gamma.T(), &qgam)
	for k := 0; k < N; k++ {
		blk := hess.Slice(k*m, (k+1)*m, k*m, (k+1)*m).(*mat.Dense)
		blk.Add(blk, p.r)
	}
	hess.Scale(2, &hess)

	p.lin = mat.NewDense(cols, n, nil)
	p.lin.Mul(p.gamma.T(), &qphi)
	p.lin.Scale(2, p.lin)

	var off mat.Dense
	off.Mul(p.phi.T(), &qphi)
	p.offset = symmetrize(&off)

	p.problem = &qp.Problem{
		Hessian:  symmetrize(&hess),
		Linear:   make([]float64, cols),
		VarLower: repeat(p.bounds.UMin, N, math.Inf(-1), m),
		VarUpper: repeat(p.bounds.UMax, N, math.Inf(1), m),
	}
	p.buildStateRows()
	return nil
}

// buildStateRows turns state bounds on x_1..x_N into rows of Γ. x_0 is
// fixed, so bounds on it are not constraints of the program.
func (p *Program) buildStateRows() {
	p.problem.Lower, p.problem.Upper = []float64{}, []float64{}
	if !p.bounds.hasState() {
		return
	}
	n, N := p.n, p.horizon
	for k := 1; k <= N; k++ {
		for i := 0; i < n; i++ {
			lo := bound(p.bounds.XMin, i, math.Inf(-1))
			hi := bound(p.bounds.XMax, i, math.Inf(1))
			if math.IsInf(lo, -1) && math.IsInf(hi, 1) {
				continue
			}
			p.stateRows = append(p.stateRows, k*n+i)
			p.stateLo = append(p.stateLo, lo)
			p.stateHi = append(p.stateHi, hi)
		}
	}

	_, cols := p.gamma.Dims()
	cons := mat.NewDense(len(p.stateRows), cols, nil)
	for r, idx := range p.stateRows {
		cons.SetRow(r, mat.Row(nil, idx, p.gamma))
	}
	p.problem.Constraints = cons
	p.problem.Lower = make([]float64, len(p.stateRows))
	p.problem.Upper = make([]float64, len(p.stateRows))
}

func (p *Program) parameterizeCondensed(x0 dynamo.State) {
	xv := mat.NewVecDense(p.n, x0.Clone())

	q := mat.NewVecDense(len(p.problem.Linear), p.problem.Linear)
	q.MulVec(p.lin, xv)

	if len(p.stateRows) == 0 {
		return
	}
	var free mat.VecDense
	free.MulVec(p.phi, xv)
	for r, idx := range p.stateRows {
		shift := free.AtVec(idx)
		p.problem.Lower[r] = p.stateLo[r] - shift
		p.problem.Upper[r] = p.stateHi[r] - shift
	}
}

func (p *Program) planCondensed(x0 dynamo.State, sol *qp.Solution) *Plan {
	n, m, N := p.n, p.m, p.horizon
	uv := mat.NewVecDense(N*m, append([]float64(nil), sol.X...))
	xv := mat.NewVecDense(n, x0.Clone())

	var traj, forced mat.VecDense
	traj.MulVec(p.phi, xv)
	forced.MulVec(p.gamma, uv)
	traj.AddVec(&traj, &forced)

	plan := &Plan{
		States:   make([]dynamo.State, N+1),
		Controls: make([]dynamo.Control, N),
		Cost:     sol.Objective + mat.Inner(xv, p.offset, xv),
	}
	for k := 0; k <= N; k++ {
		s := make(dynamo.State, n)
		for i := range s {
			s[i] = traj.AtVec(k*n + i)
		}
		plan.States[k] = s
	}
	for k := 0; k < N; k++ {
		plan.Controls[k] = dynamo.Control(append([]float64(nil), sol.X[k*m:(k+1)*m]...))
	}
	return plan
}
