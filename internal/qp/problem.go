// Package qp defines convex quadratic programs and solves them.
//
// A [Problem] is
//
//	minimize   ½ zᵀHz + qᵀz
//	subject to Lower ≤ Cz ≤ Upper
//	           VarLower ≤ z ≤ VarUpper
//
// Rows with Lower[i] == Upper[i] are equalities. Infinite bounds are
// ignored. [ActiveSet] is the default [Solver].
package qp

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

type Problem struct {
	Hessian *mat.SymDense
	Linear  []float64

	// Constraints may be nil when only variable bounds are present.
	Constraints *mat.Dense
	Lower       []float64
	Upper       []float64

	// VarLower and VarUpper may be nil for unbounded variables.
	VarLower []float64
	VarUpper []float64
}

type Solution struct {
	X          []float64
	Objective  float64
	Iterations int
	// Active is the number of constraints active at the solution,
	// equalities included.
	Active int
}

// Solver is the backend the MPC program calls once per tick. Any convex QP
// method that honors ctx and reports ErrInfeasible can stand in.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}

// Dim returns the number of decision variables.
func (p *Problem) Dim() int {
	if p.Hessian == nil {
		return 0
	}
	return p.Hessian.SymmetricDim()
}

// Rows returns the number of general constraint rows.
func (p *Problem) Rows() int {
	if p.Constraints == nil {
		return 0
	}
	r, _ := p.Constraints.Dims()
	return r
}

// Validate checks dimensions and rejects bounds that cross.
func (p *Problem) Validate() error {
	n := p.Dim()
	if n == 0 {
		return fmt.Errorf("qp: empty problem: %w", dynamo.ErrShapeMismatch)
	}
	if len(p.Linear) != n {
		return fmt.Errorf("qp: linear term has %d entries, want %d: %w", len(p.Linear), n, dynamo.ErrShapeMismatch)
	}
	rows := p.Rows()
	if rows > 0 {
		if _, c := p.Constraints.Dims(); c != n {
			return fmt.Errorf("qp: constraint matrix has %d columns, want %d: %w", c, n, dynamo.ErrShapeMismatch)
		}
	}
	if len(p.Lower) != rows || len(p.Upper) != rows {
		return fmt.Errorf("qp: %d constraint rows but %d/%d bounds: %w", rows, len(p.Lower), len(p.Upper), dynamo.ErrShapeMismatch)
	}
	if (p.VarLower != nil && len(p.VarLower) != n) || (p.VarUpper != nil && len(p.VarUpper) != n) {
		return fmt.Errorf("qp: variable bounds must have %d entries: %w", n, dynamo.ErrShapeMismatch)
	}

	for i := 0; i < rows; i++ {
		if p.Lower[i] > p.Upper[i] {
			return fmt.Errorf("qp: row %d has lower bound %g above upper bound %g: %w", i, p.Lower[i], p.Upper[i], dynamo.ErrInfeasible)
		}
	}
	for j := 0; j < n; j++ {
		if lo, hi := p.varLower(j), p.varUpper(j); lo > hi {
			return fmt.Errorf("qp: variable %d has lower bound %g above upper bound %g: %w", j, lo, hi, dynamo.ErrInfeasible)
		}
	}
	for _, v := range p.Linear {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("qp: non-finite linear term: %w", dynamo.ErrSolveFailure)
		}
	}
	return nil
}

// Objective evaluates ½ zᵀHz + qᵀz.
func (p *Problem) Objective(z []float64) float64 {
	v := mat.NewVecDense(len(z), append([]float64(nil), z...))
	return 0.5*mat.Inner(v, p.Hessian, v) + mat.Dot(v, mat.NewVecDense(len(p.Linear), append([]float64(nil), p.Linear...)))
}

// Violation returns the largest amount by which z breaks a constraint.
func (p *Problem) Violation(z []float64) float64 {
	worst := 0.0
	for i := 0; i < p.Rows(); i++ {
		s := 0.0
		for j := range z {
			s += p.Constraints.At(i, j) * z[j]
		}
		worst = math.Max(worst, math.Max(p.Lower[i]-s, s-p.Upper[i]))
	}
	for j, v := range z {
		worst = math.Max(worst, math.Max(p.varLower(j)-v, v-p.varUpper(j)))
	}
	return worst
}

func (p *Problem) varLower(j int) float64 {
	if p.VarLower == nil {
		return math.Inf(-1)
	}
	return p.VarLower[j]
}

func (p *Problem) varUpper(j int) float64 {
	if p.VarUpper == nil {
		return math.Inf(1)
	}
	return p.VarUpper[j]
}
