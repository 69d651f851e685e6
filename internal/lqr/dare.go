package lqr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
)

const (
	dareMaxIter = 200000
	dareTol     = 1e-11
)

// SolveDARE iterates the discrete Riccati recursion
//
//	P ← Q + AᵀPA − AᵀPB(R + BᵀPB)⁻¹BᵀPA
//
// from P = Q until it reaches a fixed point.
func SolveDARE(ad, bd mat.Matrix, q, r mat.Symmetric) (*mat.SymDense, error) {
	n, _, err := checkShapes(ad, bd, q, r)
	if err != nil {
		return nil, err
	}
	if !cost.IsPositiveDefinite(r) || !cost.IsPositiveSemidefinite(q) {
		return nil, fmt.Errorf("lqr: weights not admissible: %w", dynamo.ErrNonStabilizable)
	}

	p := mat.NewSymDense(n, nil)
	p.CopySym(q)

	var pa, pb, s, btpa, gain, tmp, corr, next, diff mat.Dense
	for it := 0; it < dareMaxIter; it++ {
		pa.Mul(p, ad)
		pb.Mul(p, bd)

		s.Mul(bd.T(), &pb)
		s.Add(&s, r)
		btpa.Mul(bd.T(), &pa)

		var chol mat.Cholesky
		if !chol.Factorize(symOf(&s)) {
			return nil, fmt.Errorf("lqr: R + BᵀPB lost definiteness: %w", dynamo.ErrNonStabilizable)
		}
		if err := chol.SolveTo(&gain, &btpa); err != nil {
			return nil, fmt.Errorf("lqr: %v: %w", err, dynamo.ErrNonStabilizable)
		}

		next.Mul(ad.T(), &pa)
		tmp.Mul(&pb, &gain)
		corr.Mul(ad.T(), &tmp)
		next.Sub(&next, &corr)
		next.Add(&next, q)

		diff.Sub(&next, p)
		change := maxAbs(&diff)
		scale := maxAbs(&next)
		if math.IsNaN(change) || math.IsInf(scale, 0) {
			return nil, fmt.Errorf("lqr: discrete Riccati recursion diverged: %w", dynamo.ErrNonStabilizable)
		}

		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				p.SetSym(i, j, 0.5*(next.At(i, j)+next.At(j, i)))
			}
		}
		if change <= dareTol*math.Max(1, scale) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("lqr: discrete Riccati recursion did not converge: %w", dynamo.ErrNonStabilizable)
}

// GainDiscrete returns K = (R + BᵀPB)⁻¹BᵀPA.
func GainDiscrete(p mat.Symmetric, ad, bd mat.Matrix, r mat.Symmetric) (*mat.Dense, error) {
	var pa, pb, s, btpa mat.Dense
	pa.Mul(p, ad)
	pb.Mul(p, bd)
	s.Mul(bd.T(), &pb)
	s.Add(&s, r)
	btpa.Mul(bd.T(), &pa)

	var chol mat.Cholesky
	if !chol.Factorize(symOf(&s)) {
		return nil, fmt.Errorf("lqr: R + BᵀPB not positive definite: %w", dynamo.ErrNonStabilizable)
	}
	var k mat.Dense
	if err := chol.SolveTo(&k, &btpa); err != nil {
		return nil, fmt.Errorf("lqr: %v: %w", err, dynamo.ErrNonStabilizable)
	}
	return &k, nil
}

func symOf(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}
