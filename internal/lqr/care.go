package lqr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/plant"
)

const (
	signMaxIter = 100
	signTol     = 1e-10
)

// SolveCARE returns the stabilizing solution of the continuous Riccati
// equation. It fails with dynamo.ErrNonStabilizable when (A, B) cannot be
// stabilized, the Hamiltonian has eigenvalues on the imaginary axis, or the
// weights are not admissible.
func SolveCARE(a, b mat.Matrix, q, r mat.Symmetric) (*mat.SymDense, error) {
	n, m, err := checkShapes(a, b, q, r)
	if err != nil {
		return nil, err
	}
	if !cost.IsPositiveDefinite(r) || !cost.IsPositiveSemidefinite(q) {
		return nil, fmt.Errorf("lqr: weights not admissible: %w", dynamo.ErrNonStabilizable)
	}

	g, err := inputWeight(b, r, n, m)
	if err != nil {
		return nil, err
	}

	h := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h.Set(i, j, a.At(i, j))
			h.Set(i, j+n, -g.At(i, j))
			h.Set(i+n, j, -q.At(i, j))
			h.Set(i+n, j+n, -a.At(j, i))
		}
	}

	w, err := matrixSign(h)
	if err != nil {
		return nil, err
	}

	// The stable invariant subspace of H is spanned by the columns of
	// [I; P], which gives [W12; W22+I] P = -[W11+I; W21].
	lhs := mat.NewDense(2*n, n, nil)
	rhs := mat.NewDense(2*n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			lhs.Set(i, j, w.At(i, j+n))
			lhs.Set(i+n, j, w.At(i+n, j+n))
			rhs.Set(i, j, -w.At(i, j))
			rhs.Set(i+n, j, -w.At(i+n, j))
		}
		lhs.Set(i+n, i, lhs.At(i+n, i)+1)
		rhs.Set(i, i, rhs.At(i, i)-1)
	}

	var sol mat.Dense
	if err := sol.Solve(lhs, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || sol.IsEmpty() {
			return nil, fmt.Errorf("lqr: invariant subspace: %v: %w", err, dynamo.ErrNonStabilizable)
		}
	}

	p := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			p.SetSym(i, j, 0.5*(sol.At(i, j)+sol.At(j, i)))
		}
	}

	if err := verify(a, b, q, r, p); err != nil {
		return nil, err
	}
	return p, nil
}

// matrixSign iterates Z ← (Z/c + cZ⁻¹)/2 with determinant scaling
// c = |det Z|^(1/dim).
func matrixSign(h *mat.Dense) (*mat.Dense, error) {
	dim, _ := h.Dims()
	z := mat.DenseCopyOf(h)

	var zi, next, diff mat.Dense
	for it := 0; it < signMaxIter; it++ {
		logDet, sign := mat.LogDet(z)
		if sign == 0 || math.IsInf(logDet, 0) || math.IsNaN(logDet) {
			return nil, fmt.Errorf("lqr: Hamiltonian has eigenvalues on the imaginary axis: %w", dynamo.ErrNonStabilizable)
		}
		if err := zi.Inverse(z); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) || zi.IsEmpty() {
				return nil, fmt.Errorf("lqr: sign iteration: %v: %w", err, dynamo.ErrNonStabilizable)
			}
		}
		c := math.Exp(logDet / float64(dim))

		next.Scale(1/c, z)
		zi.Scale(c, &zi)
		next.Add(&next, &zi)
		next.Scale(0.5, &next)

		diff.Sub(&next, z)
		z.Copy(&next)
		if mat.Norm(&diff, 1) <= signTol*mat.Norm(z, 1) {
			return z, nil
		}
	}
	return nil, fmt.Errorf("lqr: sign iteration did not converge in %d steps: %w", signMaxIter, dynamo.ErrNonStabilizable)
}

// verify rejects solutions that are indefinite or do not stabilize A − BK.
func verify(a, b mat.Matrix, q, r mat.Symmetric, p *mat.SymDense) error {
	for i := 0; i < p.SymmetricDim(); i++ {
		for j := 0; j < p.SymmetricDim(); j++ {
			if v := p.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("lqr: non-finite Riccati solution: %w", dynamo.ErrNonStabilizable)
			}
		}
	}
	if !cost.IsPositiveSemidefinite(p) {
		return fmt.Errorf("lqr: Riccati solution is indefinite: %w", dynamo.ErrNonStabilizable)
	}

	k, err := Gain(p, b, r)
	if err != nil {
		return err
	}
	poles, err := ClosedLoopPoles(a, b, k)
	if err != nil {
		return err
	}
	for _, pole := range poles {
		if real(pole) >= 0 {
			return fmt.Errorf("lqr: closed-loop pole %v not in left half-plane: %w", pole, dynamo.ErrNonStabilizable)
		}
	}
	return nil
}

// Gain returns K = R⁻¹BᵀP.
func Gain(p mat.Symmetric, b mat.Matrix, r mat.Symmetric) (*mat.Dense, error) {
	n, m := b.Dims()
	if p.SymmetricDim() != n || r.SymmetricDim() != m {
		return nil, fmt.Errorf("lqr: gain shapes P %d, B %dx%d, R %d: %w", p.SymmetricDim(), n, m, r.SymmetricDim(), dynamo.ErrShapeMismatch)
	}

	var chol mat.Cholesky
	if !chol.Factorize(r) {
		return nil, fmt.Errorf("lqr: R not positive definite: %w", dynamo.ErrNonStabilizable)
	}

	var btp mat.Dense
	btp.Mul(b.T(), p)
	k := mat.NewDense(m, n, nil)
	if err := chol.SolveTo(k, &btp); err != nil {
		return nil, fmt.Errorf("lqr: gain: %v: %w", err, dynamo.ErrNonStabilizable)
	}
	return k, nil
}

// ClosedLoopPoles returns the eigenvalues of A − BK.
func ClosedLoopPoles(a, b, k mat.Matrix) ([]complex128, error) {
	var bk, acl mat.Dense
	bk.Mul(b, k)
	acl.Sub(a, &bk)

	var eig mat.Eigen
	if !eig.Factorize(&acl, mat.EigenNone) {
		return nil, fmt.Errorf("lqr: closed-loop eigen decomposition failed: %w", dynamo.ErrNonStabilizable)
	}
	return eig.Values(nil), nil
}

// Residual returns the largest absolute entry of AᵀP + PA − PBR⁻¹BᵀP + Q.
func Residual(a, b mat.Matrix, q, r, p mat.Symmetric) float64 {
	n, m := b.Dims()
	g, err := inputWeight(b, r, n, m)
	if err != nil {
		return math.Inf(1)
	}

	var atp, pa, pgp, tmp, res mat.Dense
	atp.Mul(a.T(), p)
	pa.Mul(p, a)
	tmp.Mul(p, g)
	pgp.Mul(&tmp, p)

	res.Add(&atp, &pa)
	res.Sub(&res, &pgp)
	res.Add(&res, q)
	return maxAbs(&res)
}

// Design bundles the regulator derived from a plant and its weights.
type Design struct {
	P        *mat.SymDense
	K        *mat.Dense
	Poles    []complex128
	Residual float64
}

// Solve runs the continuous design for a plant and cost model.
func Solve(lin *plant.Linear, c *cost.Model) (*Design, error) {
	if err := c.Check(lin.StateDim(), lin.ControlDim()); err != nil {
		return nil, err
	}
	p, err := SolveCARE(lin.A(), lin.B(), c.Q(), c.R())
	if err != nil {
		return nil, err
	}
	k, err := Gain(p, lin.B(), c.R())
	if err != nil {
		return nil, err
	}
	poles, err := ClosedLoopPoles(lin.A(), lin.B(), k)
	if err != nil {
		return nil, err
	}
	return &Design{
		P:        p,
		K:        k,
		Poles:    poles,
		Residual: Residual(lin.A(), lin.B(), c.Q(), c.R(), p),
	}, nil
}

// Value returns xᵀPx.
func (d *Design) Value(x dynamo.State) float64 {
	n := d.P.SymmetricDim()
	v := mat.NewVecDense(n, x.Clone())
	return mat.Inner(v, d.P, v)
}

// inputWeight returns BR⁻¹Bᵀ.
func inputWeight(b mat.Matrix, r mat.Symmetric, n, m int) (*mat.Dense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(r) {
		return nil, fmt.Errorf("lqr: R not positive definite: %w", dynamo.ErrNonStabilizable)
	}
	var rbt mat.Dense
	if err := chol.SolveTo(&rbt, b.T()); err != nil {
		return nil, fmt.Errorf("lqr: %v: %w", err, dynamo.ErrNonStabilizable)
	}
	g := mat.NewDense(n, n, nil)
	g.Mul(b, &rbt)
	return g, nil
}

func checkShapes(a, b mat.Matrix, q, r mat.Symmetric) (int, int, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != ac || br != ar || q.SymmetricDim() != ar || r.SymmetricDim() != bc {
		return 0, 0, fmt.Errorf("lqr: A %dx%d, B %dx%d, Q %d, R %d: %w",
			ar, ac, br, bc, q.SymmetricDim(), r.SymmetricDim(), dynamo.ErrShapeMismatch)
	}
	return ar, bc, nil
}

func maxAbs(m mat.Matrix) float64 {
	r, c := m.Dims()
	out := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = math.Max(out, math.Abs(m.At(i, j)))
		}
	}
	return out
}
