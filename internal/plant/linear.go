package plant

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

// Linear is an immutable continuous linear plant.
type Linear struct {
	a    *mat.Dense
	b    *mat.Dense
	n, m int
}

// New copies A (n×n) and B (n×m) into a plant.
func New(a, b mat.Matrix) (*Linear, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar == 0 || ar != ac {
		return nil, fmt.Errorf("plant: A is %dx%d, want square: %w", ar, ac, dynamo.ErrShapeMismatch)
	}
	if br != ar || bc == 0 {
		return nil, fmt.Errorf("plant: B is %dx%d, want %dxm: %w", br, bc, ar, dynamo.ErrShapeMismatch)
	}
	return &Linear{
		a: mat.DenseCopyOf(a),
		b: mat.DenseCopyOf(b),
		n: ar,
		m: bc,
	}, nil
}

func (l *Linear) StateDim() int   { return l.n }
func (l *Linear) ControlDim() int { return l.m }

// A returns a read-only view of the state matrix.
func (l *Linear) A() mat.Matrix { return l.a }

// B returns a read-only view of the input matrix.
func (l *Linear) B() mat.Matrix { return l.b }

// Derive returns Ax + Bu. x and u must match the plant dimensions; use
// DeriveChecked for untrusted input.
func (l *Linear) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, l.n)
	for i := 0; i < l.n; i++ {
		sum := 0.0
		for j := 0; j < l.n; j++ {
			sum += l.a.At(i, j) * x[j]
		}
		for j := 0; j < l.m; j++ {
			sum += l.b.At(i, j) * u[j]
		}
		dx[i] = sum
	}
	return dx
}

// DeriveChecked is Derive with dimension validation.
func (l *Linear) DeriveChecked(x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if err := l.checkDims(x, u); err != nil {
		return nil, err
	}
	return l.Derive(x, u, 0), nil
}

func (l *Linear) checkDims(x dynamo.State, u dynamo.Control) error {
	if len(x) != l.n {
		return fmt.Errorf("plant: state has %d entries, want %d: %w", len(x), l.n, dynamo.ErrShapeMismatch)
	}
	if len(u) != l.m {
		return fmt.Errorf("plant: control has %d entries, want %d: %w", len(u), l.m, dynamo.ErrShapeMismatch)
	}
	return nil
}

// Controllable reports whether [B, AB, ..., A^(n-1)B] has full row rank.
func (l *Linear) Controllable() bool {
	c := mat.NewDense(l.n, l.n*l.m, nil)
	blk := mat.DenseCopyOf(l.b)
	for k := 0; k < l.n; k++ {
		c.Slice(0, l.n, k*l.m, (k+1)*l.m).(*mat.Dense).Copy(blk)
		var next mat.Dense
		next.Mul(l.a, blk)
		blk = &next
	}

	var svd mat.SVD
	if !svd.Factorize(c, mat.SVDNone) {
		return false
	}
	vals := svd.Values(nil)
	tol := 1e-10 * vals[0]
	rank := 0
	for _, v := range vals {
		if v > tol {
			rank++
		}
	}
	return rank == l.n
}
