package lqr

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/plant"
)

func cartPole(t *testing.T) (*plant.Linear, *cost.Model) {
	t.Helper()
	lin, err := plant.NewCartPole().Linearize()
	require.NoError(t, err)
	c, err := cost.New(cost.Diagonal(1, 100, 0.1, 1), cost.Diagonal(0.001))
	require.NoError(t, err)
	return lin, c
}

func TestSolveCAREDoubleIntegrator(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	b := mat.NewDense(2, 1, []float64{0, 1})

	p, err := SolveCARE(a, b, cost.Diagonal(1, 1), cost.Diagonal(1))
	require.NoError(t, err)

	s3 := math.Sqrt(3)
	assert.InDelta(t, s3, p.At(0, 0), 1e-9)
	assert.InDelta(t, 1.0, p.At(0, 1), 1e-9)
	assert.InDelta(t, s3, p.At(1, 1), 1e-9)

	k, err := Gain(p, b, cost.Diagonal(1))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, k.At(0, 0), 1e-9)
	assert.InDelta(t, s3, k.At(0, 1), 1e-9)

	assert.Less(t, Residual(a, b, cost.Diagonal(1, 1), cost.Diagonal(1), p), 1e-9)
}

func TestSolveCartPole(t *testing.T) {
	lin, c := cartPole(t)

	d, err := Solve(lin, c)
	require.NoError(t, err)

	assert.Less(t, d.Residual, 1e-6)
	assert.InEpsilon(t, 684.1, d.P.At(2, 2), 1e-3)
	assert.InEpsilon(t, 68.482, d.P.At(1, 1), 1e-3)

	wantK := []float64{-31.62, -336.56, -2066.96, -660.70}
	for j, want := range wantK {
		assert.InEpsilon(t, want, d.K.At(0, j), 1e-3, "K[%d]", j)
	}

	require.Len(t, d.Poles, 4)
	for _, pole := range d.Poles {
		assert.Less(t, real(pole), 0.0)
	}

	assert.True(t, cost.IsPositiveDefinite(d.P))
	assert.Greater(t, d.Value(dynamo.State{0.1, 0, -1e-3, 0}), 0.0)
}

func TestSolveCARENonStabilizable(t *testing.T) {
	tests := []struct {
		name string
		a, b mat.Matrix
		q, r mat.Symmetric
	}{
		{
			name: "uncontrollable unstable mode",
			a:    mat.NewDiagDense(2, []float64{1, 2}),
			b:    mat.NewDense(2, 1, []float64{1, 0}),
			q:    cost.Diagonal(1, 1),
			r:    cost.Diagonal(1),
		},
		{
			name: "imaginary axis eigenvalues",
			a:    mat.NewDense(2, 2, []float64{0, 1, -1, 0}),
			b:    mat.NewDense(2, 1, []float64{0, 0}),
			q:    cost.Diagonal(0, 0),
			r:    cost.Diagonal(1),
		},
		{
			name: "singular input weight",
			a:    mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
			b:    mat.NewDense(2, 1, []float64{0, 1}),
			q:    cost.Diagonal(1, 1),
			r:    cost.Diagonal(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SolveCARE(tt.a, tt.b, tt.q, tt.r)
			assert.ErrorIs(t, err, dynamo.ErrNonStabilizable)
		})
	}
}

func TestSolveCAREShapeMismatch(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	b := mat.NewDense(2, 1, []float64{0, 1})

	_, err := SolveCARE(a, b, cost.Diagonal(1, 1, 1), cost.Diagonal(1))
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)

	_, err = SolveCARE(a, b, cost.Diagonal(1, 1), cost.Diagonal(1, 1))
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)

	_, err = Gain(cost.Diagonal(1, 1, 1), b, cost.Diagonal(1))
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)
}

func TestSolveShapeMismatchBetweenPlantAndCost(t *testing.T) {
	lin, _ := cartPole(t)
	c, err := cost.New(cost.Diagonal(1, 1), cost.Diagonal(1))
	require.NoError(t, err)

	_, err = Solve(lin, c)
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)
}

func TestSolveDARE(t *testing.T) {
	lin, c := cartPole(t)
	dt := 0.01
	disc, err := lin.Discretize(dt, plant.Euler)
	require.NoError(t, err)
	scaled := c.Scaled(dt)

	p, err := SolveDARE(disc.Ad(), disc.Bd(), scaled.Q(), scaled.R())
	require.NoError(t, err)
	assert.True(t, cost.IsPositiveDefinite(p))

	// Close to the continuous solution for a small step.
	cont, err := Solve(lin, c)
	require.NoError(t, err)
	assert.InEpsilon(t, cont.P.At(2, 2), p.At(2, 2), 0.1)

	k, err := GainDiscrete(p, disc.Ad(), disc.Bd(), scaled.R())
	require.NoError(t, err)

	var bk, acl mat.Dense
	bk.Mul(disc.Bd(), k)
	acl.Sub(disc.Ad(), &bk)
	var eig mat.Eigen
	require.True(t, eig.Factorize(&acl, mat.EigenNone))
	for _, z := range eig.Values(nil) {
		assert.Less(t, cmplx.Abs(z), 1.0)
	}
}

func TestSolveDAREDiverges(t *testing.T) {
	_, err := SolveDARE(
		mat.NewDiagDense(2, []float64{1.1, 0.5}),
		mat.NewDense(2, 1, []float64{0, 1}),
		cost.Diagonal(1, 1),
		cost.Diagonal(1),
	)
	assert.ErrorIs(t, err, dynamo.ErrNonStabilizable)
}
