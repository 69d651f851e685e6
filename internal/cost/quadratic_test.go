package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/dynamo"
)

func cartPoleCost(t *testing.T) *Model {
	t.Helper()
	c, err := New(Diagonal(1, 100, 0.1, 1), Diagonal(0.001))
	require.NoError(t, err)
	return c
}

func TestStageCost(t *testing.T) {
	c := cartPoleCost(t)

	assert.Equal(t, 0.0, c.StageCost(dynamo.State{0, 0, 0, 0}, dynamo.Control{0}))
	assert.InDelta(t, 1+400+0.1*9+0.001*100, c.StageCost(dynamo.State{1, 2, 3, 0}, dynamo.Control{10}), 1e-12)

	// Positive for any non-zero state when Q is positive definite.
	for _, x := range []dynamo.State{{1e-3, 0, 0, 0}, {0, 0, -1e-2, 0}, {0, 0, 0, 5}} {
		assert.Greater(t, c.StageCost(x, dynamo.Control{0}), 0.0)
	}
}

func TestCheckedCostsRejectShortVectors(t *testing.T) {
	c, err := cartPoleCost(t).WithTerminal(Diagonal(2, 2, 2, 2))
	require.NoError(t, err)

	_, err = c.StageCostChecked(dynamo.State{1, 2}, dynamo.Control{0})
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)
	_, err = c.StageCostChecked(dynamo.State{1, 0, 0, 0}, nil)
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)
	_, err = c.TerminalCostChecked(dynamo.State{1, 0, 0})
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)

	got, err := c.StageCostChecked(dynamo.State{1, 0, 0, 0}, dynamo.Control{10})
	require.NoError(t, err)
	assert.InDelta(t, 1.1, got, 1e-12)
	got, err = c.TerminalCostChecked(dynamo.State{1, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-12)
}

func TestTerminalCost(t *testing.T) {
	c := cartPoleCost(t)
	x := dynamo.State{1, 1, 1, 1}

	assert.Nil(t, c.Terminal())
	assert.Equal(t, 0.0, c.TerminalCost(x))

	withP, err := c.WithTerminal(Diagonal(2, 2, 2, 2))
	require.NoError(t, err)
	assert.NotNil(t, withP.Terminal())
	assert.InDelta(t, 8.0, withP.TerminalCost(x), 1e-12)
	assert.Nil(t, c.Terminal(), "WithTerminal must not modify the receiver")

	_, err = c.WithTerminal(Diagonal(1, 1))
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)

	_, err = c.WithTerminal(Diagonal(1, -1, 1, 1))
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}

func TestNewRejectsIndefiniteWeights(t *testing.T) {
	_, err := New(Diagonal(1, 1), Diagonal(0))
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	assert.ErrorIs(t, err, dynamo.ErrParameterBounds)

	_, err = New(Diagonal(1, -0.5), Diagonal(1))
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)

	// Semi-definite Q is allowed.
	_, err = New(Diagonal(1, 0), Diagonal(1))
	assert.NoError(t, err)
}

func TestScaled(t *testing.T) {
	c := cartPoleCost(t)
	withP, err := c.WithTerminal(Diagonal(5, 5, 5, 5))
	require.NoError(t, err)

	s := withP.Scaled(0.01)
	assert.InDelta(t, 1.0, s.Q().At(1, 1), 1e-12)
	assert.InDelta(t, 1e-5, s.R().At(0, 0), 1e-18)
	assert.Equal(t, 5.0, s.Terminal().At(0, 0))
	assert.Equal(t, 100.0, c.Q().At(1, 1))
}

func TestCheck(t *testing.T) {
	c := cartPoleCost(t)
	assert.NoError(t, c.Check(4, 1))
	assert.ErrorIs(t, c.Check(2, 1), dynamo.ErrShapeMismatch)
	assert.ErrorIs(t, c.Check(4, 2), dynamo.ErrShapeMismatch)
}

func TestFromDense(t *testing.T) {
	s, err := FromDense(mat.NewDense(2, 2, []float64{2, 1, 1, 3}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.At(1, 0))

	_, err = FromDense(mat.NewDense(2, 2, []float64{2, 1, 0, 3}))
	assert.ErrorIs(t, err, dynamo.ErrParameterBounds)

	_, err = FromDense(mat.NewDense(2, 3, nil))
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)
}
