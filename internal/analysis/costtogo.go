package analysis

import (
	"fmt"
	"math"

	"github.com/san-kum/recede/internal/dynamo"
)

// CostComparison relates finite-horizon optimal costs J*_k to the
// infinite-horizon value V(x_k).
type CostComparison struct {
	Samples    int
	MaxRelGap  float64
	MeanRelGap float64
	// Worst is the index of the largest relative gap.
	Worst int
}

// Within reports whether every J*_k was within tol of V(x_k), relatively.
func (c CostComparison) Within(tol float64) bool { return c.MaxRelGap <= tol }

// CompareCostToGo pairs costs[k] with states[k]. Samples with V(x_k) = 0
// are skipped.
func CompareCostToGo(costs []float64, states []dynamo.State, v func(dynamo.State) float64) (CostComparison, error) {
	if len(costs) > len(states) {
		return CostComparison{}, fmt.Errorf("analysis: %d costs for %d states: %w", len(costs), len(states), dynamo.ErrShapeMismatch)
	}

	c := CostComparison{Worst: -1}
	sum := 0.0
	for k, j := range costs {
		ref := v(states[k])
		if ref == 0 {
			continue
		}
		gap := math.Abs(j-ref) / math.Abs(ref)
		sum += gap
		c.Samples++
		if gap > c.MaxRelGap || c.Worst < 0 {
			c.MaxRelGap, c.Worst = gap, k
		}
	}
	if c.Samples > 0 {
		c.MeanRelGap = sum / float64(c.Samples)
	}
	return c, nil
}
