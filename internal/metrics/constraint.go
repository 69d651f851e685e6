package metrics

import (
	"math"

	"github.com/san-kum/recede/internal/dynamo"
)

// ConstraintViolation reports the largest amount by which an observed input
// or state broke its elementwise limits. Nil limits are unbounded.
type ConstraintViolation struct {
	name       string
	uMin, uMax []float64
	xMin, xMax []float64
	worst      float64
	count      int
}

func NewConstraintViolation(uMin, uMax, xMin, xMax []float64) *ConstraintViolation {
	return &ConstraintViolation{
		name: "constraint_violation",
		uMin: uMin,
		uMax: uMax,
		xMin: xMin,
		xMax: xMax,
	}
}

func (c *ConstraintViolation) Name() string { return c.name }

func (c *ConstraintViolation) Observe(x dynamo.State, u dynamo.Control, t float64) {
	v := math.Max(excess(u, c.uMin, c.uMax), excess(x, c.xMin, c.xMax))
	if v > 0 {
		c.count++
		c.worst = math.Max(c.worst, v)
	}
}

func (c *ConstraintViolation) Value() float64 { return c.worst }

// Count is the number of observations with any violation.
func (c *ConstraintViolation) Count() int { return c.count }

func (c *ConstraintViolation) Reset() {
	c.worst = 0
	c.count = 0
}

func excess(v, lo, hi []float64) float64 {
	worst := 0.0
	for i, val := range v {
		if i < len(lo) {
			worst = math.Max(worst, lo[i]-val)
		}
		if i < len(hi) {
			worst = math.Max(worst, val-hi[i])
		}
	}
	return worst
}
