package metrics

import (
	"math"

	"github.com/san-kum/recede/internal/dynamo"
)

// ControlEffort reports the RMS input magnitude over a run and keeps the
// largest single input seen.
type ControlEffort struct {
	name    string
	sumSq   float64
	peak    float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(x dynamo.State, u dynamo.Control, t float64) {
	for _, val := range u {
		c.sumSq += val * val
		c.peak = math.Max(c.peak, math.Abs(val))
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return math.Sqrt(c.sumSq / float64(c.samples))
}

// Peak is max |u_i| over the run.
func (c *ControlEffort) Peak() float64 { return c.peak }

func (c *ControlEffort) Reset() {
	c.sumSq = 0
	c.peak = 0
	c.samples = 0
}
