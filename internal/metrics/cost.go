package metrics

import (
	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
)

// StageCost accumulates Σ xᵀQx + uᵀRu along the run. With weights from
// cost.Model.Scaled(dt) it approximates the continuous cost integral.
type StageCost struct {
	name  string
	model *cost.Model
	total float64
}

func NewStageCost(model *cost.Model) *StageCost {
	return &StageCost{name: "stage_cost", model: model}
}

func (s *StageCost) Name() string { return s.name }

func (s *StageCost) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.total += s.model.StageCost(x, u)
}

func (s *StageCost) Value() float64 { return s.total }
func (s *StageCost) Reset()         { s.total = 0 }
