package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(nil, dynamo.Control{3}, 0)
	m.Observe(nil, dynamo.Control{-4}, 0.1)

	if got, want := m.Value(), math.Sqrt(12.5); math.Abs(got-want) > 1e-12 {
		t.Errorf("rms = %v, want %v", got, want)
	}
	if m.Peak() != 4 {
		t.Errorf("peak = %v, want 4", m.Peak())
	}

	m.Reset()
	if m.Value() != 0 || m.Peak() != 0 {
		t.Error("expected zero effort after reset")
	}
}

func TestStability(t *testing.T) {
	s := NewStability(1.0)
	if s.Value() != 1.0 {
		t.Errorf("empty run should be stable, got %v", s.Value())
	}
	if !math.IsNaN(s.FirstExit()) {
		t.Error("no exit recorded yet")
	}

	states := []dynamo.State{{0.5, 0}, {0, 1.5}, {2, 0}, {0.1, 0.1}}
	for i, x := range states {
		s.Observe(x, nil, float64(i))
	}
	if s.Value() != 0.5 {
		t.Errorf("stability = %v, want 0.5", s.Value())
	}
	if s.FirstExit() != 1 {
		t.Errorf("first exit = %v, want 1", s.FirstExit())
	}
}

func TestStageCost(t *testing.T) {
	model, err := cost.New(cost.Diagonal(1, 2), cost.Diagonal(0.5))
	if err != nil {
		t.Fatal(err)
	}
	s := NewStageCost(model)
	s.Observe(dynamo.State{1, 1}, dynamo.Control{2}, 0)
	s.Observe(dynamo.State{0, 1}, dynamo.Control{0}, 0)

	if s.Value() != 7 {
		t.Errorf("stage cost = %v, want 7", s.Value())
	}
	s.Reset()
	if s.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestValueFunction(t *testing.T) {
	tests := []struct {
		name      string
		states    []dynamo.State
		increases float64
		ratio     float64
	}{
		{"decreasing", []dynamo.State{{2}, {1}, {0.5}}, 0, 1.0 / 16},
		{"flat step", []dynamo.State{{1}, {1}, {0.5}}, 1, 0.25},
		{"growing", []dynamo.State{{1}, {2}, {3}}, 2, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValueFunction(cost.Diagonal(1))
			for _, x := range tt.states {
				v.Observe(x, nil, 0)
			}
			if v.Value() != tt.increases {
				t.Errorf("increases = %v, want %v", v.Value(), tt.increases)
			}
			if v.Monotone() != (tt.increases == 0) {
				t.Errorf("Monotone() = %v", v.Monotone())
			}
			if math.Abs(v.Ratio()-tt.ratio) > 1e-12 {
				t.Errorf("ratio = %v, want %v", v.Ratio(), tt.ratio)
			}
		})
	}
}

func TestValueFunctionWorstIncrease(t *testing.T) {
	v := NewValueFunction(cost.Diagonal(1))
	for _, x := range []dynamo.State{{1}, {2}, {1}, {3}} {
		v.Observe(x, nil, 0)
	}
	if v.WorstIncrease() != 8 {
		t.Errorf("worst increase = %v, want 8", v.WorstIncrease())
	}
}

func TestConstraintViolation(t *testing.T) {
	c := NewConstraintViolation([]float64{-1}, []float64{1}, nil, []float64{math.Inf(1), 0.5})

	c.Observe(dynamo.State{10, 0}, dynamo.Control{0.5}, 0)
	if c.Value() != 0 || c.Count() != 0 {
		t.Fatalf("no violation expected, got %v", c.Value())
	}

	c.Observe(dynamo.State{0, 0.75}, dynamo.Control{-1.5}, 0.1)
	c.Observe(dynamo.State{0, 0}, dynamo.Control{1.25}, 0.2)
	if c.Value() != 0.5 {
		t.Errorf("worst violation = %v, want 0.5", c.Value())
	}
	if c.Count() != 2 {
		t.Errorf("count = %d, want 2", c.Count())
	}
}
