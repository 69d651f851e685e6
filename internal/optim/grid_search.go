package optim

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/san-kum/recede/internal/experiment"
)

// Point is one evaluated parameter combination.
type Point struct {
	Params map[string]float64
	Value  float64
	Err    error
}

// BuildFunc sets up an experiment for one parameter combination.
type BuildFunc func(params map[string]float64) (*experiment.Experiment, error)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges}
}

// search carries the running minimum through the grid walk.
type search struct {
	build  BuildFunc
	metric string
	best   float64
	params map[string]float64
	points []Point
}

// Search evaluates every combination in row-major order and returns the one
// minimizing the named metric. Combinations whose build or run fails, or
// that diverge, are skipped and kept in the returned points with their error.
func (g *GridSearch) Search(ctx context.Context, build BuildFunc, metricName string) (map[string]float64, float64, []Point, error) {
	if len(g.paramNames) != len(g.ranges) {
		return nil, 0, nil, fmt.Errorf("optim: %d parameter names for %d ranges", len(g.paramNames), len(g.ranges))
	}

	s := &search{build: build, metric: metricName, best: math.Inf(1)}
	if err := g.walk(ctx, s, 0, map[string]float64{}); err != nil {
		return nil, 0, s.points, err
	}
	if s.params == nil {
		return nil, 0, s.points, fmt.Errorf("optim: no combination produced %q", metricName)
	}
	return s.params, s.best, s.points, nil
}

func (g *GridSearch) walk(ctx context.Context, s *search, depth int, current map[string]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		return s.evaluate(ctx, current)
	}

	for _, val := range g.ranges[depth] {
		next := maps.Clone(current)
		next[g.paramNames[depth]] = val
		if err := g.walk(ctx, s, depth+1, next); err != nil {
			return err
		}
	}
	return nil
}

// evaluate records one point. Only a canceled context aborts the walk.
func (s *search) evaluate(ctx context.Context, params map[string]float64) error {
	pt := Point{Params: params, Value: math.NaN()}
	defer func() { s.points = append(s.points, pt) }()

	exp, err := s.build(params)
	if err != nil {
		pt.Err = err
		return nil
	}
	result, err := exp.Run(ctx)
	switch {
	case err != nil:
		pt.Err = err
		return ctx.Err()
	case result.Diverged:
		pt.Err = fmt.Errorf("optim: run diverged at step %d", result.StepsTaken)
		return nil
	}

	val, ok := result.Metrics[s.metric]
	if !ok {
		pt.Err = fmt.Errorf("optim: unknown metric %q", s.metric)
		return nil
	}
	pt.Value = val
	if val < s.best {
		s.best = val
		s.params = maps.Clone(params)
	}
	return nil
}
