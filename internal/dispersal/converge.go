package dispersal

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/engine"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// DefaultIterations is the number of radius corrections applied when the
// caller does not choose one.
const DefaultIterations = 5

// Iteration is the state produced by one pass of the loop. Iteration 0 is
// the uncorrected circle and has no clip.
type Iteration struct {
	Index        int
	Area         float64
	Distance     float64
	ExcludedArea float64
	Buffer       *engine.Layer
	Clip         *engine.Layer
}

// Observer receives every iteration as it completes. The layers it is
// handed are not retained by the loop afterwards. Returning an error aborts
// the run.
type Observer func(ctx context.Context, it Iteration) error

// LoopParams configures Converge.
type LoopParams struct {
	// Center is a layer holding the single source point.
	Center *engine.Layer
	// Exclusion is the dissolved exclusion zone; it may be empty.
	Exclusion  *engine.Layer
	TargetArea float64
	Iterations int
	// Segments per quarter circle, fixed for every buffer of the run.
	Segments int
	// Tolerance stops the loop once an iteration changes the area by no
	// more than this amount. Zero disables early stopping.
	Tolerance float64
	Observe   Observer
}

// Validate checks the parameters before any geometry operation runs.
func (p LoopParams) Validate() error {
	if p.Center == nil || p.Center.Len() == 0 {
		return fault.Missing("convergence", "source point is required")
	}
	if p.Center.Len() != 1 {
		return fault.Invalid("convergence", "source layer must hold exactly one point, got %d", p.Center.Len())
	}
	if p.Exclusion == nil {
		return fault.Missing("convergence", "exclusion zone is required")
	}
	if !finite(p.TargetArea) || p.TargetArea < 0 {
		return fault.Invalid("convergence", "target area must be finite and non-negative, got %v", p.TargetArea)
	}
	if p.Iterations < 0 {
		return fault.Invalid("convergence", "iterations must be non-negative, got %d", p.Iterations)
	}
	if p.Segments < 1 {
		return fault.Invalid("convergence", "segments must be at least 1, got %d", p.Segments)
	}
	if !finite(p.Tolerance) || p.Tolerance < 0 {
		return fault.Invalid("convergence", "tolerance must be finite and non-negative, got %v", p.Tolerance)
	}
	return nil
}

// Trace records the per-iteration sequences of a loop run. Every slice is
// indexed by iteration, with index 0 the uncorrected circle.
type Trace struct {
	Areas         []float64
	Distances     []float64
	ExcludedAreas []float64
	// Final is the buffer of the last completed iteration.
	Final *engine.Layer
	// Stopped is true when the tolerance ended the loop before Iterations.
	Stopped bool
}

// Completed returns the number of corrections applied.
func (t *Trace) Completed() int {
	return len(t.Areas) - 1
}

// FinalArea returns the corrected area of the last iteration.
func (t *Trace) FinalArea() float64 {
	return t.Areas[len(t.Areas)-1]
}

// FinalDistance returns the corrected radius of the last iteration.
func (t *Trace) FinalDistance() float64 {
	return t.Distances[len(t.Distances)-1]
}

// Converge grows a circle around the source point until the area lost to
// the exclusion zone has been added back. Each iteration clips the previous
// circle with the exclusion zone, adds the change in excluded area to the
// running area and redraws the circle at the matching radius. The loop runs
// exactly Iterations times unless a positive Tolerance stops it earlier.
func Converge(ctx context.Context, e engine.Engine, p LoopParams) (*Trace, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "convergence"))

	t := &Trace{
		Areas:         make([]float64, 1, p.Iterations+1),
		Distances:     make([]float64, 1, p.Iterations+1),
		ExcludedAreas: make([]float64, 1, p.Iterations+1),
	}
	t.Areas[0] = p.TargetArea
	t.Distances[0] = radius(p.TargetArea)

	buf, err := circle(ctx, e, p, t.Distances[0])
	if err != nil {
		return nil, eris.Wrap(err, "convergence: iteration 0")
	}
	if err := observe(ctx, p.Observe, Iteration{Index: 0, Area: t.Areas[0], Distance: t.Distances[0], Buffer: buf}); err != nil {
		return nil, err
	}

	for i := 1; i <= p.Iterations; i++ {
		clip, err := e.Intersect(ctx, engine.IntersectParams{Input: buf, Overlay: p.Exclusion})
		if err != nil {
			return nil, eris.Wrapf(err, "convergence: iteration %d: clip", i)
		}
		excluded, err := engine.LayerArea(ctx, e, clip)
		if err != nil {
			return nil, eris.Wrapf(err, "convergence: iteration %d: measure clip", i)
		}

		area := t.Areas[i-1] + (excluded - t.ExcludedAreas[i-1])
		dist := radius(area)
		t.Areas = append(t.Areas, area)
		t.Distances = append(t.Distances, dist)
		t.ExcludedAreas = append(t.ExcludedAreas, excluded)

		buf, err = circle(ctx, e, p, dist)
		if err != nil {
			return nil, eris.Wrapf(err, "convergence: iteration %d", i)
		}

		log.Debug("iteration complete",
			zap.Int("iteration", i),
			zap.Float64("excluded_area", excluded),
			zap.Float64("area", area),
			zap.Float64("distance", dist),
			zap.Int("clip_parts", clip.Len()),
		)
		if err := observe(ctx, p.Observe, Iteration{
			Index:        i,
			Area:         area,
			Distance:     dist,
			ExcludedArea: excluded,
			Buffer:       buf,
			Clip:         clip,
		}); err != nil {
			return nil, err
		}

		if p.Tolerance > 0 && math.Abs(area-t.Areas[i-1]) <= p.Tolerance {
			t.Stopped = i < p.Iterations
			break
		}
	}

	t.Final = buf
	return t, nil
}

func circle(ctx context.Context, e engine.Engine, p LoopParams, dist float64) (*engine.Layer, error) {
	return e.Buffer(ctx, engine.BufferParams{
		Input:    p.Center,
		Distance: dist,
		Dissolve: true,
		Segments: p.Segments,
	})
}

func observe(ctx context.Context, fn Observer, it Iteration) error {
	if fn == nil {
		return nil
	}
	if err := fn(ctx, it); err != nil {
		return eris.Wrapf(err, "convergence: observe iteration %d", it.Index)
	}
	return nil
}

// radius returns the radius of a circle of the given area.
func radius(area float64) float64 {
	return math.Sqrt(area / math.Pi)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
