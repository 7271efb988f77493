package dispersal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/compound"
	"github.com/sells-group/nutrient-buffer/internal/engine"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// Request is one invocation of the dispersal calculation.
type Request struct {
	Source    *engine.Layer
	Waterways *engine.Layer
	Roads     *engine.Layer

	Compound  compound.Compound
	WasteMass float64 // tonnes

	Iterations int
	Tolerance  float64
	Segments   int

	WaterwayMargin    float64
	RoadMargin        float64
	ExclusionSegments int

	Observe Observer
}

// NewRequest returns a request with the default margins, segment counts and
// iteration count.
func NewRequest(source, waterways, roads *engine.Layer, c compound.Compound, wasteMass float64) Request {
	return Request{
		Source:            source,
		Waterways:         waterways,
		Roads:             roads,
		Compound:          c,
		WasteMass:         wasteMass,
		Iterations:        DefaultIterations,
		Segments:          engine.DefaultSegments,
		WaterwayMargin:    DefaultWaterwayMargin,
		RoadMargin:        DefaultRoadMargin,
		ExclusionSegments: DefaultExclusionSegments,
	}
}

// Result is the outcome of a dispersal run.
type Result struct {
	RunID     string
	Sizing    compound.Sizing
	Trace     *Trace
	Exclusion *engine.Layer
	Summary   Summary
}

// Run validates req, builds the exclusion zone, sizes the compound and runs
// the convergence loop. Every argument is checked before the first geometry
// operation; any failure aborts the run without a partial result.
func Run(ctx context.Context, e engine.Engine, req Request) (*Result, error) {
	sizing, err := compound.Size(req.Compound, req.WasteMass)
	if err != nil {
		return nil, err
	}
	excl := ExclusionParams{
		Waterways:      req.Waterways,
		Roads:          req.Roads,
		WaterwayMargin: req.WaterwayMargin,
		RoadMargin:     req.RoadMargin,
		Segments:       req.ExclusionSegments,
	}
	if err := excl.Validate(); err != nil {
		return nil, err
	}
	loop := LoopParams{
		Center:     req.Source,
		Exclusion:  &engine.Layer{},
		TargetArea: sizing.TargetArea,
		Iterations: req.Iterations,
		Segments:   req.Segments,
		Tolerance:  req.Tolerance,
		Observe:    req.Observe,
	}
	if err := loop.Validate(); err != nil {
		return nil, err
	}
	if err := checkSource(req.Source); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	log := zap.L().With(zap.String("component", "dispersal"), zap.String("run_id", runID))
	start := time.Now()
	log.Info("dispersal run started",
		zap.String("engine", e.Name()),
		zap.Stringer("compound", req.Compound),
		zap.Float64("waste_mass_t", req.WasteMass),
		zap.Float64("target_area", sizing.TargetArea),
		zap.Int("iterations", req.Iterations),
	)

	zone, err := BuildExclusionZone(ctx, e, excl)
	if err != nil {
		return nil, eris.Wrap(err, "dispersal: build exclusion zone")
	}

	loop.Exclusion = zone
	trace, err := Converge(ctx, e, loop)
	if err != nil {
		return nil, eris.Wrap(err, "dispersal: converge")
	}

	res := &Result{
		RunID:     runID,
		Sizing:    sizing,
		Trace:     trace,
		Exclusion: zone,
		Summary:   summarize(sizing, req.WasteMass, trace),
	}

	log.Info("dispersal run finished",
		zap.Int("completed", trace.Completed()),
		zap.Bool("stopped_early", trace.Stopped),
		zap.Float64("final_area", trace.FinalArea()),
		zap.Float64("final_distance", trace.FinalDistance()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// checkSource requires the source layer to hold a single point.
func checkSource(l *engine.Layer) error {
	switch g := l.Geoms[0].(type) {
	case *geom.Point:
		return nil
	case nil:
		return fault.Missing("dispersal", "source point has no geometry")
	default:
		return fault.Invalid("dispersal", "source must be a point, got %T", g)
	}
}

// Output returns the final buffer as a one-feature layer. All parts of the
// final buffer are gathered into one multipolygon; a zero-radius buffer
// yields an empty multipolygon.
func (r *Result) Output() (*engine.Layer, error) {
	final := r.Trace.Final
	out := &engine.Layer{Name: "dispersal_area", SRID: final.SRID}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(final.SRID)
	for i, g := range final.Geoms {
		if err := pushPolygons(mp, g); err != nil {
			return nil, fault.Geometry("result", eris.Wrapf(err, "dispersal: final buffer part %d", i))
		}
	}
	out.Geoms = []geom.T{mp}
	return out, nil
}

func pushPolygons(mp *geom.MultiPolygon, g geom.T) error {
	switch v := g.(type) {
	case *geom.Polygon:
		return mp.Push(xyPolygon(v))
	case *geom.MultiPolygon:
		for i := 0; i < v.NumPolygons(); i++ {
			if err := mp.Push(xyPolygon(v.Polygon(i))); err != nil {
				return err
			}
		}
		return nil
	default:
		return eris.Errorf("unexpected geometry %T", g)
	}
}

// xyPolygon drops any Z or M ordinates so parts share one layout.
func xyPolygon(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	stride := p.Stride()
	flat := make([]float64, 0, len(p.FlatCoords())/stride*2)
	for i := 0; i < len(p.FlatCoords()); i += stride {
		flat = append(flat, p.FlatCoords()[i], p.FlatCoords()[i+1])
	}
	ends := make([]int, len(p.Ends()))
	for i, e := range p.Ends() {
		ends[i] = e / stride * 2
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}
