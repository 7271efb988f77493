package dispersal

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/nutrient-buffer/internal/engine"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// fakeEngine records calls and serves scripted clip areas. Buffers are
// represented by points whose area is that of the true circle.
type fakeEngine struct {
	calls []string
	// clips holds the part areas returned by successive Intersect calls.
	// Calls past the end return no parts.
	clips  [][]float64
	failOn string
	areas  map[geom.T]float64
	nClip  int
}

func newFakeEngine(clips ...[]float64) *fakeEngine {
	return &fakeEngine{clips: clips, areas: map[geom.T]float64{}}
}

func (f *fakeEngine) fail(op string) error {
	f.calls = append(f.calls, op)
	if f.failOn == op {
		return fault.Geometry(op, eris.Errorf("fake: %s failed", op))
	}
	return nil
}

func (f *fakeEngine) part(area float64) geom.T {
	g := geom.NewPointFlat(geom.XY, []float64{area, 0})
	f.areas[g] = area
	return g
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Buffer(_ context.Context, p engine.BufferParams) (*engine.Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := f.fail("buffer"); err != nil {
		return nil, err
	}
	out := &engine.Layer{Name: p.Input.Name + "_buffer"}
	if p.Input.Len() > 0 && p.Distance > 0 {
		out.Geoms = []geom.T{f.part(math.Pi * p.Distance * p.Distance)}
	}
	return out, nil
}

func (f *fakeEngine) Merge(_ context.Context, p engine.MergeParams) (*engine.Layer, error) {
	if err := f.fail("merge"); err != nil {
		return nil, err
	}
	return engine.MergeLayers(p)
}

func (f *fakeEngine) Dissolve(_ context.Context, p engine.DissolveParams) (*engine.Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := f.fail("dissolve"); err != nil {
		return nil, err
	}
	return &engine.Layer{Name: p.Input.Name + "_dissolved", Geoms: p.Input.Geoms}, nil
}

func (f *fakeEngine) Intersect(_ context.Context, p engine.IntersectParams) (*engine.Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := f.fail("intersect"); err != nil {
		return nil, err
	}
	out := &engine.Layer{Name: p.Input.Name + "_clip"}
	if f.nClip < len(f.clips) {
		for _, a := range f.clips[f.nClip] {
			out.Geoms = append(out.Geoms, f.part(a))
		}
	}
	f.nClip++
	return out, nil
}

func (f *fakeEngine) Area(_ context.Context, g geom.T) (float64, error) {
	if err := f.fail("area"); err != nil {
		return 0, err
	}
	a, ok := f.areas[g]
	if !ok {
		return 0, fault.Geometry("area", eris.New("fake: unknown geometry"))
	}
	return a, nil
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) count(op string) int {
	var n int
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}
