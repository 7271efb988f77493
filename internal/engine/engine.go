// Package engine defines the vector-geometry operations a dispersal run
// consumes (buffer, merge, dissolve, intersect, area) and the backends that
// implement them.
package engine

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// DefaultSegments is the number of segments used per quarter circle when
// approximating round buffer edges.
const DefaultSegments = 10

// Layer is an ordered set of geometries sharing one coordinate reference system.
type Layer struct {
	Name  string
	SRID  int
	Geoms []geom.T
}

// Len returns the number of features in l. A nil layer has none.
func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Geoms)
}

// Engine is a vector-geometry backend.
type Engine interface {
	// Name identifies the backend in config and logs.
	Name() string

	// Buffer offsets every feature of the input by a fixed distance.
	Buffer(ctx context.Context, p BufferParams) (*Layer, error)

	// Merge concatenates the features of several layers into one.
	Merge(ctx context.Context, p MergeParams) (*Layer, error)

	// Dissolve collapses all features into one seamless (multi)polygon.
	Dissolve(ctx context.Context, p DissolveParams) (*Layer, error)

	// Intersect clips the input layer to the overlay layer. The result may
	// hold zero or more features.
	Intersect(ctx context.Context, p IntersectParams) (*Layer, error)

	// Area returns the planar area of g in the square units of its CRS.
	Area(ctx context.Context, g geom.T) (float64, error)

	// Close releases backend resources.
	Close() error
}

// BufferParams configures a buffer operation.
type BufferParams struct {
	Input    *Layer
	Distance float64
	Dissolve bool
	// Segments per quarter circle.
	Segments int
}

// Validate checks the parameters before any backend call.
func (p BufferParams) Validate() error {
	if p.Input == nil {
		return fault.Invalid("buffer", "input layer is required")
	}
	if math.IsNaN(p.Distance) || math.IsInf(p.Distance, 0) || p.Distance < 0 {
		return fault.Invalid("buffer", "distance must be finite and non-negative, got %v", p.Distance)
	}
	if p.Segments < 1 {
		return fault.Invalid("buffer", "segments must be at least 1, got %d", p.Segments)
	}
	return nil
}

// MergeParams configures a merge operation.
type MergeParams struct {
	Name   string
	Layers []*Layer
}

// Validate checks the parameters before any backend call.
func (p MergeParams) Validate() error {
	if len(p.Layers) == 0 {
		return fault.Invalid("merge", "at least one layer is required")
	}
	srid := -1
	for i, l := range p.Layers {
		if l == nil {
			return fault.Invalid("merge", "layer %d is nil", i)
		}
		if srid >= 0 && l.SRID != srid {
			return fault.Invalid("merge", "layer %q has SRID %d, want %d", l.Name, l.SRID, srid)
		}
		srid = l.SRID
	}
	return nil
}

// DissolveParams configures a dissolve operation.
type DissolveParams struct {
	Input *Layer
}

// Validate checks the parameters before any backend call.
func (p DissolveParams) Validate() error {
	if p.Input == nil {
		return fault.Invalid("dissolve", "input layer is required")
	}
	return nil
}

// IntersectParams configures a clip of Input by Overlay.
type IntersectParams struct {
	Input   *Layer
	Overlay *Layer
}

// Validate checks the parameters before any backend call.
func (p IntersectParams) Validate() error {
	if p.Input == nil {
		return fault.Invalid("intersect", "input layer is required")
	}
	if p.Overlay == nil {
		return fault.Invalid("intersect", "overlay layer is required")
	}
	return nil
}

// MergeLayers concatenates the features of p.Layers in order. Overlapping
// geometry is kept as-is; dissolving is a separate step.
func MergeLayers(p MergeParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Name, SRID: p.Layers[0].SRID}
	if out.Name == "" {
		out.Name = "merged"
	}
	for _, l := range p.Layers {
		out.Geoms = append(out.Geoms, l.Geoms...)
	}
	return out, nil
}

// LayerArea sums Area over every feature of l.
func LayerArea(ctx context.Context, e Engine, l *Layer) (float64, error) {
	var total float64
	if l == nil {
		return 0, nil
	}
	for _, g := range l.Geoms {
		a, err := e.Area(ctx, g)
		if err != nil {
			return 0, err
		}
		total += a
	}
	return total, nil
}

// polygonalArea computes the planar area of a go-geom geometry regardless of
// ring orientation: each polygon counts its shell less its holes. Puntal and
// lineal geometries have zero area.
func polygonalArea(g geom.T) (float64, error) {
	switch v := g.(type) {
	case nil:
		return 0, eris.New("engine: area of nil geometry")
	case *geom.Polygon:
		return polygonArea(v), nil
	case *geom.MultiPolygon:
		var total float64
		for i := 0; i < v.NumPolygons(); i++ {
			total += polygonArea(v.Polygon(i))
		}
		return total, nil
	case *geom.GeometryCollection:
		var total float64
		for _, c := range v.Geoms() {
			a, err := polygonalArea(c)
			if err != nil {
				return 0, err
			}
			total += a
		}
		return total, nil
	case *geom.Point, *geom.MultiPoint, *geom.LineString, *geom.MultiLineString, *geom.LinearRing:
		return 0, nil
	default:
		return 0, eris.Errorf("engine: area of unsupported geometry %T", g)
	}
}

func polygonArea(p *geom.Polygon) float64 {
	var a float64
	for i := 0; i < p.NumLinearRings(); i++ {
		r := math.Abs(p.LinearRing(i).Area())
		if i == 0 {
			a += r
			continue
		}
		a -= r
	}
	return a
}

// Options carries backend connection settings.
type Options struct {
	DatabaseURL string
}

// Factory constructs an Engine.
type Factory func(ctx context.Context, opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available to Open under name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names lists the registered backends in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open constructs the backend registered under name.
func Open(ctx context.Context, name string, opts Options) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fault.Invalid("engine", "geometry engine %q is not available (have %v)", name, Names())
	}
	e, err := f(ctx, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: open %s", name)
	}
	return e, nil
}
