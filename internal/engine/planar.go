package engine

import (
	"context"
	"math"

	cgeom "github.com/ctessum/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

func init() {
	Register("planar", func(_ context.Context, _ Options) (Engine, error) {
		return NewPlanar(), nil
	})
}

// Planar is an in-process engine. Round edges are approximated with vertices
// on the arc; unions and clips run through ctessum/geom's polygon clipper.
type Planar struct{}

// NewPlanar returns an in-process planar engine.
func NewPlanar() *Planar {
	return &Planar{}
}

// Name implements Engine.
func (e *Planar) Name() string { return "planar" }

// Close implements Engine.
func (e *Planar) Close() error { return nil }

// Buffer implements Engine.
func (e *Planar) Buffer(ctx context.Context, p BufferParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := &Layer{Name: p.Input.Name + "_buffer", SRID: p.Input.SRID}
	var dissolved cgeom.Polygon

	for i, g := range p.Input.Geoms {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "planar: buffer")
		}
		poly, err := bufferGeom(g, p.Distance, p.Segments)
		if err != nil {
			return nil, fault.Geometry("buffer", eris.Wrapf(err, "planar: buffer feature %d", i))
		}
		if p.Dissolve {
			if dissolved, err = union(dissolved, poly); err != nil {
				return nil, fault.Geometry("buffer", eris.Wrapf(err, "planar: dissolve feature %d", i))
			}
			continue
		}
		out.Geoms = append(out.Geoms, toMultiPolygon(poly, p.Input.SRID))
	}

	if p.Dissolve && len(p.Input.Geoms) > 0 {
		out.Geoms = append(out.Geoms, toMultiPolygon(dissolved, p.Input.SRID))
	}
	return out, nil
}

// Merge implements Engine.
func (e *Planar) Merge(_ context.Context, p MergeParams) (*Layer, error) {
	return MergeLayers(p)
}

// Dissolve implements Engine.
func (e *Planar) Dissolve(ctx context.Context, p DissolveParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_dissolved", SRID: p.Input.SRID}
	if len(p.Input.Geoms) == 0 {
		return out, nil
	}

	var acc cgeom.Polygon
	for i, g := range p.Input.Geoms {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "planar: dissolve")
		}
		poly, err := fromPolygonal(g)
		if err != nil {
			return nil, fault.Geometry("dissolve", eris.Wrapf(err, "planar: feature %d", i))
		}
		if acc, err = union(acc, poly); err != nil {
			return nil, fault.Geometry("dissolve", eris.Wrapf(err, "planar: feature %d", i))
		}
	}
	out.Geoms = append(out.Geoms, toMultiPolygon(acc, p.Input.SRID))
	return out, nil
}

// Intersect implements Engine. The overlay is unioned first so overlapping
// overlay features do not count the same input area twice.
func (e *Planar) Intersect(ctx context.Context, p IntersectParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_clip", SRID: p.Input.SRID}

	var overlay cgeom.Polygon
	for i, g := range p.Overlay.Geoms {
		poly, err := fromPolygonal(g)
		if err != nil {
			return nil, fault.Geometry("intersect", eris.Wrapf(err, "planar: overlay feature %d", i))
		}
		if overlay, err = union(overlay, poly); err != nil {
			return nil, fault.Geometry("intersect", eris.Wrapf(err, "planar: overlay feature %d", i))
		}
	}
	if len(overlay) == 0 {
		return out, nil
	}

	for i, g := range p.Input.Geoms {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "planar: intersect")
		}
		poly, err := fromPolygonal(g)
		if err != nil {
			return nil, fault.Geometry("intersect", eris.Wrapf(err, "planar: input feature %d", i))
		}
		if len(poly) == 0 {
			continue
		}
		var clipped cgeom.Polygonal = poly.Intersection(overlay)
		part, err := asPolygon(clipped)
		if err != nil {
			return nil, fault.Geometry("intersect", eris.Wrapf(err, "planar: input feature %d", i))
		}
		if len(part) == 0 {
			continue
		}
		out.Geoms = append(out.Geoms, toMultiPolygon(part, p.Input.SRID))
	}
	return out, nil
}

// Area implements Engine.
func (e *Planar) Area(_ context.Context, g geom.T) (float64, error) {
	a, err := polygonalArea(g)
	if err != nil {
		return 0, fault.Geometry("area", err)
	}
	return a, nil
}

// bufferGeom returns the buffer of g as a ctessum polygon. A zero distance
// yields an empty polygon for puntal and lineal input.
func bufferGeom(g geom.T, d float64, segs int) (cgeom.Polygon, error) {
	switch v := g.(type) {
	case nil:
		return nil, eris.New("nil geometry")
	case *geom.Point:
		if v.Empty() || d == 0 {
			return nil, nil
		}
		c := v.Coords()
		return cgeom.Polygon{circle(c.X(), c.Y(), d, segs)}, nil
	case *geom.MultiPoint:
		var acc cgeom.Polygon
		for i := 0; i < v.NumPoints(); i++ {
			part, err := bufferGeom(v.Point(i), d, segs)
			if err != nil {
				return nil, err
			}
			if acc, err = union(acc, part); err != nil {
				return nil, err
			}
		}
		return acc, nil
	case *geom.LineString:
		return bufferPath(v.FlatCoords(), v.Stride(), d, segs)
	case *geom.MultiLineString:
		var acc cgeom.Polygon
		for i := 0; i < v.NumLineStrings(); i++ {
			part, err := bufferGeom(v.LineString(i), d, segs)
			if err != nil {
				return nil, err
			}
			if acc, err = union(acc, part); err != nil {
				return nil, err
			}
		}
		return acc, nil
	case *geom.Polygon, *geom.MultiPolygon:
		acc, err := fromPolygonal(v)
		if err != nil || d == 0 {
			return acc, err
		}
		for _, ring := range acc {
			flat := make([]float64, 0, 2*len(ring))
			for _, pt := range ring {
				flat = append(flat, pt.X, pt.Y)
			}
			edge, err := bufferPath(flat, 2, d, segs)
			if err != nil {
				return nil, err
			}
			if acc, err = union(acc, edge); err != nil {
				return nil, err
			}
		}
		return acc, nil
	case *geom.GeometryCollection:
		var acc cgeom.Polygon
		for _, c := range v.Geoms() {
			part, err := bufferGeom(c, d, segs)
			if err != nil {
				return nil, err
			}
			if acc, err = union(acc, part); err != nil {
				return nil, err
			}
		}
		return acc, nil
	default:
		return nil, eris.Errorf("unsupported geometry %T", g)
	}
}

// bufferPath unions one capsule per segment of the flat coordinate path.
func bufferPath(flat []float64, stride int, d float64, segs int) (cgeom.Polygon, error) {
	if d == 0 || len(flat) < stride {
		return nil, nil
	}
	n := len(flat) / stride
	if n == 1 {
		return cgeom.Polygon{circle(flat[0], flat[1], d, segs)}, nil
	}

	var acc cgeom.Polygon
	for i := 1; i < n; i++ {
		ax, ay := flat[(i-1)*stride], flat[(i-1)*stride+1]
		bx, by := flat[i*stride], flat[i*stride+1]
		var err error
		if acc, err = union(acc, cgeom.Polygon{capsule(ax, ay, bx, by, d, segs)}); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// circle returns a closed counter-clockwise ring of 4*segs vertices lying on
// the circle of radius r around (x, y).
func circle(x, y, r float64, segs int) cgeom.Path {
	n := 4 * segs
	step := 2 * math.Pi / float64(n)
	ring := make(cgeom.Path, 0, n+1)
	for k := 0; k < n; k++ {
		a := float64(k) * step
		ring = append(ring, cgeom.Point{X: x + r*math.Cos(a), Y: y + r*math.Sin(a)})
	}
	return append(ring, ring[0])
}

// capsule returns the closed counter-clockwise outline of all points within r
// of segment a-b: a half circle around b, then a half circle around a.
func capsule(ax, ay, bx, by, r float64, segs int) cgeom.Path {
	dx, dy := bx-ax, by-ay
	if dx == 0 && dy == 0 {
		return circle(ax, ay, r, segs)
	}
	theta := math.Atan2(dy, dx)
	step := math.Pi / float64(2*segs)
	ring := make(cgeom.Path, 0, 4*segs+3)
	for k := 0; k <= 2*segs; k++ {
		a := theta - math.Pi/2 + float64(k)*step
		ring = append(ring, cgeom.Point{X: bx + r*math.Cos(a), Y: by + r*math.Sin(a)})
	}
	for k := 0; k <= 2*segs; k++ {
		a := theta + math.Pi/2 + float64(k)*step
		ring = append(ring, cgeom.Point{X: ax + r*math.Cos(a), Y: ay + r*math.Sin(a)})
	}
	return append(ring, ring[0])
}

// union joins two ctessum polygons, short-circuiting empty operands.
func union(a, b cgeom.Polygon) (cgeom.Polygon, error) {
	if len(a) == 0 {
		return b, nil
	}
	if len(b) == 0 {
		return a, nil
	}
	var out cgeom.Polygonal = a.Union(b)
	return asPolygon(out)
}

// asPolygon flattens a ctessum polygonal result into a single ring set.
func asPolygon(pg cgeom.Polygonal) (cgeom.Polygon, error) {
	switch v := pg.(type) {
	case nil:
		return nil, nil
	case cgeom.Polygon:
		return v, nil
	case cgeom.MultiPolygon:
		var out cgeom.Polygon
		for _, p := range v {
			out = append(out, p...)
		}
		return out, nil
	default:
		return nil, eris.Errorf("unexpected clip result %T", pg)
	}
}

// fromPolygonal converts go-geom polygonal geometry into a ctessum ring set.
func fromPolygonal(g geom.T) (cgeom.Polygon, error) {
	switch v := g.(type) {
	case nil:
		return nil, eris.New("nil geometry")
	case *geom.Polygon:
		return polygonRings(v), nil
	case *geom.MultiPolygon:
		var out cgeom.Polygon
		for i := 0; i < v.NumPolygons(); i++ {
			out = append(out, polygonRings(v.Polygon(i))...)
		}
		return out, nil
	case *geom.GeometryCollection:
		var out cgeom.Polygon
		for _, c := range v.Geoms() {
			part, err := fromPolygonal(c)
			if err != nil {
				return nil, err
			}
			out = append(out, part...)
		}
		return out, nil
	default:
		return nil, eris.Errorf("expected polygonal geometry, got %T", g)
	}
}

func polygonRings(p *geom.Polygon) cgeom.Polygon {
	out := make(cgeom.Polygon, 0, p.NumLinearRings())
	stride := p.Stride()
	for i := 0; i < p.NumLinearRings(); i++ {
		flat := p.LinearRing(i).FlatCoords()
		if len(flat) < 3*stride {
			continue
		}
		path := make(cgeom.Path, 0, len(flat)/stride)
		for j := 0; j+1 < len(flat); j += stride {
			path = append(path, cgeom.Point{X: flat[j], Y: flat[j+1]})
		}
		out = append(out, path)
	}
	return out
}

// toMultiPolygon rebuilds go-geom polygons from a ctessum ring set. A ring
// nested inside an odd number of other rings is a hole of its innermost
// container. Shells are wound counter-clockwise and holes clockwise.
func toMultiPolygon(p cgeom.Polygon, srid int) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)

	rings := make([][]float64, 0, len(p))
	for _, path := range p {
		if len(path) < 3 {
			continue
		}
		flat := make([]float64, 0, 2*(len(path)+1))
		for _, pt := range path {
			flat = append(flat, pt.X, pt.Y)
		}
		if path[0] != path[len(path)-1] {
			flat = append(flat, path[0].X, path[0].Y)
		}
		if len(flat) < 8 {
			continue
		}
		rings = append(rings, flat)
	}

	depth := make([]int, len(rings))
	containers := make([][]int, len(rings))
	for i := range rings {
		for j := range rings {
			if i != j && ringInside(rings[i], rings[j]) {
				depth[i]++
				containers[i] = append(containers[i], j)
			}
		}
	}

	polys := make(map[int]*geom.Polygon)
	order := make([]int, 0, len(rings))
	for i, r := range rings {
		if depth[i]%2 != 0 {
			continue
		}
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, orientRing(r, true))); err != nil {
			continue
		}
		polys[i] = poly
		order = append(order, i)
	}
	for i, r := range rings {
		if depth[i]%2 == 0 {
			continue
		}
		for _, j := range containers[i] {
			if depth[j] != depth[i]-1 {
				continue
			}
			if poly, ok := polys[j]; ok {
				_ = poly.Push(geom.NewLinearRingFlat(geom.XY, orientRing(r, false)))
			}
			break
		}
	}
	for _, i := range order {
		_ = mp.Push(polys[i])
	}
	return mp
}

// orientRing returns the closed flat XY ring wound counter-clockwise when
// ccw is set, clockwise otherwise.
func orientRing(flat []float64, ccw bool) []float64 {
	if xy.IsRingCounterClockwise(geom.XY, flat) == ccw {
		return flat
	}
	out := make([]float64, len(flat))
	for i, j := 0, len(flat)-2; j >= 0; i, j = i+2, j-2 {
		out[i], out[i+1] = flat[j], flat[j+1]
	}
	return out
}

// ringInside reports whether ring a lies inside ring b, judged by the first
// vertex of a that is not on b's boundary.
func ringInside(a, b []float64) bool {
	for k := 0; k+1 < len(a); k += 2 {
		in, edge := locate(a[k], a[k+1], b)
		if !edge {
			return in
		}
	}
	return false
}

// locate is a crossing-number point-in-ring test that also reports points
// lying on the ring itself.
func locate(x, y float64, ring []float64) (inside, onEdge bool) {
	n := len(ring) / 2
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[2*i], ring[2*i+1]
		xj, yj := ring[2*j], ring[2*j+1]

		cross := (x-xi)*(yj-yi) - (y-yi)*(xj-xi)
		if math.Abs(cross) < 1e-9 &&
			x >= math.Min(xi, xj) && x <= math.Max(xi, xj) &&
			y >= math.Min(yi, yj) && y <= math.Max(yi, yj) {
			return false, true
		}
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside, false
}
