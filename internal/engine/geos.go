//go:build geos

package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

func init() {
	Register("geos", func(_ context.Context, _ Options) (Engine, error) {
		return NewGEOS(), nil
	})
}

// GEOS runs geometry operations through libgeos. Every native geometry
// created for an operation is destroyed before the operation returns.
type GEOS struct {
	gctx *geos.Context
}

// NewGEOS returns a GEOS engine with its own GEOS context.
func NewGEOS() *GEOS {
	return &GEOS{gctx: geos.NewContext()}
}

// Name implements Engine.
func (e *GEOS) Name() string { return "geos" }

// Close implements Engine.
func (e *GEOS) Close() error { return nil }

// scope tracks native geometries so they can be released together.
type scope struct {
	geoms []*geos.Geom
}

func (s *scope) keep(g *geos.Geom) *geos.Geom {
	if g != nil {
		s.geoms = append(s.geoms, g)
	}
	return g
}

func (s *scope) release() {
	for _, g := range s.geoms {
		g.Destroy()
	}
	s.geoms = nil
}

// Buffer implements Engine.
func (e *GEOS) Buffer(ctx context.Context, p BufferParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_buffer", SRID: p.Input.SRID}
	if len(p.Input.Geoms) == 0 {
		return out, nil
	}

	s := &scope{}
	defer s.release()

	var acc *geos.Geom
	for i, g := range p.Input.Geoms {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "geos: buffer")
		}
		ng, err := e.toNative(s, g)
		if err != nil {
			return nil, fault.Geometry("buffer", eris.Wrapf(err, "geos: feature %d", i))
		}
		b := s.keep(ng.Buffer(p.Distance, p.Segments))
		if !p.Dissolve {
			if b.IsEmpty() {
				continue
			}
			fg, err := fromNative(b, p.Input.SRID)
			if err != nil {
				return nil, fault.Geometry("buffer", err)
			}
			out.Geoms = append(out.Geoms, fg)
			continue
		}
		if acc == nil {
			acc = b
		} else {
			acc = s.keep(acc.Union(b))
		}
	}
	if p.Dissolve && acc != nil && !acc.IsEmpty() {
		fg, err := fromNative(acc, p.Input.SRID)
		if err != nil {
			return nil, fault.Geometry("buffer", err)
		}
		out.Geoms = []geom.T{fg}
	}
	return out, nil
}

// Merge implements Engine.
func (e *GEOS) Merge(_ context.Context, p MergeParams) (*Layer, error) {
	return MergeLayers(p)
}

// Dissolve implements Engine.
func (e *GEOS) Dissolve(ctx context.Context, p DissolveParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_dissolved", SRID: p.Input.SRID}

	s := &scope{}
	defer s.release()

	acc, err := e.unionAll(ctx, s, p.Input)
	if err != nil {
		return nil, fault.Geometry("dissolve", err)
	}
	if acc == nil || acc.IsEmpty() {
		return out, nil
	}
	fg, err := fromNative(acc, p.Input.SRID)
	if err != nil {
		return nil, fault.Geometry("dissolve", err)
	}
	out.Geoms = []geom.T{fg}
	return out, nil
}

// Intersect implements Engine.
func (e *GEOS) Intersect(ctx context.Context, p IntersectParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_clip", SRID: p.Input.SRID}

	s := &scope{}
	defer s.release()

	overlay, err := e.unionAll(ctx, s, p.Overlay)
	if err != nil {
		return nil, fault.Geometry("intersect", err)
	}
	if overlay == nil || overlay.IsEmpty() {
		return out, nil
	}
	for i, g := range p.Input.Geoms {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "geos: intersect")
		}
		ng, err := e.toNative(s, g)
		if err != nil {
			return nil, fault.Geometry("intersect", eris.Wrapf(err, "geos: feature %d", i))
		}
		clip := s.keep(ng.Intersection(overlay))
		if clip.IsEmpty() {
			continue
		}
		fg, err := fromNative(clip, p.Input.SRID)
		if err != nil {
			return nil, fault.Geometry("intersect", err)
		}
		out.Geoms = append(out.Geoms, fg)
	}
	return out, nil
}

// Area implements Engine.
func (e *GEOS) Area(_ context.Context, g geom.T) (float64, error) {
	if g == nil {
		return 0, fault.Geometry("area", eris.New("geos: area of nil geometry"))
	}
	s := &scope{}
	defer s.release()
	ng, err := e.toNative(s, g)
	if err != nil {
		return 0, fault.Geometry("area", err)
	}
	return ng.Area(), nil
}

func (e *GEOS) unionAll(ctx context.Context, s *scope, l *Layer) (*geos.Geom, error) {
	var acc *geos.Geom
	for i, g := range l.Geoms {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "geos: union")
		}
		ng, err := e.toNative(s, g)
		if err != nil {
			return nil, eris.Wrapf(err, "geos: layer %q feature %d", l.Name, i)
		}
		if acc == nil {
			acc = ng
			continue
		}
		acc = s.keep(acc.Union(ng))
	}
	return acc, nil
}

func (e *GEOS) toNative(s *scope, g geom.T) (*geos.Geom, error) {
	if g == nil {
		return nil, eris.New("geos: nil geometry")
	}
	b, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geos: encode WKB")
	}
	ng, err := e.gctx.NewGeomFromWKB(b)
	if err != nil {
		return nil, eris.Wrap(err, "geos: parse WKB")
	}
	return s.keep(ng), nil
}

func fromNative(g *geos.Geom, srid int) (geom.T, error) {
	out, err := wkb.Unmarshal(g.ToWKB())
	if err != nil {
		return nil, eris.Wrap(err, "geos: decode WKB")
	}
	return asMulti(out, srid)
}

// asMulti normalizes polygonal results to a MultiPolygon carrying srid.
func asMulti(g geom.T, srid int) (geom.T, error) {
	switch v := g.(type) {
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(v.Layout()).SetSRID(srid)
		if err := mp.Push(v); err != nil {
			return nil, eris.Wrap(err, "geos: build multipolygon")
		}
		return mp, nil
	case *geom.MultiPolygon:
		return v.SetSRID(srid), nil
	case *geom.GeometryCollection:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
		for _, c := range v.Geoms() {
			switch p := c.(type) {
			case *geom.Polygon:
				if err := mp.Push(p); err != nil {
					return nil, eris.Wrap(err, "geos: build multipolygon")
				}
			case *geom.MultiPolygon:
				for i := 0; i < p.NumPolygons(); i++ {
					if err := mp.Push(p.Polygon(i)); err != nil {
						return nil, eris.Wrap(err, "geos: build multipolygon")
					}
				}
			}
		}
		return mp, nil
	default:
		return nil, eris.Errorf("geos: unexpected result geometry %T", g)
	}
}
