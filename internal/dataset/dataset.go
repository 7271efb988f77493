// Package dataset reads and writes the vector datasets a dispersal run
// consumes and produces: ESRI shapefiles (optionally zipped) and GeoJSON.
package dataset

import (
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/engine"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// Feature is one record of a dataset.
type Feature struct {
	ID       int
	Geometry geom.T
}

// Dataset is an in-memory vector dataset.
type Dataset struct {
	Name     string
	Path     string
	PRJ      string // WKT of the .prj sidecar, empty when absent
	Features []Feature
}

// Layer returns the dataset's geometries as an engine layer.
func (d *Dataset) Layer() *engine.Layer {
	l := &engine.Layer{Name: d.Name, Geoms: make([]geom.T, 0, len(d.Features))}
	for _, f := range d.Features {
		l.Geoms = append(l.Geoms, f.Geometry)
	}
	return l
}

// FromLayer wraps an engine layer as a dataset, numbering features from 0.
func FromLayer(l *engine.Layer, prj string) *Dataset {
	d := &Dataset{Name: l.Name, PRJ: prj}
	for i, g := range l.Geoms {
		d.Features = append(d.Features, Feature{ID: i, Geometry: g})
	}
	return d
}

// SinglePoint returns the dataset's only point as a one-feature layer.
func (d *Dataset) SinglePoint() (*engine.Layer, error) {
	var points []geom.T
	for _, f := range d.Features {
		switch g := f.Geometry.(type) {
		case *geom.Point:
			points = append(points, g)
		case *geom.MultiPoint:
			for i := 0; i < g.NumPoints(); i++ {
				points = append(points, g.Point(i))
			}
		default:
			return nil, fault.Invalid("source point", "dataset %q holds %T, want points", d.Name, f.Geometry)
		}
	}
	switch len(points) {
	case 0:
		return nil, fault.Missing("source point", "dataset %q has no point", d.Name)
	case 1:
		return &engine.Layer{Name: d.Name, Geoms: points}, nil
	default:
		return nil, fault.Invalid("source point", "dataset %q has %d points, want exactly 1", d.Name, len(points))
	}
}

// SameCRS reports whether a and b declare the same coordinate reference
// system. Datasets without a .prj are assumed to match anything.
func SameCRS(a, b *Dataset) bool {
	if a.PRJ == "" || b.PRJ == "" {
		return true
	}
	return normalizePRJ(a.PRJ) == normalizePRJ(b.PRJ)
}

// WarnCRS logs a warning for every dataset whose CRS differs from ref.
func WarnCRS(ref *Dataset, others ...*Dataset) {
	for _, o := range others {
		if !SameCRS(ref, o) {
			zap.L().Warn("dataset: coordinate reference systems differ",
				zap.String("reference", ref.Name),
				zap.String("dataset", o.Name),
			)
		}
	}
}

func normalizePRJ(s string) string {
	return strings.Join(strings.Fields(s), "")
}
