package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// idField is the single attribute written for every output feature.
const idField = "Id"

// Write saves ds to path, choosing the format from the extension.
func Write(path string, ds *Dataset) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return WriteShapefile(path, ds)
	case ".geojson", ".json":
		return WriteGeoJSON(path, ds)
	default:
		return fault.Invalid("write", "unsupported output format %q", filepath.Ext(path))
	}
}

// WriteShapefile writes ds as an ESRI shapefile with an Id attribute, and a
// .prj sidecar when ds carries one. All features must share one geometry kind.
func WriteShapefile(path string, ds *Dataset) error {
	shapeType, err := shapeTypeOf(ds)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "dataset: create directory for %s", path)
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	w, err := shp.Create(base+".shp", shapeType)
	if err != nil {
		return eris.Wrapf(err, "dataset: create shapefile %s", path)
	}
	if err := w.SetFields([]shp.Field{shp.NumberField(idField, 10)}); err != nil {
		w.Close()
		return eris.Wrapf(err, "dataset: set fields for %s", path)
	}

	for _, f := range ds.Features {
		shape, err := geomToShape(f.Geometry)
		if err != nil {
			w.Close()
			return err
		}
		row := w.Write(shape)
		if err := w.WriteAttribute(int(row), 0, f.ID); err != nil {
			w.Close()
			return eris.Wrapf(err, "dataset: write %s attribute for feature %d", idField, f.ID)
		}
	}
	w.Close()

	// go-shp names the table "<base>dbf".
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			return eris.Wrapf(err, "dataset: finalize attribute table for %s", path)
		}
	}

	if ds.PRJ != "" {
		if err := os.WriteFile(base+".prj", []byte(ds.PRJ), 0o644); err != nil {
			return eris.Wrapf(err, "dataset: write projection for %s", path)
		}
	}

	zap.L().Debug("dataset: wrote shapefile",
		zap.String("path", path),
		zap.Int("features", len(ds.Features)),
	)
	return nil
}

// WriteGeoJSON writes ds as a GeoJSON FeatureCollection.
func WriteGeoJSON(path string, ds *Dataset) error {
	fc := geojson.FeatureCollection{}
	for _, f := range ds.Features {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   f.Geometry,
			Properties: map[string]any{idField: f.ID},
		})
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return eris.Wrapf(err, "dataset: encode GeoJSON %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "dataset: create directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "dataset: write %s", path)
	}
	return nil
}

func shapeTypeOf(ds *Dataset) (shp.ShapeType, error) {
	kind := shp.POLYGON
	for i, f := range ds.Features {
		var k shp.ShapeType
		switch f.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
			k = shp.POLYGON
		case *geom.LineString, *geom.MultiLineString:
			k = shp.POLYLINE
		case *geom.Point:
			k = shp.POINT
		default:
			return 0, fault.Invalid("write", "feature %d: cannot write %T to a shapefile", f.ID, f.Geometry)
		}
		if i > 0 && k != kind {
			return 0, fault.Invalid("write", "feature %d: mixed geometry kinds in one shapefile", f.ID)
		}
		kind = k
	}
	return kind, nil
}

// geomToShape converts a go-geom geometry to a go-shp shape. Polygon shells
// are written clockwise and holes counter-clockwise.
func geomToShape(g geom.T) (shp.Shape, error) {
	switch v := g.(type) {
	case *geom.Point:
		return &shp.Point{X: v.X(), Y: v.Y()}, nil
	case *geom.LineString:
		return shp.NewPolyLine([][]shp.Point{toShpPoints(v.FlatCoords(), v.Stride())}), nil
	case *geom.MultiLineString:
		var parts [][]shp.Point
		for i := 0; i < v.NumLineStrings(); i++ {
			ls := v.LineString(i)
			parts = append(parts, toShpPoints(ls.FlatCoords(), ls.Stride()))
		}
		return shp.NewPolyLine(parts), nil
	case *geom.Polygon:
		p := shp.Polygon(*shp.NewPolyLine(polygonParts(v)))
		return &p, nil
	case *geom.MultiPolygon:
		var parts [][]shp.Point
		for i := 0; i < v.NumPolygons(); i++ {
			parts = append(parts, polygonParts(v.Polygon(i))...)
		}
		p := shp.Polygon(*shp.NewPolyLine(parts))
		return &p, nil
	default:
		return nil, fault.Invalid("write", "cannot write %T to a shapefile", g)
	}
}

func polygonParts(p *geom.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		r := p.LinearRing(i)
		pts := toShpPoints(r.FlatCoords(), r.Stride())
		ccw := counterClockwise(flatten(pts))
		if (i == 0 && ccw) || (i > 0 && !ccw) {
			reverse(pts)
		}
		parts = append(parts, pts)
	}
	return parts
}

func toShpPoints(flat []float64, stride int) []shp.Point {
	pts := make([]shp.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		pts = append(pts, shp.Point{X: flat[i], Y: flat[i+1]})
	}
	return pts
}

func reverse(pts []shp.Point) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}
