package dataset

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// Load reads the dataset at path. Shapefiles (.shp), zipped shapefiles
// (.zip) and GeoJSON (.geojson, .json) are supported.
func Load(path string) (*Dataset, error) {
	if path == "" {
		return nil, fault.Missing("load", "dataset path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fault.Wrap(fault.MissingInput, "load", eris.Wrapf(err, "dataset: stat %s", path))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return loadShapefile(path)
	case ".zip":
		return loadZIP(path)
	case ".geojson", ".json":
		return loadGeoJSON(path)
	default:
		return nil, fault.Invalid("load", "unsupported dataset format %q", filepath.Ext(path))
	}
}

func loadShapefile(path string) (*Dataset, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.MissingInput, "load", eris.Wrapf(err, "dataset: open shapefile %s", path))
	}
	defer func() { _ = reader.Close() }()

	ds := &Dataset{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}

	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}
		ds.Features = append(ds.Features, Feature{ID: n, Geometry: g})
	}
	if err := reader.Err(); err != nil {
		return nil, fault.Wrap(fault.MissingInput, "load", eris.Wrapf(err, "dataset: read shapefile %s", path))
	}
	if skipped > 0 {
		zap.L().Debug("dataset: skipped shapefile records",
			zap.String("dataset", ds.Name),
			zap.Int("skipped", skipped),
		)
	}

	prj, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	switch {
	case err == nil:
		ds.PRJ = strings.TrimSpace(string(prj))
	case !os.IsNotExist(err):
		return nil, fault.Wrap(fault.MissingInput, "load", eris.Wrapf(err, "dataset: read projection for %s", path))
	}

	zap.L().Debug("dataset: loaded shapefile",
		zap.String("dataset", ds.Name),
		zap.Int("features", len(ds.Features)),
	)
	return ds, nil
}

func loadZIP(path string) (*Dataset, error) {
	tmp, err := os.MkdirTemp("", "nutrient-buffer-*")
	if err != nil {
		return nil, eris.Wrap(err, "dataset: create temp dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	if err := extractZIP(path, tmp); err != nil {
		return nil, fault.Wrap(fault.MissingInput, "load", eris.Wrapf(err, "dataset: extract %s", path))
	}
	shpPath, err := findFileByExt(tmp, ".shp")
	if err != nil {
		return nil, fault.Wrap(fault.MissingInput, "load", eris.Wrapf(err, "dataset: %s", path))
	}
	ds, err := loadShapefile(shpPath)
	if err != nil {
		return nil, err
	}
	ds.Path = path
	return ds, nil
}

func loadGeoJSON(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.MissingInput, "load", eris.Wrapf(err, "dataset: read %s", path))
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fault.Wrap(fault.InvalidArgument, "load", eris.Wrapf(err, "dataset: decode GeoJSON %s", path))
	}
	ds := &Dataset{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		ds.Features = append(ds.Features, Feature{ID: i, Geometry: f.Geometry})
	}
	return ds, nil
}

// extractZIP extracts every file of a zip archive flat into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}
		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}
		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}
	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}

// shapeToGeom converts a go-shp shape to a 2D go-geom geometry. Z and M
// ordinates are dropped. Shapes without parts become empty geometries of
// their kind; null shapes return nil.
func shapeToGeom(s shp.Shape) geom.T {
	switch v := s.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{v.X, v.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{v.X, v.Y})
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{v.X, v.Y})
	case *shp.MultiPoint:
		return multiPoint(v.Points)
	case *shp.MultiPointZ:
		return multiPoint(v.Points)
	case *shp.MultiPointM:
		return multiPoint(v.Points)
	case *shp.PolyLine:
		return multiLineString(v.Parts, v.Points)
	case *shp.PolyLineZ:
		return multiLineString(v.Parts, v.Points)
	case *shp.PolyLineM:
		return multiLineString(v.Parts, v.Points)
	case *shp.Polygon:
		return multiPolygon(v.Parts, v.Points)
	case *shp.PolygonZ:
		return multiPolygon(v.Parts, v.Points)
	case *shp.PolygonM:
		return multiPolygon(v.Parts, v.Points)
	default:
		return nil
	}
}

func multiPoint(pts []shp.Point) geom.T {
	return geom.NewMultiPointFlat(geom.XY, flatten(pts))
}

// splitParts slices a shape's point array at its part offsets.
func splitParts(parts []int32, pts []shp.Point) [][]shp.Point {
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(pts)) || start >= end {
			continue
		}
		out = append(out, pts[start:end])
	}
	return out
}

func multiLineString(parts []int32, pts []shp.Point) geom.T {
	mls := geom.NewMultiLineString(geom.XY)
	for i, part := range splitParts(parts, pts) {
		if len(part) < 2 {
			continue
		}
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flatten(part))); err != nil {
			zap.L().Debug("dataset: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	return mls
}

// multiPolygon assembles shapefile rings into polygons. Clockwise rings are
// shells; counter-clockwise rings are holes of the preceding shell. Rings are
// returned counter-clockwise for shells and clockwise for holes.
func multiPolygon(parts []int32, pts []shp.Point) geom.T {
	mp := geom.NewMultiPolygon(geom.XY)
	var shells [][][]float64
	for _, part := range splitParts(parts, pts) {
		if len(part) < 4 {
			continue
		}
		ring := flatten(part)
		if !counterClockwise(ring) || len(shells) == 0 {
			shells = append(shells, [][]float64{orient(ring, true)})
			continue
		}
		shells[len(shells)-1] = append(shells[len(shells)-1], orient(ring, false))
	}
	for i, rings := range shells {
		var flat []float64
		ends := make([]int, 0, len(rings))
		for _, r := range rings {
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			zap.L().Debug("dataset: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	return mp
}

func flatten(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// counterClockwise reports the orientation of a closed flat XY ring. Rings
// too short to orient count as clockwise.
func counterClockwise(flat []float64) bool {
	if len(flat) < 8 {
		return false
	}
	return xy.IsRingCounterClockwise(geom.XY, flat)
}

// orient returns ring wound counter-clockwise when ccw is set, clockwise
// otherwise. The input is not modified.
func orient(flat []float64, ccw bool) []float64 {
	if counterClockwise(flat) == ccw || len(flat) < 8 {
		return flat
	}
	out := make([]float64, len(flat))
	for i, j := 0, len(flat)-2; j >= 0; i, j = i+2, j-2 {
		out[i], out[i+1] = flat[j], flat[j+1]
	}
	return out
}
