package dataset

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const utm17 = `PROJCS["NAD_1983_UTM_Zone_17N",GEOGCS["GCS_North_American_1983"]]`

func squareWithHole() *geom.MultiPolygon {
	return geom.NewMultiPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		4, 4, 4, 6, 6, 6, 6, 4, 4, 4,
	}, [][]int{{10, 20}})
}

func point(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func TestShapefileRoundTrip_Polygon(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "final_area.shp")

	ds := &Dataset{Name: "final_area", PRJ: utm17, Features: []Feature{{ID: 0, Geometry: squareWithHole()}}}
	require.NoError(t, WriteShapefile(path, ds))

	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		assert.FileExists(t, filepath.Join(dir, "final_area"+ext))
	}

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "final_area", got.Name)
	assert.Equal(t, utm17, got.PRJ)
	require.Len(t, got.Features, 1)

	mp, ok := got.Features[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.InDelta(t, 96.0, mp.Area(), 1e-9)
}

func TestShapefileRoundTrip_EmptyPolygon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispersal_area.shp")
	ds := &Dataset{Name: "dispersal_area", Features: []Feature{{ID: 0, Geometry: geom.NewMultiPolygon(geom.XY)}}}
	require.NoError(t, WriteShapefile(path, ds))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.Features, 1)
	assert.Equal(t, 0, got.Features[0].ID)
	mp, ok := got.Features[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 0, mp.NumPolygons())
}

func TestLoad_PolygonRingsFollowGeoJSONWinding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zone.shp")
	require.NoError(t, WriteShapefile(path, &Dataset{Features: []Feature{{Geometry: squareWithHole()}}}))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.Features, 1)
	poly := got.Features[0].Geometry.(*geom.MultiPolygon).Polygon(0)
	require.Equal(t, 2, poly.NumLinearRings())
	assert.True(t, counterClockwise(poly.LinearRing(0).FlatCoords()))
	assert.False(t, counterClockwise(poly.LinearRing(1).FlatCoords()))
}

func TestShapefileRoundTrip_Lines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roads.shp")
	line := geom.NewLineStringFlat(geom.XY, []float64{0, 0, 100, 0, 100, 50})
	ds := &Dataset{Name: "roads", Features: []Feature{{ID: 0, Geometry: line}}}
	require.NoError(t, WriteShapefile(path, ds))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.Features, 1)
	mls, ok := got.Features[0].Geometry.(*geom.MultiLineString)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 100, 0, 100, 50}, mls.FlatCoords())
	assert.Empty(t, got.PRJ)
}

func TestSinglePoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farm.shp")
	require.NoError(t, WriteShapefile(path, &Dataset{Features: []Feature{{Geometry: point(1000, 2000)}}}))

	ds, err := Load(path)
	require.NoError(t, err)
	l, err := ds.SinglePoint()
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	p, ok := l.Geoms[0].(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 1000.0, p.X())
	assert.Equal(t, 2000.0, p.Y())
}

func TestSinglePoint_Errors(t *testing.T) {
	empty := &Dataset{Name: "none"}
	_, err := empty.SinglePoint()
	assert.True(t, fault.Is(err, fault.MissingInput))

	two := &Dataset{Name: "two", Features: []Feature{{Geometry: point(0, 0)}, {ID: 1, Geometry: point(1, 1)}}}
	_, err = two.SinglePoint()
	assert.True(t, fault.Is(err, fault.InvalidArgument))

	multi := &Dataset{Name: "multi", Features: []Feature{{Geometry: geom.NewMultiPointFlat(geom.XY, []float64{0, 0, 1, 1})}}}
	_, err = multi.SinglePoint()
	assert.True(t, fault.Is(err, fault.InvalidArgument))

	poly := &Dataset{Name: "poly", Features: []Feature{{Geometry: squareWithHole()}}}
	_, err = poly.SinglePoint()
	assert.True(t, fault.Is(err, fault.InvalidArgument))
}

func TestLoad_ZIP(t *testing.T) {
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "streams.shp")
	line := geom.NewLineStringFlat(geom.XY, []float64{0, 0, 10, 10})
	require.NoError(t, WriteShapefile(shpPath, &Dataset{PRJ: utm17, Features: []Feature{{Geometry: line}}}))

	zipPath := filepath.Join(dir, "streams.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		w, err := zw.Create("data/streams" + ext)
		require.NoError(t, err)
		src, err := os.Open(filepath.Join(dir, "streams"+ext))
		require.NoError(t, err)
		_, err = io.Copy(w, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	ds, err := Load(zipPath)
	require.NoError(t, err)
	assert.Equal(t, zipPath, ds.Path)
	assert.Equal(t, utm17, ds.PRJ)
	assert.Len(t, ds.Features, 1)
}

func TestLoad_ZIPWithoutShapefile(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "empty.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("no data"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	_, err = Load(zipPath)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.MissingInput))
}

func TestGeoJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "final.geojson")
	ds := &Dataset{Name: "final", Features: []Feature{{ID: 0, Geometry: squareWithHole()}}}
	require.NoError(t, Write(path, ds))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)
	assert.Contains(t, string(data), `"Id":0`)

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.Features, 1)
	mp, ok := got.Features[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.InDelta(t, 96.0, mp.Area(), 1e-9)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.True(t, fault.Is(err, fault.MissingInput))

	_, err = Load(filepath.Join(t.TempDir(), "absent.shp"))
	assert.True(t, fault.Is(err, fault.MissingInput))

	txt := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, err = Load(txt)
	assert.True(t, fault.Is(err, fault.InvalidArgument))

	bad := filepath.Join(t.TempDir(), "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(bad)
	assert.True(t, fault.Is(err, fault.InvalidArgument))
}

func TestWrite_Errors(t *testing.T) {
	ds := &Dataset{Features: []Feature{{Geometry: point(0, 0)}}}
	err := Write(filepath.Join(t.TempDir(), "out.kml"), ds)
	assert.True(t, fault.Is(err, fault.InvalidArgument))

	mixed := &Dataset{Features: []Feature{{Geometry: point(0, 0)}, {ID: 1, Geometry: squareWithHole()}}}
	err = WriteShapefile(filepath.Join(t.TempDir(), "mixed.shp"), mixed)
	assert.True(t, fault.Is(err, fault.InvalidArgument))
}

func TestSameCRS(t *testing.T) {
	a := &Dataset{Name: "a", PRJ: utm17}
	b := &Dataset{Name: "b", PRJ: "PROJCS[\"NAD_1983_UTM_Zone_17N\",\n  GEOGCS[\"GCS_North_American_1983\"]]"}
	c := &Dataset{Name: "c", PRJ: `GEOGCS["GCS_WGS_1984"]`}
	none := &Dataset{Name: "none"}

	assert.True(t, SameCRS(a, b))
	assert.False(t, SameCRS(a, c))
	assert.True(t, SameCRS(a, none))
	WarnCRS(a, b, c, none)
}

func TestLayerAndFromLayer(t *testing.T) {
	ds := &Dataset{Name: "src", Features: []Feature{{Geometry: point(0, 0)}, {ID: 1, Geometry: point(1, 1)}}}
	l := ds.Layer()
	assert.Equal(t, "src", l.Name)
	assert.Equal(t, 2, l.Len())

	back := FromLayer(l, utm17)
	assert.Equal(t, utm17, back.PRJ)
	require.Len(t, back.Features, 2)
	assert.Equal(t, 1, back.Features[1].ID)
}

func TestMultiPolygon_ShellOrientation(t *testing.T) {
	// Two clockwise shells become two polygons.
	g := multiPolygon([]int32{0, 5}, []shp.Point{
		{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0},
		{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 5}, {X: 5, Y: 5},
	})
	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.InDelta(t, 2.0, mp.Area(), 1e-9)
}
