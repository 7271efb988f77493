//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/config"
	"github.com/sells-group/nutrient-buffer/internal/dataset"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testPRJ = `PROJCS["OSGB_1936_British_National_Grid",GEOGCS["GCS_OSGB_1936"]]`

func testConfig() *config.Config {
	c := &config.Config{}
	c.Engine.Driver = "planar"
	c.Engine.Segments = 10
	c.Exclusion.WaterwayMargin = 50
	c.Exclusion.RoadMargin = 40
	c.Exclusion.Segments = 5
	c.Run.Iterations = 5
	return c
}

// writeInputs writes a farm point, one stream and one road into dir.
func writeInputs(t *testing.T, dir string) runOptions {
	t.Helper()
	opts := runOptions{
		Point:      filepath.Join(dir, "farm.shp"),
		Waterways:  filepath.Join(dir, "streams.shp"),
		Roads:      filepath.Join(dir, "roads.shp"),
		Mass:       500,
		Compound:   "Nitrogen",
		Iterations: 3,
		Out:        filepath.Join(dir, "out", "dispersal_area.shp"),
		Format:     "json",
	}
	farm := geom.NewPointFlat(geom.XY, []float64{400000, 300000})
	stream := geom.NewLineStringFlat(geom.XY, []float64{399500, 299000, 399500, 301000})
	road := geom.NewLineStringFlat(geom.XY, []float64{398000, 300300, 402000, 300300})

	require.NoError(t, dataset.WriteShapefile(opts.Point, &dataset.Dataset{PRJ: testPRJ, Features: []dataset.Feature{{Geometry: farm}}}))
	require.NoError(t, dataset.WriteShapefile(opts.Waterways, &dataset.Dataset{PRJ: testPRJ, Features: []dataset.Feature{{Geometry: stream}}}))
	require.NoError(t, dataset.WriteShapefile(opts.Roads, &dataset.Dataset{PRJ: testPRJ, Features: []dataset.Feature{{Geometry: road}}}))
	return opts
}

func TestRunDispersal_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)

	var buf bytes.Buffer
	require.NoError(t, runDispersal(context.Background(), testConfig(), opts, &buf))

	var rep map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))
	assert.Equal(t, "planar", rep["engine"])
	areas, ok := rep["areas"].([]any)
	require.True(t, ok)
	assert.Len(t, areas, 4)
	assert.Greater(t, areas[3].(float64), areas[0].(float64))
	excluded, ok := rep["excluded_areas"].([]any)
	require.True(t, ok)
	for i := 1; i < len(excluded); i++ {
		// The stream lies west and the road north of the farm.
		assert.Positive(t, excluded[i].(float64), "excluded_areas[%d]", i)
	}

	out, err := dataset.Load(opts.Out)
	require.NoError(t, err)
	assert.Equal(t, testPRJ, out.PRJ)
	require.Len(t, out.Features, 1)
	_, ok = out.Features[0].Geometry.(*geom.MultiPolygon)
	assert.True(t, ok)
}

func TestRunDispersal_ZeroMassWritesEmptyFeature(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)
	opts.Mass = 0
	opts.Format = "text"

	var buf bytes.Buffer
	require.NoError(t, runDispersal(context.Background(), testConfig(), opts, &buf))
	assert.Contains(t, buf.String(), "This is undefined% larger than original area")

	out, err := dataset.Load(opts.Out)
	require.NoError(t, err)
	require.Len(t, out.Features, 1)
	mp, ok := out.Features[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 0, mp.NumPolygons())
}

func TestRunDispersal_KeepIntermediate(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)
	opts.Iterations = 2
	opts.Format = "text"
	opts.KeepIntermediate = filepath.Join(dir, "iterations")

	var buf bytes.Buffer
	require.NoError(t, runDispersal(context.Background(), testConfig(), opts, &buf))
	assert.Contains(t, buf.String(), "t of broiler waste contains")

	for _, name := range []string{"buffer_0", "buffer_1", "buffer_2", "clip_1", "clip_2"} {
		assert.FileExists(t, filepath.Join(opts.KeepIntermediate, name+".shp"))
	}
	assert.NoFileExists(t, filepath.Join(opts.KeepIntermediate, "clip_0.shp"))
}

func TestRunDispersal_UnknownCompound(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)
	opts.Compound = "Sulfur"

	err := runDispersal(context.Background(), testConfig(), opts, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.InvalidArgument))
	assert.NoFileExists(t, opts.Out)
}

func TestRunDispersal_MissingDataset(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)
	opts.Roads = filepath.Join(dir, "absent.shp")

	err := runDispersal(context.Background(), testConfig(), opts, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.MissingInput))
	assert.Contains(t, err.Error(), "road dataset")
}

func TestRunDispersal_NegativeMass(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)
	opts.Mass = -1

	err := runDispersal(context.Background(), testConfig(), opts, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.InvalidArgument))
}

func TestRunDispersal_BadFormat(t *testing.T) {
	err := runDispersal(context.Background(), testConfig(), runOptions{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.InvalidArgument))
}

func TestRunDispersal_UnknownEngine(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)
	c := testConfig()
	c.Engine.Driver = "arcpy"

	err := runDispersal(context.Background(), c, opts, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.InvalidArgument))
}
