package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

func TestNames_Builtins(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "planar")
	assert.Contains(t, names, "postgis")
	assert.IsIncreasing(t, names)
}

func TestOpen_Planar(t *testing.T) {
	e, err := Open(context.Background(), "planar", Options{})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, "planar", e.Name())
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), "arcpy", Options{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.InvalidArgument))
	assert.Contains(t, err.Error(), "arcpy")
}

func TestOpen_PostGISRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "postgis", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestMergeLayers_DefaultName(t *testing.T) {
	out, err := MergeLayers(MergeParams{Layers: []*Layer{pointLayer(0, 0), pointLayer(1, 1)}})
	require.NoError(t, err)
	assert.Equal(t, "merged", out.Name)
	assert.Equal(t, 2, out.Len())
}

func TestLayer_LenNil(t *testing.T) {
	var l *Layer
	assert.Equal(t, 0, l.Len())
}
