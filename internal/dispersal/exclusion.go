// Package dispersal computes the land area needed to spread a nutrient
// compound from a single source point, correcting the dispersal radius for
// land lost to buffered waterways and roads.
package dispersal

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/engine"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// Default exclusion margins, in CRS distance units.
const (
	DefaultWaterwayMargin = 50.0
	DefaultRoadMargin     = 40.0
	// DefaultExclusionSegments is the segments per quarter circle used for
	// the rounded ends of corridor buffers.
	DefaultExclusionSegments = 5
)

// ExclusionParams configures BuildExclusionZone.
type ExclusionParams struct {
	Waterways      *engine.Layer
	Roads          *engine.Layer
	WaterwayMargin float64
	RoadMargin     float64
	Segments       int
}

// Validate checks the parameters before any geometry operation runs.
func (p ExclusionParams) Validate() error {
	if p.Waterways == nil {
		return fault.Missing("exclusion zone", "waterway dataset is required")
	}
	if p.Roads == nil {
		return fault.Missing("exclusion zone", "road dataset is required")
	}
	if !finite(p.WaterwayMargin) || p.WaterwayMargin < 0 {
		return fault.Invalid("exclusion zone", "waterway margin must be finite and non-negative, got %v", p.WaterwayMargin)
	}
	if !finite(p.RoadMargin) || p.RoadMargin < 0 {
		return fault.Invalid("exclusion zone", "road margin must be finite and non-negative, got %v", p.RoadMargin)
	}
	if p.Segments < 1 {
		return fault.Invalid("exclusion zone", "segments must be at least 1, got %d", p.Segments)
	}
	return nil
}

// BuildExclusionZone buffers waterways and roads by their margins, merges
// the two corridor layers and dissolves them into one seamless polygon
// layer of land that cannot receive compound.
func BuildExclusionZone(ctx context.Context, e engine.Engine, p ExclusionParams) (*engine.Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "exclusion"))

	water, err := e.Buffer(ctx, engine.BufferParams{
		Input:    p.Waterways,
		Distance: p.WaterwayMargin,
		Dissolve: true,
		Segments: p.Segments,
	})
	if err != nil {
		return nil, eris.Wrap(err, "exclusion: buffer waterways")
	}

	roads, err := e.Buffer(ctx, engine.BufferParams{
		Input:    p.Roads,
		Distance: p.RoadMargin,
		Dissolve: true,
		Segments: p.Segments,
	})
	if err != nil {
		return nil, eris.Wrap(err, "exclusion: buffer roads")
	}

	merged, err := e.Merge(ctx, engine.MergeParams{Name: "exclusion_merged", Layers: []*engine.Layer{water, roads}})
	if err != nil {
		return nil, eris.Wrap(err, "exclusion: merge corridors")
	}

	zone, err := e.Dissolve(ctx, engine.DissolveParams{Input: merged})
	if err != nil {
		return nil, eris.Wrap(err, "exclusion: dissolve corridors")
	}
	zone.Name = "exclusion_zone"

	log.Debug("exclusion zone built",
		zap.Int("waterway_features", p.Waterways.Len()),
		zap.Int("road_features", p.Roads.Len()),
		zap.Int("zone_parts", zone.Len()),
	)
	return zone, nil
}
