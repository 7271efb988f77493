package engine

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/db"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

func init() {
	Register("postgis", func(ctx context.Context, opts Options) (Engine, error) {
		pool, err := db.Connect(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e := NewPostGIS(pool)
		if err := e.Check(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return e, nil
	})
}

const (
	bufferDissolveSQL = `
		SELECT ST_AsEWKB(ST_Multi(ST_Union(ST_Buffer(ST_GeomFromEWKB(w), $2, $3))))
		FROM unnest($1::bytea[]) AS t(w)`

	bufferSQL = `
		SELECT ST_AsEWKB(ST_Multi(ST_Buffer(ST_GeomFromEWKB(w), $2, $3)))
		FROM unnest($1::bytea[]) WITH ORDINALITY AS t(w, n)
		ORDER BY n`

	dissolveSQL = `
		SELECT ST_AsEWKB(ST_Multi(ST_Union(ST_GeomFromEWKB(w))))
		FROM unnest($1::bytea[]) AS t(w)`

	intersectSQL = `
		WITH overlay AS (
			SELECT ST_Union(ST_GeomFromEWKB(o)) AS g FROM unnest($2::bytea[]) AS t(o)
		)
		SELECT ST_AsEWKB(ST_Multi(ST_CollectionExtract(ST_Intersection(ST_GeomFromEWKB(w), overlay.g), 3)))
		FROM unnest($1::bytea[]) WITH ORDINALITY AS t(w, n), overlay
		WHERE ST_Intersects(ST_GeomFromEWKB(w), overlay.g)
		ORDER BY n`

	areaSQL = `SELECT ST_Area(ST_GeomFromEWKB($1))`
)

// PostGIS runs every geometry operation as a single SQL statement against a
// PostGIS-enabled database. Geometries travel as EWKB.
type PostGIS struct {
	pool db.Pool
}

// NewPostGIS returns a PostGIS engine on pool. The engine owns the pool and
// closes it on Close.
func NewPostGIS(pool db.Pool) *PostGIS {
	return &PostGIS{pool: pool}
}

// Name implements Engine.
func (e *PostGIS) Name() string { return "postgis" }

// Close implements Engine.
func (e *PostGIS) Close() error {
	e.pool.Close()
	return nil
}

// Check verifies the PostGIS extension is installed.
func (e *PostGIS) Check(ctx context.Context) error {
	var version string
	if err := e.pool.QueryRow(ctx, `SELECT PostGIS_Version()`).Scan(&version); err != nil {
		return eris.Wrap(err, "postgis: extension check")
	}
	zap.L().Debug("postgis: connected", zap.String("version", version))
	return nil
}

// Buffer implements Engine.
func (e *PostGIS) Buffer(ctx context.Context, p BufferParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_buffer", SRID: p.Input.SRID}
	if len(p.Input.Geoms) == 0 {
		return out, nil
	}

	in, err := encodeLayer(p.Input)
	if err != nil {
		return nil, fault.Geometry("buffer", err)
	}
	style := fmt.Sprintf("quad_segs=%d", p.Segments)

	sql := bufferSQL
	if p.Dissolve {
		sql = bufferDissolveSQL
	}
	geoms, err := e.queryGeoms(ctx, sql, in, p.Distance, style)
	if err != nil {
		return nil, fault.Geometry("buffer", eris.Wrap(err, "postgis: buffer"))
	}
	out.Geoms = geoms
	return out, nil
}

// Merge implements Engine.
func (e *PostGIS) Merge(_ context.Context, p MergeParams) (*Layer, error) {
	return MergeLayers(p)
}

// Dissolve implements Engine.
func (e *PostGIS) Dissolve(ctx context.Context, p DissolveParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_dissolved", SRID: p.Input.SRID}
	if len(p.Input.Geoms) == 0 {
		return out, nil
	}

	in, err := encodeLayer(p.Input)
	if err != nil {
		return nil, fault.Geometry("dissolve", err)
	}
	geoms, err := e.queryGeoms(ctx, dissolveSQL, in)
	if err != nil {
		return nil, fault.Geometry("dissolve", eris.Wrap(err, "postgis: dissolve"))
	}
	out.Geoms = geoms
	return out, nil
}

// Intersect implements Engine.
func (e *PostGIS) Intersect(ctx context.Context, p IntersectParams) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := &Layer{Name: p.Input.Name + "_clip", SRID: p.Input.SRID}
	if len(p.Input.Geoms) == 0 || len(p.Overlay.Geoms) == 0 {
		return out, nil
	}

	in, err := encodeLayer(p.Input)
	if err != nil {
		return nil, fault.Geometry("intersect", err)
	}
	overlay, err := encodeLayer(p.Overlay)
	if err != nil {
		return nil, fault.Geometry("intersect", err)
	}
	geoms, err := e.queryGeoms(ctx, intersectSQL, in, overlay)
	if err != nil {
		return nil, fault.Geometry("intersect", eris.Wrap(err, "postgis: intersect"))
	}
	out.Geoms = geoms
	return out, nil
}

// Area implements Engine.
func (e *PostGIS) Area(ctx context.Context, g geom.T) (float64, error) {
	if g == nil {
		return 0, fault.Geometry("area", eris.New("postgis: area of nil geometry"))
	}
	b, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return 0, fault.Geometry("area", eris.Wrap(err, "postgis: encode EWKB"))
	}
	var area float64
	if err := e.pool.QueryRow(ctx, areaSQL, b).Scan(&area); err != nil {
		return 0, fault.Geometry("area", eris.Wrap(err, "postgis: area"))
	}
	return area, nil
}

// queryGeoms runs sql and decodes one EWKB geometry per row. NULL rows
// (an aggregate over nothing) are skipped.
func (e *PostGIS) queryGeoms(ctx context.Context, sql string, args ...any) ([]geom.T, error) {
	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []geom.T
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, eris.Wrap(err, "scan geometry")
		}
		if b == nil {
			continue
		}
		g, err := ewkb.Unmarshal(b)
		if err != nil {
			return nil, eris.Wrap(err, "decode EWKB")
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate geometry rows")
	}
	return out, nil
}

func encodeLayer(l *Layer) ([][]byte, error) {
	out := make([][]byte, 0, len(l.Geoms))
	for i, g := range l.Geoms {
		if g == nil {
			return nil, eris.Errorf("postgis: layer %q feature %d has no geometry", l.Name, i)
		}
		b, err := ewkb.Marshal(g, ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "postgis: encode layer %q feature %d", l.Name, i)
		}
		out = append(out, b)
	}
	return out, nil
}
