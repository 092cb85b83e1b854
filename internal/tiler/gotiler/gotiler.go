// Package gotiler renders premises into a PMTiles archive of gzipped
// Mapbox Vector Tiles, using orb for geometry and internal/pmtiles for output.
package gotiler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/pmtiles"
)

// DefaultLayer is the vector layer premises are written to.
const DefaultLayer = "locali"

// MaxZoom caps the deepest level rendered.
const MaxZoom = 18

// ErrNoFeatures is returned when no record has a usable geometry.
var ErrNoFeatures = errors.New("no features with geometry to tile")

// Config controls one tiling run.
type Config struct {
	Layer   string
	MinZoom int
	MaxZoom int
}

func (c Config) normalized() Config {
	if c.Layer == "" {
		c.Layer = DefaultLayer
	}
	c.MinZoom = max(c.MinZoom, 0)
	if c.MaxZoom <= 0 || c.MaxZoom > MaxZoom {
		c.MaxZoom = min(max(c.MaxZoom, 14), MaxZoom)
	}
	c.MinZoom = min(c.MinZoom, c.MaxZoom)
	return c
}

// Summary describes a written archive.
type Summary struct {
	Features int       `json:"features"`
	Tiles    int       `json:"tiles"`
	Bytes    int64     `json:"bytes"`
	Bound    orb.Bound `json:"-"`
}

// PremiseFeatures converts stored premises into tileable features. The
// stored geometry is used when present, else a Point at the coordinates;
// records with neither are skipped.
func PremiseFeatures(premises []domain.Premise) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range premises {
		g := premiseGeometry(p)
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		f.Properties["id"] = p.ID
		f.Properties["indirizzo"] = p.Address
		f.Properties["stato"] = string(p.Status)
		f.Properties["superficie"] = p.Surface
		f.Properties["canone"] = p.Rent
		f.Properties["conduttore"] = p.Tenant
		fc.Append(f)
	}
	return fc
}

func premiseGeometry(p domain.Premise) orb.Geometry {
	if domain.HasGeometry(p.Geometry) {
		if g, err := geojson.UnmarshalGeometry(p.Geometry); err == nil && g.Geometry() != nil {
			return g.Geometry()
		}
	}
	if p.Coordinates != nil {
		return *p.Coordinates
	}
	return nil
}

// Encode renders fc into an in-memory archive.
func Encode(fc *geojson.FeatureCollection, cfg Config) ([]byte, Summary, error) {
	cfg = cfg.normalized()
	if fc == nil || len(fc.Features) == 0 {
		return nil, Summary{}, ErrNoFeatures
	}

	bound := fc.Features[0].Geometry.Bound()
	for _, f := range fc.Features[1:] {
		bound = bound.Union(f.Geometry.Bound())
	}

	var tiles []pmtiles.Tile
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		for t, data := range renderZoom(fc, maptile.Zoom(z), cfg.Layer) {
			tiles = append(tiles, pmtiles.Tile{Z: uint8(t.Z), X: t.X, Y: t.Y, Data: data})
		}
	}
	if len(tiles) == 0 {
		return nil, Summary{}, ErrNoFeatures
	}

	var buf bytes.Buffer
	n, err := pmtiles.Write(&buf, pmtiles.Archive{
		TileType:        pmtiles.Mvt,
		TileCompression: pmtiles.Gzip,
		MinZoom:         uint8(cfg.MinZoom),
		MaxZoom:         uint8(cfg.MaxZoom),
		Bound:           [4]float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
		CenterZoom:      uint8((cfg.MinZoom + cfg.MaxZoom) / 2),
		Metadata: map[string]any{
			"name":        cfg.Layer,
			"format":      "pbf",
			"compression": "gzip",
			"minzoom":     cfg.MinZoom,
			"maxzoom":     cfg.MaxZoom,
			"vector_layers": []map[string]any{{
				"id":      cfg.Layer,
				"minzoom": cfg.MinZoom,
				"maxzoom": cfg.MaxZoom,
				"fields": map[string]string{
					"id": "String", "indirizzo": "String", "stato": "String",
					"superficie": "Number", "canone": "Number", "conduttore": "String",
				},
			}},
		},
	}, tiles)
	if err != nil {
		return nil, Summary{}, err
	}
	return buf.Bytes(), Summary{Features: len(fc.Features), Tiles: len(tiles), Bytes: n, Bound: bound}, nil
}

// WriteFile renders fc and writes the archive to path.
func WriteFile(path string, fc *geojson.FeatureCollection, cfg Config) (Summary, error) {
	data, sum, err := Encode(fc, cfg)
	if err != nil {
		return sum, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sum, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return sum, fmt.Errorf("writing %s: %w", path, err)
	}
	return sum, nil
}

// renderZoom buckets features by the tiles their bounds cover and encodes
// each non-empty tile.
func renderZoom(fc *geojson.FeatureCollection, z maptile.Zoom, layer string) map[maptile.Tile][]byte {
	buckets := make(map[maptile.Tile][]*geojson.Feature)
	for _, f := range fc.Features {
		for _, t := range tilesInBounds(f.Geometry.Bound(), z) {
			buckets[t] = append(buckets[t], f)
		}
	}

	out := make(map[maptile.Tile][]byte, len(buckets))
	for t, features := range buckets {
		if data := encodeTile(t, features, layer); len(data) > 0 {
			out[t] = data
		}
	}
	return out
}

// encodeTile returns the gzipped MVT for one tile, or nil when nothing
// survives clipping.
func encodeTile(t maptile.Tile, features []*geojson.Feature, layerName string) []byte {
	bound := t.Bound()
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if !intersects(f.Geometry, bound) {
			continue
		}
		// Clip and ProjectToTile mutate in place; the same feature is
		// rendered into several tiles.
		clone := geojson.NewFeature(orb.Clone(f.Geometry))
		for k, v := range f.Properties {
			clone.Properties[k] = v
		}
		fc.Append(clone)
	}
	if len(fc.Features) == 0 {
		return nil
	}

	layer := mvt.NewLayer(layerName, fc)
	if eps := simplifyEpsilon(t.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(t)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil
	}
	return data
}

// intersects refines a bound check for the geometry types premises use.
func intersects(g orb.Geometry, tile orb.Bound) bool {
	if !g.Bound().Intersects(tile) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return tile.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if tile.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tile.Contains(p) {
					return true
				}
			}
		}
		// the polygon may cover the whole tile
		for _, p := range []orb.Point{tile.Min, tile.Max, {tile.Min[0], tile.Max[1]}, {tile.Max[0], tile.Min[1]}, tile.Center()} {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range g {
			if intersects(poly, tile) {
				return true
			}
		}
		return false
	}
	return true
}

func tilesInBounds(b orb.Bound, z maptile.Zoom) []maptile.Tile {
	lo := maptile.At(b.Min, z)
	hi := maptile.At(b.Max, z)
	minX, maxX := min(lo.X, hi.X), max(lo.X, hi.X)
	minY, maxY := min(lo.Y, hi.Y), max(lo.Y, hi.Y)

	tiles := make([]maptile.Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

// simplifyEpsilon is the Douglas-Peucker tolerance in degrees. Premise
// footprints are tens of metres wide (~0.0002°), so tolerances stay well
// below that.
func simplifyEpsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 15:
		return 0
	case z >= 12:
		return 0.000002
	default:
		return 0.00001
	}
}
