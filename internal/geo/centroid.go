// Package geo decodes uploaded GeoJSON and derives representative points.
package geo

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Centroid returns a representative [lng, lat] for a raw GeoJSON geometry,
// or nil when the geometry is null, unsupported or does not decode. Points
// keep their longitude and latitude; an altitude is dropped.
//
// Polygons use the plain vertex mean of the outer ring (closing vertex
// included), not an area-weighted centroid. MultiPolygons only look at the
// outer ring of their first polygon.
func Centroid(raw json.RawMessage) *orb.Point {
	if len(raw) == 0 {
		return nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil || g == nil {
		return nil
	}
	return CentroidOf(g.Geometry())
}

// CentroidOf is Centroid for an already decoded orb geometry.
func CentroidOf(g orb.Geometry) *orb.Point {
	switch t := g.(type) {
	case orb.Point:
		p := t
		return &p
	case orb.Polygon:
		if len(t) == 0 {
			return nil
		}
		return ringMean(t[0])
	case orb.MultiPolygon:
		if len(t) == 0 || len(t[0]) == 0 {
			return nil
		}
		return ringMean(t[0][0])
	}
	return nil
}

func ringMean(r orb.Ring) *orb.Point {
	if len(r) == 0 {
		return nil
	}
	var sumX, sumY float64
	for _, p := range r {
		sumX += p[0]
		sumY += p[1]
	}
	n := float64(len(r))
	return &orb.Point{sumX / n, sumY / n}
}

// MeanPoint averages a set of points, returning fallback for an empty set.
func MeanPoint(points []orb.Point, fallback orb.Point) orb.Point {
	if len(points) == 0 {
		return fallback
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p[0]
		sumY += p[1]
	}
	n := float64(len(points))
	return orb.Point{sumX / n, sumY / n}
}
