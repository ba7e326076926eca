// Package geo implements the polygon containment test used to resolve
// pickup coordinates against service-area zones.
package geo

import (
	"encoding/json"
	"fmt"
)

// Point is a geographic coordinate (WGS84).
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Ring is a closed sequence of positions. GeoJSON convention: the first and
// last position are identical and a ring has at least four positions.
type Ring []Point

// Polygon is an outer ring followed by zero or more holes.
type Polygon []Ring

// Geometry is a Polygon or MultiPolygon in geographic coordinates, as drawn
// by the service-area editor. It marshals to and from GeoJSON geometry
// objects (coordinates in [lng, lat] order).
type Geometry struct {
	Type     string
	Polygons []Polygon // one entry for Polygon, one per member for MultiPolygon
}

const (
	TypePolygon      = "Polygon"
	TypeMultiPolygon = "MultiPolygon"
)

// Contains reports whether the point is inside the geometry. A point inside
// any member polygon of a MultiPolygon matches. Holes exclude.
func (g Geometry) Contains(pt Point) bool {
	for _, poly := range g.Polygons {
		if polygonContains(poly, pt) {
			return true
		}
	}
	return false
}

func polygonContains(poly Polygon, pt Point) bool {
	if len(poly) == 0 { return false }
	if !ringContains(poly[0], pt) { return false }
	for _, hole := range poly[1:] {
		if ringContains(hole, pt) { return false }
	}
	return true
}

// ringContains runs a standard ray cast: count crossings of a horizontal ray
// from the point. Works whether or not the ring repeats its first position.
func ringContains(ring Ring, pt Point) bool {
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		a, b := ring[i], ring[j]
		if (a.Lat > pt.Lat) != (b.Lat > pt.Lat) {
			x := (b.Lng-a.Lng)*(pt.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if pt.Lng < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Validate rejects malformed geometry before it reaches the snapshot store.
func (g Geometry) Validate() error {
	switch g.Type {
	case TypePolygon:
		if len(g.Polygons) != 1 {
			return fmt.Errorf("polygon geometry must have exactly one polygon, got %d", len(g.Polygons))
		}
	case TypeMultiPolygon:
		if len(g.Polygons) == 0 {
			return fmt.Errorf("multipolygon geometry must have at least one member")
		}
	default:
		return fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	for _, poly := range g.Polygons {
		if len(poly) == 0 {
			return fmt.Errorf("polygon must have an outer ring")
		}
		for _, ring := range poly {
			if len(ring) < 4 {
				return fmt.Errorf("ring must have at least 4 positions, got %d", len(ring))
			}
			if ring[0] != ring[len(ring)-1] {
				return fmt.Errorf("ring must be closed (first position == last)")
			}
			for _, p := range ring {
				if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
					return fmt.Errorf("position out of range: lat=%v lng=%v", p.Lat, p.Lng)
				}
			}
		}
	}
	return nil
}

type geoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	var coords any
	switch g.Type {
	case TypePolygon:
		if len(g.Polygons) == 0 {
			coords = [][][]float64{}
		} else {
			coords = encodePolygon(g.Polygons[0])
		}
	case TypeMultiPolygon:
		mp := make([][][][]float64, 0, len(g.Polygons))
		for _, p := range g.Polygons { mp = append(mp, encodePolygon(p)) }
		coords = mp
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	raw, err := json.Marshal(coords)
	if err != nil { return nil, err }
	return json.Marshal(geoJSON{Type: g.Type, Coordinates: raw})
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	var gj geoJSON
	if err := json.Unmarshal(data, &gj); err != nil {
		return err
	}
	switch gj.Type {
	case TypePolygon:
		var coords [][][]float64
		if err := json.Unmarshal(gj.Coordinates, &coords); err != nil {
			return fmt.Errorf("polygon coordinates: %w", err)
		}
		poly, err := decodePolygon(coords)
		if err != nil { return err }
		g.Type = TypePolygon
		g.Polygons = []Polygon{poly}
	case TypeMultiPolygon:
		var coords [][][][]float64
		if err := json.Unmarshal(gj.Coordinates, &coords); err != nil {
			return fmt.Errorf("multipolygon coordinates: %w", err)
		}
		g.Type = TypeMultiPolygon
		g.Polygons = g.Polygons[:0]
		for _, pc := range coords {
			poly, err := decodePolygon(pc)
			if err != nil { return err }
			g.Polygons = append(g.Polygons, poly)
		}
	default:
		return fmt.Errorf("unsupported geometry type %q", gj.Type)
	}
	return nil
}

func encodePolygon(poly Polygon) [][][]float64 {
	out := make([][][]float64, 0, len(poly))
	for _, ring := range poly {
		r := make([][]float64, 0, len(ring))
		for _, p := range ring { r = append(r, []float64{p.Lng, p.Lat}) }
		out = append(out, r)
	}
	return out
}

func decodePolygon(coords [][][]float64) (Polygon, error) {
	poly := make(Polygon, 0, len(coords))
	for _, rc := range coords {
		ring := make(Ring, 0, len(rc))
		for _, pos := range rc {
			if len(pos) < 2 {
				return nil, fmt.Errorf("position must have 2 values, got %d", len(pos))
			}
			ring = append(ring, Point{Lat: pos[1], Lng: pos[0]})
		}
		poly = append(poly, ring)
	}
	return poly, nil
}
