package geo

import (
	"encoding/json"
	"testing"
)

func square(minLat, minLng, maxLat, maxLng float64) Ring {
	return Ring{
		{Lat: minLat, Lng: minLng},
		{Lat: minLat, Lng: maxLng},
		{Lat: maxLat, Lng: maxLng},
		{Lat: maxLat, Lng: minLng},
		{Lat: minLat, Lng: minLng},
	}
}

func TestContainsSquare(t *testing.T) {
	g := Geometry{Type: TypePolygon, Polygons: []Polygon{{square(0, 0, 10, 10)}}}
	cases := []struct {
		pt   Point
		want bool
	}{
		{Point{Lat: 5, Lng: 5}, true},
		{Point{Lat: 9.99, Lng: 0.01}, true},
		{Point{Lat: 15, Lng: 5}, false},
		{Point{Lat: 5, Lng: -1}, false},
		{Point{Lat: -5, Lng: -5}, false},
	}
	for _, c := range cases {
		if got := g.Contains(c.pt); got != c.want {
			t.Errorf("Contains(%v): got %v want %v", c.pt, got, c.want)
		}
	}
}

func TestContainsHole(t *testing.T) {
	g := Geometry{Type: TypePolygon, Polygons: []Polygon{{
		square(0, 0, 10, 10),
		square(4, 4, 6, 6), // hole
	}}}
	if !g.Contains(Point{Lat: 2, Lng: 2}) { t.Fatalf("point in outer ring should match") }
	if g.Contains(Point{Lat: 5, Lng: 5}) { t.Fatalf("point in hole should not match") }
}

func TestContainsMultiPolygon(t *testing.T) {
	g := Geometry{Type: TypeMultiPolygon, Polygons: []Polygon{
		{square(0, 0, 10, 10)},
		{square(20, 20, 30, 30)},
	}}
	if !g.Contains(Point{Lat: 25, Lng: 25}) { t.Fatalf("second member should match") }
	if g.Contains(Point{Lat: 15, Lng: 15}) { t.Fatalf("gap between members should not match") }
}

func TestContainsConcave(t *testing.T) {
	// U shape: notch cut from the top
	ring := Ring{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10},
		{Lat: 10, Lng: 7}, {Lat: 3, Lng: 7}, {Lat: 3, Lng: 3},
		{Lat: 10, Lng: 3}, {Lat: 10, Lng: 0}, {Lat: 0, Lng: 0},
	}
	g := Geometry{Type: TypePolygon, Polygons: []Polygon{{ring}}}
	if g.Contains(Point{Lat: 8, Lng: 5}) { t.Fatalf("point in the notch should not match") }
	if !g.Contains(Point{Lat: 1, Lng: 5}) { t.Fatalf("point in the base should match") }
	if !g.Contains(Point{Lat: 8, Lng: 1}) { t.Fatalf("point in the left arm should match") }
}

func TestValidate(t *testing.T) {
	valid := Geometry{Type: TypePolygon, Polygons: []Polygon{{square(0, 0, 10, 10)}}}
	if err := valid.Validate(); err != nil { t.Fatalf("valid geometry rejected: %v", err) }

	open := Geometry{Type: TypePolygon, Polygons: []Polygon{{Ring{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0},
	}}}}
	if err := open.Validate(); err == nil { t.Fatalf("unclosed ring accepted") }

	short := Geometry{Type: TypePolygon, Polygons: []Polygon{{Ring{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 0, Lng: 0},
	}}}}
	if err := short.Validate(); err == nil { t.Fatalf("3-position ring accepted") }

	offPlanet := Geometry{Type: TypePolygon, Polygons: []Polygon{{Ring{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 200}, {Lat: 1, Lng: 1}, {Lat: 0, Lng: 0},
	}}}}
	if err := offPlanet.Validate(); err == nil { t.Fatalf("out-of-range position accepted") }

	if err := (Geometry{Type: "Point"}).Validate(); err == nil { t.Fatalf("unsupported type accepted") }
	if err := (Geometry{Type: TypeMultiPolygon}).Validate(); err == nil { t.Fatalf("empty multipolygon accepted") }
}

func TestGeoJSONRoundTrip(t *testing.T) {
	// GeoJSON positions are [lng, lat]
	raw := []byte(`{"type":"Polygon","coordinates":[[[100.0,0.0],[101.0,0.0],[101.0,1.0],[100.0,1.0],[100.0,0.0]]]}`)
	var g Geometry
	if err := json.Unmarshal(raw, &g); err != nil { t.Fatalf("unmarshal: %v", err) }
	if g.Type != TypePolygon || len(g.Polygons) != 1 { t.Fatalf("decoded wrong shape: %+v", g) }
	if p := g.Polygons[0][0][0]; p.Lat != 0 || p.Lng != 100 {
		t.Fatalf("coordinate order wrong: got %+v", p)
	}
	if !g.Contains(Point{Lat: 0.5, Lng: 100.5}) { t.Fatalf("decoded polygon should contain its center") }

	out, err := json.Marshal(g)
	if err != nil { t.Fatalf("marshal: %v", err) }
	var again Geometry
	if err := json.Unmarshal(out, &again); err != nil { t.Fatalf("re-unmarshal: %v", err) }
	if !again.Contains(Point{Lat: 0.5, Lng: 100.5}) { t.Fatalf("round-tripped polygon lost containment") }
}

func TestGeoJSONMultiPolygon(t *testing.T) {
	raw := []byte(`{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]],[[[10,10],[11,10],[11,11],[10,11],[10,10]]]]}`)
	var g Geometry
	if err := json.Unmarshal(raw, &g); err != nil { t.Fatalf("unmarshal: %v", err) }
	if len(g.Polygons) != 2 { t.Fatalf("expected 2 members, got %d", len(g.Polygons)) }
	if !g.Contains(Point{Lat: 10.5, Lng: 10.5}) { t.Fatalf("second member should contain its center") }
}
