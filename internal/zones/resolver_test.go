package zones

import (
	"testing"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
)

func zone(id, driver string, minLat, minLng, maxLat, maxLng float64) model.Zone {
	return model.Zone{
		FeatureID:       id,
		Name:            id,
		DefaultDriverID: driver,
		Geometry: geo.Geometry{Type: geo.TypePolygon, Polygons: []geo.Polygon{{geo.Ring{
			{Lat: minLat, Lng: minLng},
			{Lat: minLat, Lng: maxLng},
			{Lat: maxLat, Lng: maxLng},
			{Lat: maxLat, Lng: minLng},
			{Lat: minLat, Lng: minLng},
		}}}},
	}
}

func TestResolveFirstMatch(t *testing.T) {
	zs := []model.Zone{
		zone("north", "drvA", 5, 0, 10, 10),
		zone("south", "drvB", 0, 0, 5, 10),
	}
	if z := Resolve(zs, geo.Point{Lat: 7, Lng: 5}); z == nil || z.FeatureID != "north" {
		t.Fatalf("expected north, got %+v", z)
	}
	if z := Resolve(zs, geo.Point{Lat: 2, Lng: 5}); z == nil || z.FeatureID != "south" {
		t.Fatalf("expected south, got %+v", z)
	}
}

func TestResolveOverlapFirstWins(t *testing.T) {
	// Both zones contain (3,3); the first listed must win, deterministically.
	zs := []model.Zone{
		zone("a", "drvA", 0, 0, 10, 10),
		zone("b", "drvB", 0, 0, 5, 5),
	}
	for i := 0; i < 10; i++ {
		z := Resolve(zs, geo.Point{Lat: 3, Lng: 3})
		if z == nil || z.FeatureID != "a" { t.Fatalf("overlap winner: got %+v", z) }
	}
	// Reversed order flips the winner.
	rev := []model.Zone{zs[1], zs[0]}
	if z := Resolve(rev, geo.Point{Lat: 3, Lng: 3}); z == nil || z.FeatureID != "b" {
		t.Fatalf("reversed overlap winner: got %+v", z)
	}
}

func TestResolveNoMatch(t *testing.T) {
	zs := []model.Zone{zone("a", "drvA", 0, 0, 10, 10)}
	if z := Resolve(zs, geo.Point{Lat: 50, Lng: 50}); z != nil {
		t.Fatalf("point outside all zones must resolve to nil, got %+v", z)
	}
	if z := Resolve(nil, geo.Point{Lat: 1, Lng: 1}); z != nil {
		t.Fatalf("empty snapshot must resolve to nil, got %+v", z)
	}
}
