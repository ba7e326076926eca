package zones

import (
	"testing"

	"zonedispatch/internal/model"
)

func delta(driver, zoneID string, assigned bool) model.AssignmentDelta {
	return model.AssignmentDelta{DriverID: driver, ZoneID: zoneID, ZoneName: zoneID, Assigned: assigned}
}

func TestDiffDriverChanged(t *testing.T) {
	old := []model.Zone{zone("z1", "drvA", 0, 0, 10, 10)}
	cur := []model.Zone{zone("z1", "drvB", 0, 0, 10, 10)}
	got := Diff(old, cur)
	want := []model.AssignmentDelta{delta("drvA", "z1", false), delta("drvB", "z1", true)}
	if len(got) != len(want) { t.Fatalf("got %d deltas, want %d: %+v", len(got), len(want), got) }
	for i := range want {
		if got[i] != want[i] { t.Fatalf("delta %d: got %+v want %+v", i, got[i], want[i]) }
	}
}

func TestDiffGeometryOnlyChangeIsSilent(t *testing.T) {
	old := []model.Zone{zone("z1", "drvA", 0, 0, 10, 10)}
	cur := []model.Zone{zone("z1", "drvA", 0, 0, 20, 20)} // bigger, same driver
	if got := Diff(old, cur); len(got) != 0 {
		t.Fatalf("geometry-only change must yield no deltas, got %+v", got)
	}
}

func TestDiffZoneAddedRemoved(t *testing.T) {
	old := []model.Zone{zone("gone", "drvA", 0, 0, 10, 10)}
	cur := []model.Zone{zone("new", "drvB", 0, 0, 10, 10)}
	got := Diff(old, cur)
	if len(got) != 2 { t.Fatalf("got %+v", got) }
	// cur is iterated first
	if !got[0].Assigned || got[0].DriverID != "drvB" || got[0].ZoneID != "new" {
		t.Fatalf("added zone: got %+v", got[0])
	}
	if got[1].Assigned || got[1].DriverID != "drvA" || got[1].ZoneID != "gone" {
		t.Fatalf("removed zone: got %+v", got[1])
	}
}

func TestDiffEmptyDriverSides(t *testing.T) {
	// empty -> driver: only a gained delta
	got := Diff(
		[]model.Zone{zone("z1", "", 0, 0, 10, 10)},
		[]model.Zone{zone("z1", "drvA", 0, 0, 10, 10)},
	)
	if len(got) != 1 || !got[0].Assigned || got[0].DriverID != "drvA" {
		t.Fatalf("gain from empty: got %+v", got)
	}
	// driver -> empty: only a lost delta
	got = Diff(
		[]model.Zone{zone("z1", "drvA", 0, 0, 10, 10)},
		[]model.Zone{zone("z1", "", 0, 0, 10, 10)},
	)
	if len(got) != 1 || got[0].Assigned || got[0].DriverID != "drvA" {
		t.Fatalf("loss to empty: got %+v", got)
	}
}

func TestDiffNameFromNewSnapshot(t *testing.T) {
	old := []model.Zone{zone("z1", "drvA", 0, 0, 10, 10)}
	cur := []model.Zone{zone("z1", "drvB", 0, 0, 10, 10)}
	cur[0].Name = "Renamed North"
	got := Diff(old, cur)
	for _, d := range got {
		if d.ZoneName != "Renamed North" { t.Fatalf("name should come from new snapshot: %+v", d) }
	}
}

func TestDiffDuplicateFeatureIDFirstWins(t *testing.T) {
	old := []model.Zone{zone("z1", "drvA", 0, 0, 10, 10)}
	cur := []model.Zone{
		zone("z1", "drvB", 0, 0, 10, 10),
		zone("z1", "drvC", 0, 0, 10, 10), // duplicate, ignored
	}
	got := Diff(old, cur)
	if len(got) != 2 || got[1].DriverID != "drvB" {
		t.Fatalf("duplicate featureId must resolve to first occurrence: %+v", got)
	}
}
