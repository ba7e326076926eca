package zones

import "zonedispatch/internal/model"

// Diff compares two zone snapshots and yields the minimal set of assignment
// changes: for each featureId whose resolved driver differs, up to two
// deltas are emitted ("lost" for the previous driver, "gained" for the new
// one). A zone whose driver is unchanged produces no deltas even when its
// geometry changed. Duplicate featureIds resolve to their first occurrence.
func Diff(old, cur []model.Zone) []model.AssignmentDelta {
	oldBy := byFeature(old)
	curBy := byFeature(cur)

	var out []model.AssignmentDelta
	seen := map[string]bool{}
	emit := func(id string) {
		if seen[id] { return }
		seen[id] = true
		o, hadOld := oldBy[id]
		c, hasCur := curBy[id]
		var was, now string
		if hadOld { was = o.DefaultDriverID }
		if hasCur { now = c.DefaultDriverID }
		if was == now {
			return
		}
		// Prefer the new snapshot's name; fall back to the old one when the
		// zone was removed.
		name := c.Name
		if !hasCur { name = o.Name }
		if was != "" {
			out = append(out, model.AssignmentDelta{DriverID: was, ZoneID: id, ZoneName: name, Assigned: false})
		}
		if now != "" {
			out = append(out, model.AssignmentDelta{DriverID: now, ZoneID: id, ZoneName: name, Assigned: true})
		}
	}
	for i := range cur { emit(cur[i].FeatureID) }
	for i := range old { emit(old[i].FeatureID) }
	return out
}

func byFeature(zs []model.Zone) map[string]model.Zone {
	m := make(map[string]model.Zone, len(zs))
	for _, z := range zs {
		if _, ok := m[z.FeatureID]; !ok {
			m[z.FeatureID] = z
		}
	}
	return m
}
