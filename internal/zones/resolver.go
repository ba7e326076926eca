// Package zones implements the geofenced driver-zone assignment engine:
// zone resolution, override precedence, snapshot diffing, and the
// reassignment reconciliation sweep.
package zones

import (
	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
)

// Resolve returns the first zone in snapshot order whose geometry contains
// the point, or nil when the point is outside every zone. Overlapping zones
// are not an error; the first listed entry wins. Callers must treat nil as
// "leave unchanged", never as a failure.
func Resolve(zs []model.Zone, pt geo.Point) *model.Zone {
	for i := range zs {
		if zs[i].Geometry.Contains(pt) {
			return &zs[i]
		}
	}
	return nil
}
