package api

import (
	"fmt"
	"time"

	"zonedispatch/internal/model"
)

// validateZones checks a snapshot at the boundary so nothing malformed
// reaches the store or the resolver. Duplicate featureIds are tolerated
// (first occurrence wins downstream); malformed geometry is not.
func validateZones(zs []model.Zone) error {
	for i, z := range zs {
		if z.FeatureID == "" {
			return fmt.Errorf("zones[%d]: missing featureId", i)
		}
		if err := z.Geometry.Validate(); err != nil {
			return fmt.Errorf("zones[%d] (%s): %v", i, z.FeatureID, err)
		}
	}
	return nil
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func validateOverride(in model.OverrideInput) error {
	if in.ZoneFeatureID == "" { return fmt.Errorf("missing zoneFeatureId") }
	if in.DriverID == "" { return fmt.Errorf("missing driverId") }
	if !validDate(in.StartDate) { return fmt.Errorf("invalid startDate: %q", in.StartDate) }
	if !validDate(in.EndDate) { return fmt.Errorf("invalid endDate: %q", in.EndDate) }
	if in.EndDate < in.StartDate { return fmt.Errorf("endDate before startDate") }
	return nil
}
