package zones

import (
	"context"
	"log"
	"time"

	"zonedispatch/internal/metrics"
	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

// Reconciler keeps every eligible order's driver assignment consistent with
// the current service area and overrides. It runs as a request-scoped,
// sequential sweep: each order's resolve, verify, mutate, and route-repair
// completes before the next order begins, so a failure mid-batch leaves
// processed orders fully consistent and unprocessed orders merely stale.
// The sweep is idempotent and safe to re-run.
type Reconciler struct {
	Store store.Store
	// Events receives fire-and-forget assignment events (order.reassigned).
	// May be nil. Failures in the sink must not propagate.
	Events func(eventType string, data map[string]any)
}

// SweepLocation reconciles all eligible orders for the location against the
// given snapshot. Returns the number of orders whose driver actually changed.
func (r *Reconciler) SweepLocation(ctx context.Context, tenantID string, snap model.ServiceArea) (int, error) {
	start := time.Now()
	orders, err := r.Store.ListEligibleOrders(ctx, tenantID, snap.LocationID)
	if err != nil { return 0, err }
	changed := 0
	for _, o := range orders {
		ok, err := r.reconcileOrder(ctx, tenantID, snap.Zones, o)
		if err != nil {
			// Already-processed orders are consistent; the next sweep picks
			// up the remainder.
			return changed, err
		}
		if ok { changed++ }
	}
	metrics.ReconcileSweeps.WithLabelValues("service_area").Inc()
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	return changed, nil
}

// SweepZoneWindow reconciles only orders whose pickup date falls inside
// [startDate, endDate] and whose pickup point resolves to the given zone.
// Used when an override is created or deleted.
func (r *Reconciler) SweepZoneWindow(ctx context.Context, tenantID, locationID, zoneFeatureID, startDate, endDate string) (int, error) {
	start := time.Now()
	snap, err := r.Store.GetServiceArea(ctx, tenantID, locationID)
	if err != nil { return 0, err }
	orders, err := r.Store.ListEligibleOrders(ctx, tenantID, locationID)
	if err != nil { return 0, err }
	changed := 0
	for _, o := range orders {
		if o.PickupDate < startDate || o.PickupDate > endDate { continue }
		if o.Pickup == nil { continue }
		z := Resolve(snap.Zones, *o.Pickup)
		if z == nil || z.FeatureID != zoneFeatureID { continue }
		ok, err := r.reconcileOrder(ctx, tenantID, snap.Zones, o)
		if err != nil { return changed, err }
		if ok { changed++ }
	}
	metrics.ReconcileSweeps.WithLabelValues("override").Inc()
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	return changed, nil
}

// reconcileOrder applies the per-order policy. Unresolvable orders (no
// geocoded pickup, no zone match, invalid candidate driver) are skips, not
// errors: the order keeps its prior assignment. Only store failures return
// an error.
func (r *Reconciler) reconcileOrder(ctx context.Context, tenantID string, zs []model.Zone, o model.Order) (bool, error) {
	if o.Pickup == nil {
		return false, nil
	}
	z := Resolve(zs, *o.Pickup)
	if z == nil {
		// Outside every zone is not "unassign": leave the order alone.
		return false, nil
	}
	candidate := z.DefaultDriverID
	if o.PickupDate != "" {
		// Overrides are date-scoped; an order without a pickup date can
		// never match one and the lookup must not see an empty date.
		drv, ok, err := r.Store.FindOverrideDriver(ctx, tenantID, o.LocationID, z.FeatureID, o.PickupDate)
		if err != nil { return false, err }
		if ok { candidate = drv }
	}
	if candidate == o.DriverID {
		// Idempotent no-op: re-running the sweep must not thrash.
		return false, nil
	}
	if candidate != "" {
		ok, err := r.Store.DriverAssignable(ctx, tenantID, candidate)
		if err != nil { return false, err }
		if !ok {
			// Never assign an invalid or inactive driver; keep the prior one.
			return false, nil
		}
	}
	rep, err := r.Store.UpdateOrderDriver(ctx, tenantID, o.ID, candidate)
	if err != nil { return false, err }
	metrics.OrdersReassigned.WithLabelValues(tenantID).Inc()
	if rep.StopsRemoved > 0 || rep.RoutesDeleted > 0 {
		log.Printf("route repair order=%s stopsRemoved=%d routesDeleted=%d", o.ID, rep.StopsRemoved, rep.RoutesDeleted)
	}
	if r.Events != nil {
		r.Events("order.reassigned", map[string]any{
			"orderId":    o.ID,
			"locationId": o.LocationID,
			"zoneId":     z.FeatureID,
			"zoneName":   z.Name,
			"fromDriver": o.DriverID,
			"toDriver":   candidate,
			"pickupDate": o.PickupDate,
		})
	}
	return true, nil
}
