package zones

import (
	"context"
	"errors"
	"testing"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

const (
	tn  = "t1"
	loc = "loc1"
)

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	ctx := context.Background()
	for _, d := range []model.Driver{
		{ID: "drvA", IsActive: true},
		{ID: "drvB", IsActive: true},
		{ID: "drvC", IsActive: true},
		{ID: "drvOld", IsActive: false},
	} {
		if _, err := m.PutDriver(ctx, tn, d); err != nil { t.Fatalf("PutDriver: %v", err) }
	}
	return m
}

func addOrder(t *testing.T, m *store.Memory, in model.OrderIn) string {
	t.Helper()
	in.LocationID = loc
	if in.Status == "" { in.Status = model.OrderConfirmed }
	if _, err := m.CreateOrders(context.Background(), tn, []model.OrderIn{in}); err != nil {
		t.Fatalf("CreateOrders: %v", err)
	}
	orders, _, err := m.ListOrders(context.Background(), tn, loc, "", "", 0)
	if err != nil { t.Fatalf("ListOrders: %v", err) }
	return orders[len(orders)-1].ID
}

func driverOf(t *testing.T, m *store.Memory, orderID string) string {
	t.Helper()
	o, err := m.GetOrder(context.Background(), tn, orderID)
	if err != nil { t.Fatalf("GetOrder: %v", err) }
	return o.DriverID
}

// The end-to-end scenario: one zone split into north/south, then the
// boundary moves and the reconciler follows it.
func TestSweepLocationBoundaryMove(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: m}

	// Initial map: north is drvA (lat 5..10), south is drvB (lat 0..5).
	_, snap, err := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{
		zone("north", "drvA", 5, 0, 10, 10),
		zone("south", "drvB", 0, 0, 5, 10),
	})
	if err != nil { t.Fatalf("ReplaceServiceArea: %v", err) }

	north := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 7, Lng: 5}})
	mid := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 4, Lng: 5}})
	outside := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 50, Lng: 50}, DriverID: "drvC"})
	nogeo := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", DriverID: "drvC"})

	changed, err := rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 2 { t.Fatalf("first sweep: changed=%d, want 2", changed) }
	if got := driverOf(t, m, north); got != "drvA" { t.Fatalf("north order: %q", got) }
	if got := driverOf(t, m, mid); got != "drvB" { t.Fatalf("mid order: %q", got) }
	if got := driverOf(t, m, outside); got != "drvC" { t.Fatalf("outside order must keep driver: %q", got) }
	if got := driverOf(t, m, nogeo); got != "drvC" { t.Fatalf("ungeocoded order must keep driver: %q", got) }

	// Move the boundary down: north grows to lat 3..10. The mid order flips
	// to drvA; the clearly-north order is untouched.
	_, snap, err = m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{
		zone("north", "drvA", 3, 0, 10, 10),
		zone("south", "drvB", 0, 0, 3, 10),
	})
	if err != nil { t.Fatalf("ReplaceServiceArea: %v", err) }
	changed, err = rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 1 { t.Fatalf("boundary move: changed=%d, want 1", changed) }
	if got := driverOf(t, m, mid); got != "drvA" { t.Fatalf("mid order after move: %q", got) }

	// Idempotence: an identical re-run changes nothing.
	changed, err = rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 0 { t.Fatalf("re-run must be a no-op, changed=%d", changed) }
}

func TestSweepSkipsIneligibleStatuses(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: m}
	_, snap, _ := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "drvA", 0, 0, 10, 10)})

	delivered := addOrder(t, m, model.OrderIn{Status: "delivered", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvB"})
	cancelled := addOrder(t, m, model.OrderIn{Status: "cancelled", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvB"})
	active := addOrder(t, m, model.OrderIn{Status: model.OrderOutForDelivery, Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvB"})

	changed, err := rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 1 { t.Fatalf("changed=%d, want 1", changed) }
	if got := driverOf(t, m, delivered); got != "drvB" { t.Fatalf("delivered touched: %q", got) }
	if got := driverOf(t, m, cancelled); got != "drvB" { t.Fatalf("cancelled touched: %q", got) }
	if got := driverOf(t, m, active); got != "drvA" { t.Fatalf("out_for_delivery not swept: %q", got) }
}

func TestSweepInvalidCandidateKeepsPriorDriver(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: m}

	// Zone default points at an inactive driver and at a driver of another
	// tenant; both are skips.
	_, snap, _ := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{
		zone("a", "drvOld", 5, 0, 10, 10),
		zone("b", "ghost", 0, 0, 5, 10),
	})
	inA := addOrder(t, m, model.OrderIn{Pickup: &geo.Point{Lat: 7, Lng: 5}, DriverID: "drvC"})
	inB := addOrder(t, m, model.OrderIn{Pickup: &geo.Point{Lat: 2, Lng: 5}, DriverID: "drvC"})

	changed, err := rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 0 { t.Fatalf("changed=%d, want 0", changed) }
	if got := driverOf(t, m, inA); got != "drvC" { t.Fatalf("inactive candidate applied: %q", got) }
	if got := driverOf(t, m, inB); got != "drvC" { t.Fatalf("unknown candidate applied: %q", got) }
}

func TestSweepEmptyDefaultUnassigns(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: m}
	_, snap, _ := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "", 0, 0, 10, 10)})
	id := addOrder(t, m, model.OrderIn{Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})
	changed, err := rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 1 { t.Fatalf("changed=%d, want 1", changed) }
	if got := driverOf(t, m, id); got != "" { t.Fatalf("empty default must unassign, got %q", got) }
}

func TestOverridePrecedence(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: m}
	_, _, _ = m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "drvA", 0, 0, 10, 10)})
	id := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-05", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})

	// Vacation cover: drvB takes the zone for the week.
	ov, err := m.CreateOverride(ctx, tn, loc, model.OverrideInput{
		ZoneFeatureID: "z", DriverID: "drvB", StartDate: "2026-09-01", EndDate: "2026-09-07",
	})
	if err != nil { t.Fatalf("CreateOverride: %v", err) }
	changed, err := rec.SweepZoneWindow(ctx, tn, loc, "z", "2026-09-01", "2026-09-07")
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 1 { t.Fatalf("changed=%d, want 1", changed) }
	if got := driverOf(t, m, id); got != "drvB" { t.Fatalf("override not applied: %q", got) }

	// A later-created overlapping override wins (last configured wins).
	if _, err := m.CreateOverride(ctx, tn, loc, model.OverrideInput{
		ZoneFeatureID: "z", DriverID: "drvC", StartDate: "2026-09-04", EndDate: "2026-09-06",
	}); err != nil { t.Fatalf("CreateOverride: %v", err) }
	if _, err := rec.SweepZoneWindow(ctx, tn, loc, "z", "2026-09-04", "2026-09-06"); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := driverOf(t, m, id); got != "drvC" { t.Fatalf("latest-created override must win: %q", got) }

	// Deleting the first override changes nothing for this date; deleting
	// the second falls the order back to the zone default.
	if err := m.DeleteOverride(ctx, tn, ov.ID); err != nil { t.Fatalf("DeleteOverride: %v", err) }
	if _, err := rec.SweepZoneWindow(ctx, tn, loc, "z", "2026-09-01", "2026-09-07"); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := driverOf(t, m, id); got != "drvC" { t.Fatalf("unrelated delete changed driver: %q", got) }

	list, _ := m.ListOverrides(ctx, tn, loc)
	if len(list) != 1 { t.Fatalf("expected 1 override left, got %d", len(list)) }
	if err := m.DeleteOverride(ctx, tn, list[0].ID); err != nil { t.Fatalf("DeleteOverride: %v", err) }
	if _, err := rec.SweepZoneWindow(ctx, tn, loc, "z", "2026-09-04", "2026-09-06"); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := driverOf(t, m, id); got != "drvA" { t.Fatalf("fallback to default: %q", got) }
}

func TestOverrideZeroLengthInterval(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: m}
	_, _, _ = m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "drvA", 0, 0, 10, 10)})
	day := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-03", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})
	other := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-04", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})

	if _, err := m.CreateOverride(ctx, tn, loc, model.OverrideInput{
		ZoneFeatureID: "z", DriverID: "drvB", StartDate: "2026-09-03", EndDate: "2026-09-03",
	}); err != nil { t.Fatalf("CreateOverride: %v", err) }
	if _, err := rec.SweepZoneWindow(ctx, tn, loc, "z", "2026-09-03", "2026-09-03"); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := driverOf(t, m, day); got != "drvB" { t.Fatalf("single-day override missed its date: %q", got) }
	if got := driverOf(t, m, other); got != "drvA" { t.Fatalf("single-day override leaked to next day: %q", got) }
}

func TestReassignmentRepairsPlannedRoutesOnly(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: m}
	_, snap, _ := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "drvB", 0, 0, 10, 10)})

	o1 := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})
	o2 := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 50, Lng: 50}, DriverID: "drvA"})

	planned, err := m.CreateRoute(ctx, tn, model.RouteIn{DriverID: "drvA", RouteDate: "2026-09-01", OrderIDs: []string{o1, o2}})
	if err != nil { t.Fatalf("CreateRoute: %v", err) }
	solo, err := m.CreateRoute(ctx, tn, model.RouteIn{DriverID: "drvA", RouteDate: "2026-09-01", OrderIDs: []string{o1}})
	if err != nil { t.Fatalf("CreateRoute: %v", err) }
	started, err := m.CreateRoute(ctx, tn, model.RouteIn{DriverID: "drvA", RouteDate: "2026-09-01", Status: model.RouteInProgress, OrderIDs: []string{o1}})
	if err != nil { t.Fatalf("CreateRoute: %v", err) }

	changed, err := rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep: %v", err) }
	if changed != 1 { t.Fatalf("changed=%d, want 1", changed) }

	// o1's stop is gone from the planned multi-stop route, which survives.
	rt, err := m.GetRoute(ctx, tn, planned.ID)
	if err != nil { t.Fatalf("planned route deleted: %v", err) }
	if len(rt.Stops) != 1 || rt.Stops[0].OrderID != o2 { t.Fatalf("planned route stops: %+v", rt.Stops) }

	// The planned single-stop route emptied out and was deleted.
	if _, err := m.GetRoute(ctx, tn, solo.ID); err == nil {
		t.Fatalf("emptied planned route should be deleted")
	}

	// The in-progress route keeps its manifest.
	rt, err = m.GetRoute(ctx, tn, started.ID)
	if err != nil { t.Fatalf("in-progress route: %v", err) }
	if len(rt.Stops) != 1 { t.Fatalf("in-progress route mutated: %+v", rt.Stops) }
}

// strictDateStore mimics a backend with a date-typed override column: a
// lookup with an empty date is an error, not a miss.
type strictDateStore struct {
	*store.Memory
}

func (s *strictDateStore) FindOverrideDriver(ctx context.Context, tenantID, locationID, zoneFeatureID, date string) (string, bool, error) {
	if date == "" {
		return "", false, errors.New("invalid input syntax for type date")
	}
	return s.Memory.FindOverrideDriver(ctx, tenantID, locationID, zoneFeatureID, date)
}

func TestSweepOrderWithoutPickupDateFallsToDefault(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	rec := &Reconciler{Store: &strictDateStore{Memory: m}}
	_, snap, _ := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "drvB", 0, 0, 10, 10)})

	// Geocoded but dateless order alongside a normal one, plus an override
	// that must still apply to the dated order.
	dateless := addOrder(t, m, model.OrderIn{Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})
	dated := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-03", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})
	if _, err := m.CreateOverride(ctx, tn, loc, model.OverrideInput{
		ZoneFeatureID: "z", DriverID: "drvC", StartDate: "2026-09-01", EndDate: "2026-09-07",
	}); err != nil { t.Fatalf("CreateOverride: %v", err) }

	changed, err := rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("sweep must not fail on a dateless order: %v", err) }
	if changed != 2 { t.Fatalf("changed=%d, want 2", changed) }
	if got := driverOf(t, m, dateless); got != "drvB" { t.Fatalf("dateless order gets the zone default: %q", got) }
	if got := driverOf(t, m, dated); got != "drvC" { t.Fatalf("dated order gets the override: %q", got) }
}

// flakyUpdateStore fails UpdateOrderDriver on one designated call and then
// behaves normally.
type flakyUpdateStore struct {
	*store.Memory
	calls  int
	failOn int
}

func (s *flakyUpdateStore) UpdateOrderDriver(ctx context.Context, tenantID, orderID, driverID string) (model.RepairResult, error) {
	s.calls++
	if s.calls == s.failOn {
		return model.RepairResult{}, errors.New("connection reset")
	}
	return s.Memory.UpdateOrderDriver(ctx, tenantID, orderID, driverID)
}

func TestSweepMidBatchFailureIsRestartable(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	fs := &flakyUpdateStore{Memory: m, failOn: 2}
	rec := &Reconciler{Store: fs}
	_, snap, _ := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "drvB", 0, 0, 10, 10)})

	o1 := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 1, Lng: 5}, DriverID: "drvA"})
	o2 := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 2, Lng: 5}, DriverID: "drvA"})
	o3 := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 3, Lng: 5}, DriverID: "drvA"})

	// The second order's update fails; the sweep stops there and reports
	// only the work it actually committed.
	changed, err := rec.SweepLocation(ctx, tn, snap)
	if err == nil { t.Fatal("expected mid-batch failure") }
	if changed != 1 { t.Fatalf("partial sweep changed=%d, want 1", changed) }
	if got := driverOf(t, m, o1); got != "drvB" { t.Fatalf("processed order lost its assignment: %q", got) }
	if got := driverOf(t, m, o2); got != "drvA" { t.Fatalf("failed order must keep prior driver: %q", got) }
	if got := driverOf(t, m, o3); got != "drvA" { t.Fatalf("unprocessed order must keep prior driver: %q", got) }

	// A re-run picks up exactly the remainder.
	changed, err = rec.SweepLocation(ctx, tn, snap)
	if err != nil { t.Fatalf("re-run: %v", err) }
	if changed != 2 { t.Fatalf("re-run changed=%d, want 2", changed) }
	for _, id := range []string{o1, o2, o3} {
		if got := driverOf(t, m, id); got != "drvB" { t.Fatalf("order %s: %q", id, got) }
	}
}

func TestSweepEmitsReassignedEvents(t *testing.T) {
	m := seedStore(t)
	ctx := context.Background()
	var events []map[string]any
	rec := &Reconciler{Store: m, Events: func(eventType string, data map[string]any) {
		if eventType == "order.reassigned" { events = append(events, data) }
	}}
	_, snap, _ := m.ReplaceServiceArea(ctx, tn, loc, []model.Zone{zone("z", "drvB", 0, 0, 10, 10)})
	id := addOrder(t, m, model.OrderIn{PickupDate: "2026-09-01", Pickup: &geo.Point{Lat: 5, Lng: 5}, DriverID: "drvA"})

	if _, err := rec.SweepLocation(ctx, tn, snap); err != nil { t.Fatalf("sweep: %v", err) }
	if len(events) != 1 { t.Fatalf("expected 1 event, got %d", len(events)) }
	e := events[0]
	if e["orderId"] != id || e["fromDriver"] != "drvA" || e["toDriver"] != "drvB" {
		t.Fatalf("event payload: %+v", e)
	}
}
