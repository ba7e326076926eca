package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"zonedispatch/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set and by
// the test suite.
type Memory struct {
	mu        sync.Mutex
	areas     map[string]model.ServiceArea     // tenant|location -> snapshot
	overrides map[string]model.ZoneOverride    // id -> override
	ovSeq     int                              // creation order tie-break
	ovOrder   map[string]int                   // id -> seq
	orders    map[string]model.Order           // id -> order
	ordTen    map[string][]string              // tenant -> order ids
	drivers   map[string]model.Driver          // tenant|id -> driver
	drvTen    map[string][]string              // tenant -> driver ids
	routes    map[string]*model.DriverRoute    // id -> route
	rtTen     map[string][]string              // tenant -> route ids
	subs      map[string][]model.Subscription  // tenant -> subscriptions
	deliveries map[string]*memDelivery         // id -> delivery state
	delTen    map[string][]string              // tenant -> delivery ids
	dlq       []map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		areas:     map[string]model.ServiceArea{},
		overrides: map[string]model.ZoneOverride{},
		ovOrder:   map[string]int{},
		orders:    map[string]model.Order{},
		ordTen:    map[string][]string{},
		drivers:   map[string]model.Driver{},
		drvTen:    map[string][]string{},
		routes:    map[string]*model.DriverRoute{},
		rtTen:     map[string][]string{},
		subs:      map[string][]model.Subscription{},
		deliveries: map[string]*memDelivery{},
		delTen:    map[string][]string{},
		dlq:       []map[string]any{},
	}
}

// memDelivery augments NotificationDelivery with scheduling/metrics state.
type memDelivery struct {
	NotificationDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func areaKey(tenantID, locationID string) string { return tenantID + "|" + locationID }

func (m *Memory) GetServiceArea(ctx context.Context, tenantID, locationID string) (model.ServiceArea, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	sa, ok := m.areas[areaKey(tenantID, locationID)]
	if !ok {
		return model.ServiceArea{LocationID: locationID}, nil
	}
	return sa, nil
}

func (m *Memory) ReplaceServiceArea(ctx context.Context, tenantID, locationID string, zones []model.Zone) (model.ServiceArea, model.ServiceArea, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	k := areaKey(tenantID, locationID)
	old := m.areas[k]
	old.LocationID = locationID
	cur := model.ServiceArea{LocationID: locationID, Version: old.Version + 1, Zones: append([]model.Zone(nil), zones...)}
	m.areas[k] = cur
	return old, cur, nil
}

func (m *Memory) CreateOverride(ctx context.Context, tenantID, locationID string, in model.OverrideInput) (model.ZoneOverride, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ov := model.ZoneOverride{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		LocationID:    locationID,
		ZoneFeatureID: in.ZoneFeatureID,
		DriverID:      in.DriverID,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		Reason:        in.Reason,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	m.ovSeq++
	m.overrides[ov.ID] = ov
	m.ovOrder[ov.ID] = m.ovSeq
	return ov, nil
}

func (m *Memory) GetOverride(ctx context.Context, tenantID, id string) (model.ZoneOverride, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ov, ok := m.overrides[id]
	if !ok || ov.TenantID != tenantID { return model.ZoneOverride{}, ErrNotFound }
	return ov, nil
}

func (m *Memory) DeleteOverride(ctx context.Context, tenantID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	ov, ok := m.overrides[id]
	if !ok || ov.TenantID != tenantID { return ErrNotFound }
	delete(m.overrides, id)
	delete(m.ovOrder, id)
	return nil
}

func (m *Memory) ListOverrides(ctx context.Context, tenantID, locationID string) ([]model.ZoneOverride, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.ZoneOverride{}
	for _, ov := range m.overrides {
		if ov.TenantID == tenantID && ov.LocationID == locationID { out = append(out, ov) }
	}
	sort.Slice(out, func(i, j int) bool { return m.ovOrder[out[i].ID] < m.ovOrder[out[j].ID] })
	return out, nil
}

func (m *Memory) FindOverrideDriver(ctx context.Context, tenantID, locationID, zoneFeatureID, date string) (string, bool, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	best := ""
	bestSeq := -1
	for id, ov := range m.overrides {
		if ov.TenantID != tenantID || ov.LocationID != locationID || ov.ZoneFeatureID != zoneFeatureID { continue }
		if !ov.Covers(date) { continue }
		if seq := m.ovOrder[id]; seq > bestSeq {
			bestSeq = seq
			best = ov.DriverID
		}
	}
	return best, bestSeq >= 0, nil
}

func (m *Memory) CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (int, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	created := 0
	for _, in := range orders {
		id := uuid.New().String()
		m.orders[id] = model.Order{
			ID: id, TenantID: tenantID, LocationID: in.LocationID,
			ExternalRef: in.ExternalRef, Status: in.Status,
			PickupDate: in.PickupDate, Pickup: in.Pickup, DriverID: in.DriverID,
		}
		m.ordTen[tenantID] = append(m.ordTen[tenantID], id)
		created++
	}
	return created, nil
}

func (m *Memory) GetOrder(ctx context.Context, tenantID, id string) (model.Order, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.TenantID != tenantID { return model.Order{}, ErrNotFound }
	return o, nil
}

func (m *Memory) ListOrders(ctx context.Context, tenantID, locationID, status, cursor string, limit int) ([]model.Order, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ids := m.ordTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor { start = i + 1; break }
		}
	}
	if limit <= 0 { limit = 100 }
	out := []model.Order{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		o := m.orders[ids[i]]
		if locationID != "" && o.LocationID != locationID { continue }
		if status != "" && o.Status != status { continue }
		out = append(out, o)
		next = ids[i]
	}
	if len(out) < limit { next = "" }
	return out, next, nil
}

func (m *Memory) ListEligibleOrders(ctx context.Context, tenantID, locationID string) ([]model.Order, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.Order{}
	for _, id := range m.ordTen[tenantID] {
		o := m.orders[id]
		if o.LocationID == locationID && o.Eligible() { out = append(out, o) }
	}
	return out, nil
}

func (m *Memory) UpdateOrderDriver(ctx context.Context, tenantID, orderID, driverID string) (model.RepairResult, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.TenantID != tenantID { return model.RepairResult{}, ErrNotFound }
	o.DriverID = driverID
	m.orders[orderID] = o
	return m.repairRoutesLocked(tenantID, orderID), nil
}

// repairRoutesLocked removes the order's stops from planned routes and
// deletes planned routes left with no stops. In-progress and completed
// routes are never touched.
func (m *Memory) repairRoutesLocked(tenantID, orderID string) model.RepairResult {
	var res model.RepairResult
	ids := m.rtTen[tenantID]
	keep := ids[:0:0]
	for _, rid := range ids {
		rt := m.routes[rid]
		if rt == nil { continue }
		if rt.Status != model.RoutePlanned {
			keep = append(keep, rid)
			continue
		}
		stops := rt.Stops[:0:0]
		for _, st := range rt.Stops {
			if st.OrderID == orderID { res.StopsRemoved++; continue }
			stops = append(stops, st)
		}
		if len(stops) != len(rt.Stops) && len(stops) == 0 {
			delete(m.routes, rid)
			res.RoutesDeleted++
			continue
		}
		rt.Stops = stops
		keep = append(keep, rid)
	}
	m.rtTen[tenantID] = keep
	return res
}

func driverKey(tenantID, id string) string { return tenantID + "|" + id }

func (m *Memory) PutDriver(ctx context.Context, tenantID string, d model.Driver) (model.Driver, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if d.ID == "" { d.ID = uuid.New().String() }
	d.TenantID = tenantID
	k := driverKey(tenantID, d.ID)
	if _, ok := m.drivers[k]; !ok {
		m.drvTen[tenantID] = append(m.drvTen[tenantID], d.ID)
	}
	m.drivers[k] = d
	return d, nil
}

func (m *Memory) GetDriver(ctx context.Context, tenantID, id string) (model.Driver, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	d, ok := m.drivers[driverKey(tenantID, id)]
	if !ok { return model.Driver{}, ErrNotFound }
	return d, nil
}

func (m *Memory) ListDrivers(ctx context.Context, tenantID string) ([]model.Driver, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.Driver{}
	for _, id := range m.drvTen[tenantID] { out = append(out, m.drivers[driverKey(tenantID, id)]) }
	return out, nil
}

func (m *Memory) DriverAssignable(ctx context.Context, tenantID, driverID string) (bool, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	d, ok := m.drivers[driverKey(tenantID, driverID)]
	return ok && d.IsActive, nil
}

func (m *Memory) CreateRoute(ctx context.Context, tenantID string, in model.RouteIn) (model.DriverRoute, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	status := in.Status
	if status == "" { status = model.RoutePlanned }
	rt := &model.DriverRoute{
		ID: uuid.New().String(), TenantID: tenantID,
		DriverID: in.DriverID, RouteDate: in.RouteDate, Status: status,
	}
	for i, oid := range in.OrderIDs {
		if o, ok := m.orders[oid]; !ok || o.TenantID != tenantID {
			return model.DriverRoute{}, fmt.Errorf("route stop order %s: %w", oid, ErrNotFound)
		}
		rt.Stops = append(rt.Stops, model.RouteStop{ID: uuid.New().String(), RouteID: rt.ID, OrderID: oid, Seq: i + 1, Kind: "pickup"})
	}
	m.routes[rt.ID] = rt
	m.rtTen[tenantID] = append(m.rtTen[tenantID], rt.ID)
	return *rt, nil
}

func (m *Memory) GetRoute(ctx context.Context, tenantID, routeID string) (model.DriverRoute, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	rt := m.routes[routeID]
	if rt == nil || rt.TenantID != tenantID { return model.DriverRoute{}, ErrNotFound }
	return *rt, nil
}

func (m *Memory) ListRoutes(ctx context.Context, tenantID, driverID, routeDate string) ([]model.DriverRoute, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.DriverRoute{}
	for _, rid := range m.rtTen[tenantID] {
		rt := m.routes[rid]
		if rt == nil { continue }
		if driverID != "" && rt.DriverID != driverID { continue }
		if routeDate != "" && rt.RouteDate != routeDate { continue }
		out = append(out, *rt)
	}
	return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType { out = append(out, s); break }
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor { start = i + 1; break }
		}
	}
	if limit <= 0 { limit = 100 }
	end := start + limit
	if end > len(list) { end = len(list) }
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) { next = list[end-1].ID }
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id { out = append(out, s) }
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueNotification(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{NotificationDelivery: NotificationDelivery{
		ID: id, TenantID: tenantID, SubscriptionID: subscriptionID,
		EventType: eventType, URL: url, Secret: secret, Payload: payload,
		Status: "pending",
	}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.delTen[tenantID] = append(m.delTen[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueNotifications(ctx context.Context, limit int) ([]NotificationDelivery, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	now := time.Now()
	out := []NotificationDelivery{}
	for _, ids := range m.delTen {
		for _, id := range ids {
			d := m.deliveries[id]
			if d == nil { continue }
			if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
				out = append(out, d.NotificationDelivery)
				if limit > 0 && len(out) >= limit { return out, nil }
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkNotificationDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil { return nil }
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
	}
	return nil
}

func (m *Memory) FailNotificationDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil { d.Status = "failed" }
	m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
	return nil
}

func (m *Memory) ListNotificationDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.delTen[tenantID] {
		d := m.deliveries[id]
		if d == nil { continue }
		if status != "" && d.Status != status { continue }
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
		if d.LastError != "" { item["lastError"] = d.LastError }
		out = append(out, item)
	}
	return out, "", nil
}

func (m *Memory) RetryNotificationDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil && d.TenantID == tenantID {
		d.Status = "pending"
		d.NextAttemptAt = time.Now()
	}
	return nil
}

func (m *Memory) ListNotificationDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := append([]map[string]any(nil), m.dlq...)
	if out == nil { out = []map[string]any{} }
	return out, "", nil
}

func (m *Memory) RequeueNotificationDLQ(ctx context.Context, tenantID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	if d := m.deliveries[id]; d != nil && d.TenantID == tenantID {
		d.Status = "pending"
		d.NextAttemptAt = time.Now()
	}
	return nil
}
