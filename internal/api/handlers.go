package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"zonedispatch/internal/model"
	"zonedispatch/internal/notify"
	"zonedispatch/internal/store"
	"zonedispatch/internal/zones"
)

// LocationsHandler routes /v1/locations/{id}/service-area,
// /v1/locations/{id}/zone-overrides and /v1/locations/{id}/assignments/stream.
func (s *Server) LocationsHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/locations/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing location id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	locationID := parts[0]
	action := strings.Join(parts[1:], "/")
	switch action {
	case "service-area":
		s.serviceAreaHandler(w, r, locationID)
	case "zone-overrides":
		s.overridesHandler(w, r, locationID)
	case "assignments/stream":
		s.assignmentStreamHandler(w, r, locationID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// serviceAreaHandler handles PUT/GET /v1/locations/{id}/service-area.
// PUT replaces the snapshot as one versioned value, then runs the full
// reconciliation sweep and dispatches gained/lost deltas. The response is
// sent only after the sweep completed, so callers observe the new
// assignments on the next read.
func (s *Server) serviceAreaHandler(w http.ResponseWriter, r *http.Request, locationID string) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		sa, err := s.Store.GetServiceArea(r.Context(), p.Tenant, locationID)
		if err != nil { writeProblem(w, 500, "Get service area failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusOK, sa)
	case http.MethodPut:
		if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
		var req struct {
			Zones []model.Zone `json:"zones"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateZones(req.Zones); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid service area", err.Error(), r.URL.Path)
			return
		}
		old, cur, err := s.Store.ReplaceServiceArea(r.Context(), p.Tenant, locationID, req.Zones)
		if err != nil { writeProblem(w, 500, "Replace service area failed", err.Error(), r.URL.Path); return }
		rec := s.reconciler(p.Tenant, locationID)
		changed, err := rec.SweepLocation(r.Context(), p.Tenant, cur)
		if err != nil {
			// The snapshot is committed and a partial sweep left processed
			// orders consistent; report the sweep failure.
			writeProblem(w, 500, "Reconciliation failed", err.Error(), r.URL.Path)
			return
		}
		deltas := zones.Diff(old.Zones, cur.Zones)
		s.Pub.EmitDeltas(r.Context(), p.Tenant, locationID, deltas)
		for _, d := range deltas {
			evt := notify.EventZoneLost
			if d.Assigned { evt = notify.EventZoneGained }
			data := map[string]any{"locationId": locationID, "zoneId": d.ZoneID, "zoneName": d.ZoneName, "driverId": d.DriverID}
			s.Broker.Publish(locationID, SSEEvent{Type: evt, Data: data})
			s.Broker.Publish(p.Tenant+"|driver|"+d.DriverID, SSEEvent{Type: evt, Data: data})
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": cur.Version, "reassignedCount": changed})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// overridesHandler handles POST/GET /v1/locations/{id}/zone-overrides.
func (s *Server) overridesHandler(w http.ResponseWriter, r *http.Request, locationID string) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListOverrides(r.Context(), p.Tenant, locationID)
		if err != nil { writeProblem(w, 500, "List overrides failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
		var in model.OverrideInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateOverride(in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid override", err.Error(), r.URL.Path)
			return
		}
		ov, err := s.Store.CreateOverride(r.Context(), p.Tenant, locationID, in)
		if err != nil { writeProblem(w, 500, "Create override failed", err.Error(), r.URL.Path); return }
		rec := s.reconciler(p.Tenant, locationID)
		changed, err := rec.SweepZoneWindow(r.Context(), p.Tenant, locationID, in.ZoneFeatureID, in.StartDate, in.EndDate)
		if err != nil { writeProblem(w, 500, "Reconciliation failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusCreated, map[string]any{"override": ov, "reassignedCount": changed})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// OverrideByIDHandler handles GET/DELETE /v1/zone-overrides/{id}. Deleting
// re-runs the same zone-and-window sweep so affected orders fall back to
// the zone default (or an older still-covering override).
func (s *Server) OverrideByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/zone-overrides/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		ov, err := s.Store.GetOverride(r.Context(), p.Tenant, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Override not found", "", r.URL.Path); return }
			writeProblem(w, 500, "Get override failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	case http.MethodDelete:
		if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
		ov, err := s.Store.GetOverride(r.Context(), p.Tenant, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Override not found", "", r.URL.Path); return }
			writeProblem(w, 500, "Get override failed", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.DeleteOverride(r.Context(), p.Tenant, id); err != nil {
			writeProblem(w, 500, "Delete override failed", err.Error(), r.URL.Path)
			return
		}
		rec := s.reconciler(p.Tenant, ov.LocationID)
		changed, err := rec.SweepZoneWindow(r.Context(), p.Tenant, ov.LocationID, ov.ZoneFeatureID, ov.StartDate, ov.EndDate)
		if err != nil { writeProblem(w, 500, "Reconciliation failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "reassignedCount": changed})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// assignmentStreamHandler streams assignment events for a location via SSE.
func (s *Server) assignmentStreamHandler(w http.ResponseWriter, r *http.Request, locationID string) {
	if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
	p := s.getPrincipal(r)
	if !(p.CanManageZones() || p.Role == "dispatcher") {
		writeProblem(w, 403, "Forbidden", "not authorized for assignment events", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(locationID)
	defer s.Broker.Unsubscribe(locationID, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"locationId\":\"%s\",\"ts\":\"%s\"}\n\n", locationID, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notifyDone := r.Context().Done()
	for {
		select {
		case <-notifyDone:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"locationId\":\"%s\",\"ts\":\"%s\"}\n\n", locationID, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// OrdersHandler handles POST/GET /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Orders []model.OrderIn `json:"orders"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		tenant := s.getPrincipal(r).Tenant
		created, err := s.Store.CreateOrders(r.Context(), tenant, req.Orders)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"created": created})
	case http.MethodGet:
		tenant := s.getPrincipal(r).Tenant
		locationID := r.URL.Query().Get("locationId")
		status := r.URL.Query().Get("status")
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
		items, next, err := s.Store.ListOrders(r.Context(), tenant, locationID, status, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// OrderByIDHandler handles GET /v1/orders/{id}
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
	id := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	tenant := s.getPrincipal(r).Tenant
	o, err := s.Store.GetOrder(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Order not found", "", r.URL.Path); return }
		writeProblem(w, 500, "Get order failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// DriversHandler handles PUT/GET /v1/drivers and GET /v1/drivers/{id}
func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if r.URL.Path == "/v1/drivers" {
		switch r.Method {
		case http.MethodPut, http.MethodPost:
			if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
			var d model.Driver
			if err := json.NewDecoder(r.Body).Decode(&d); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
			out, err := s.Store.PutDriver(r.Context(), p.Tenant, d)
			if err != nil { writeProblem(w, 500, "Put driver failed", err.Error(), r.URL.Path); return }
			writeJSON(w, http.StatusOK, out)
		case http.MethodGet:
			items, err := s.Store.ListDrivers(r.Context(), p.Tenant)
			if err != nil { writeProblem(w, 500, "List drivers failed", err.Error(), r.URL.Path); return }
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/drivers/")
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "feed" {
		s.DriverFeedHandler(w, r, parts[0])
		return
	}
	if len(parts) != 1 || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	d, err := s.Store.GetDriver(r.Context(), p.Tenant, parts[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Driver not found", "", r.URL.Path); return }
		writeProblem(w, 500, "Get driver failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RoutesHandler handles POST/GET /v1/routes
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/routes" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !(p.CanManageZones() || p.Role == "dispatcher") { writeProblem(w, 403, "Forbidden", "dispatcher, owner or manager required", r.URL.Path); return }
		var in model.RouteIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
		if in.DriverID == "" || !validDate(in.RouteDate) { writeProblem(w, 400, "Invalid route", "driverId and routeDate required", r.URL.Path); return }
		rt, err := s.Store.CreateRoute(r.Context(), p.Tenant, in)
		if err != nil { writeProblem(w, 500, "Create route failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusCreated, rt)
	case http.MethodGet:
		driverID := r.URL.Query().Get("driverId")
		routeDate := r.URL.Query().Get("routeDate")
		items, err := s.Store.ListRoutes(r.Context(), p.Tenant, driverID, routeDate)
		if err != nil { writeProblem(w, 500, "List routes failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RouteByIDHandler handles GET /v1/routes/{id}
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
	id := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	tenant := s.getPrincipal(r).Tenant
	rt, err := s.Store.GetRoute(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Route not found", "", r.URL.Path); return }
		writeProblem(w, 500, "Get route failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.URL == "" || len(req.Events) == 0 { writeProblem(w, 400, "Invalid subscription", "url and events required", r.URL.Path); return }
		req.TenantID = p.Tenant
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil { writeProblem(w, 500, "Create subscription failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete { w.WriteHeader(405); return }
	p := s.getPrincipal(r)
	if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
	w.WriteHeader(204)
}

// Admin: notification deliveries list and retry
func (s *Server) NotificationDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/notification-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	p := s.getPrincipal(r)
	if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
	if r.Method != http.MethodGet { w.WriteHeader(405); return }
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
	items, next, err := s.Store.ListNotificationDeliveries(r.Context(), p.Tenant, status, cursor, limit)
	if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) NotificationDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/notification-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost { w.WriteHeader(405); return }
	p := s.getPrincipal(r)
	if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/notification-deliveries/"), "/retry")
	if err := s.Store.RetryNotificationDelivery(r.Context(), p.Tenant, id); err != nil { writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Admin: notification DLQ list and requeue
func (s *Server) NotificationDLQHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.CanManageZones() { writeProblem(w, 403, "Forbidden", "owner or manager required", r.URL.Path); return }
	if r.URL.Path == "/v1/admin/notification-dlq" && r.Method == http.MethodGet {
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
		items, next, err := s.Store.ListNotificationDLQ(r.Context(), p.Tenant, cursor, limit)
		if err != nil { writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
		return
	}
	if strings.HasPrefix(r.URL.Path, "/v1/admin/notification-dlq/") && strings.HasSuffix(r.URL.Path, "/requeue") && r.Method == http.MethodPost {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/notification-dlq/"), "/requeue")
		if err := s.Store.RequeueNotificationDLQ(r.Context(), p.Tenant, id); err != nil {
			if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
			writeProblem(w, 500, "Requeue failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 202, map[string]int{"accepted": 1})
		return
	}
	writeProblem(w, 404, "Not Found", "", r.URL.Path)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
