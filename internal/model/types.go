package model

import "zonedispatch/internal/geo"

// Order statuses eligible for reassignment. Earlier statuses (draft, placed)
// and later ones (delivered, cancelled) are frozen.
const (
	OrderConfirmed      = "confirmed"
	OrderReady          = "ready"
	OrderOutForDelivery = "out_for_delivery"
)

// Route lifecycle states. Only planned routes are mutable by the reconciler.
const (
	RoutePlanned    = "planned"
	RouteInProgress = "in_progress"
	RouteCompleted  = "completed"
)

// Zone is one named region of a location's service area. FeatureID is stable
// across edits of the same logical zone. DefaultDriverID may be empty.
type Zone struct {
	FeatureID       string       `json:"featureId"`
	Name            string       `json:"name"`
	DefaultDriverID string       `json:"defaultDriverId,omitempty"`
	Geometry        geo.Geometry `json:"geometry"`
}

// ServiceArea is the complete zone set for a location at one version. It is
// replaced as a whole on every edit; there is no per-zone patch.
type ServiceArea struct {
	LocationID string `json:"locationId"`
	Version    int    `json:"version"`
	Zones      []Zone `json:"zones"`
}

// ZoneOverride scopes a substitute driver to one zone for a closed date
// interval. Dates are ISO (YYYY-MM-DD); StartDate == EndDate is a valid
// single-day override. Expiry is enforced at resolution time, not by deletion.
type ZoneOverride struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	LocationID    string `json:"locationId"`
	ZoneFeatureID string `json:"zoneFeatureId"`
	DriverID      string `json:"driverId"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	Reason        string `json:"reason,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// Covers reports whether the override's interval contains the ISO date.
func (o ZoneOverride) Covers(date string) bool {
	return date != "" && o.StartDate <= date && date <= o.EndDate
}

// OverrideInput is the creation payload for a zone override.
type OverrideInput struct {
	ZoneFeatureID string `json:"zoneFeatureId"`
	DriverID      string `json:"driverId"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	Reason        string `json:"reason,omitempty"`
}

// OrderIn is the ingest payload for an order owned by the order-lifecycle
// subsystem. Pickup may be nil for orders without a geocoded address.
type OrderIn struct {
	ExternalRef string     `json:"externalRef,omitempty"`
	LocationID  string     `json:"locationId"`
	Status      string     `json:"status"`
	PickupDate  string     `json:"pickupDate"`
	Pickup      *geo.Point `json:"pickup,omitempty"`
	DriverID    string     `json:"driverId,omitempty"`
}

// Order is the subset of order state the assignment engine reads and writes.
type Order struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	LocationID  string     `json:"locationId"`
	ExternalRef string     `json:"externalRef,omitempty"`
	Status      string     `json:"status"`
	PickupDate  string     `json:"pickupDate"`
	Pickup      *geo.Point `json:"pickup,omitempty"`
	DriverID    string     `json:"driverId,omitempty"`
}

// Eligible reports whether the order's status admits reassignment.
func (o Order) Eligible() bool {
	switch o.Status {
	case OrderConfirmed, OrderReady, OrderOutForDelivery:
		return true
	}
	return false
}

// Driver is a staff user with role driver. Only active drivers in the same
// tenant are valid reassignment targets.
type Driver struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name,omitempty"`
	IsActive bool   `json:"isActive"`
}

// DriverRoute is one driver's stop manifest for one day.
type DriverRoute struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenantId"`
	DriverID  string      `json:"driverId"`
	RouteDate string      `json:"routeDate"`
	Status    string      `json:"status"`
	Stops     []RouteStop `json:"stops,omitempty"`
}

// RouteStop is one pickup/delivery leg belonging to exactly one order and
// exactly one route.
type RouteStop struct {
	ID      string `json:"id"`
	RouteID string `json:"routeId"`
	OrderID string `json:"orderId"`
	Seq     int    `json:"seq"`
	Kind    string `json:"kind,omitempty"` // pickup or delivery
}

// RouteIn creates a route with stops for existing orders.
type RouteIn struct {
	DriverID  string   `json:"driverId"`
	RouteDate string   `json:"routeDate"`
	Status    string   `json:"status,omitempty"`
	OrderIDs  []string `json:"orderIds"`
}

// RepairResult summarizes the route cleanup done for one reassigned order.
type RepairResult struct {
	StopsRemoved  int `json:"stopsRemoved"`
	RoutesDeleted int `json:"routesDeleted"`
}

// AssignmentDelta is one "driver gained zone" / "driver lost zone" event
// computed by the zone map differ.
type AssignmentDelta struct {
	DriverID string `json:"driverId"`
	ZoneID   string `json:"zoneId"`
	ZoneName string `json:"zoneName"`
	Assigned bool   `json:"assigned"`
}

// SubscriptionRequest registers a webhook endpoint for assignment events.
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
