package store

import (
	"context"
	"errors"
	"time"

	"zonedispatch/internal/model"
)

// Store is the persistence interface used by the API server and the
// reassignment reconciler. Every call is tenant-scoped.
type Store interface {
	// Service areas (replaced as whole snapshots, never patched)
	GetServiceArea(ctx context.Context, tenantID, locationID string) (model.ServiceArea, error)
	ReplaceServiceArea(ctx context.Context, tenantID, locationID string, zones []model.Zone) (old, cur model.ServiceArea, err error)

	// Zone driver overrides
	CreateOverride(ctx context.Context, tenantID, locationID string, in model.OverrideInput) (model.ZoneOverride, error)
	GetOverride(ctx context.Context, tenantID, id string) (model.ZoneOverride, error)
	DeleteOverride(ctx context.Context, tenantID, id string) error
	ListOverrides(ctx context.Context, tenantID, locationID string) ([]model.ZoneOverride, error)
	// FindOverrideDriver returns the substitute driver for the zone on the
	// given date. With several covering overrides the most recently created
	// wins. ok is false when no override covers the date.
	FindOverrideDriver(ctx context.Context, tenantID, locationID, zoneFeatureID, date string) (driverID string, ok bool, err error)

	// Orders (owned by the order-lifecycle subsystem; ingested here so
	// reconciliation has rows to sweep)
	CreateOrders(ctx context.Context, tenantID string, orders []model.OrderIn) (created int, err error)
	GetOrder(ctx context.Context, tenantID, id string) (model.Order, error)
	ListOrders(ctx context.Context, tenantID, locationID, status, cursor string, limit int) ([]model.Order, string, error)
	ListEligibleOrders(ctx context.Context, tenantID, locationID string) ([]model.Order, error)
	// UpdateOrderDriver sets the order's driver (empty string unassigns) and
	// repairs planned routes in the same transaction: the order's stops are
	// removed from planned routes and planned routes left empty are deleted.
	UpdateOrderDriver(ctx context.Context, tenantID, orderID, driverID string) (model.RepairResult, error)

	// Drivers
	PutDriver(ctx context.Context, tenantID string, d model.Driver) (model.Driver, error)
	GetDriver(ctx context.Context, tenantID, id string) (model.Driver, error)
	ListDrivers(ctx context.Context, tenantID string) ([]model.Driver, error)
	// DriverAssignable reports whether the driver exists in the tenant and
	// is active.
	DriverAssignable(ctx context.Context, tenantID, driverID string) (bool, error)

	// Routes
	CreateRoute(ctx context.Context, tenantID string, in model.RouteIn) (model.DriverRoute, error)
	GetRoute(ctx context.Context, tenantID, routeID string) (model.DriverRoute, error)
	ListRoutes(ctx context.Context, tenantID, driverID, routeDate string) ([]model.DriverRoute, error)

	// Notification subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Notification delivery queue
	EnqueueNotification(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueNotifications(ctx context.Context, limit int) ([]NotificationDelivery, error)
	MarkNotificationDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailNotificationDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListNotificationDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryNotificationDelivery(ctx context.Context, tenantID, id string) error
	ListNotificationDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]map[string]any, string, error)
	RequeueNotificationDLQ(ctx context.Context, tenantID, id string) error
}

var ErrNotFound = errors.New("not found")
