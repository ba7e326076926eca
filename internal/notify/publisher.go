// Package notify delivers zone-assignment events (zone.gained, zone.lost,
// order.reassigned) to subscribed webhook endpoints. Delivery is
// fire-and-forget from the caller's perspective: Emit only enqueues, the
// background worker does the HTTP work, and no failure here may surface to
// the reconciliation that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

const (
	EventZoneGained      = "zone.gained"
	EventZoneLost        = "zone.lost"
	EventOrderReassigned = "order.reassigned"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues an event for all subscriptions of the tenant and event type.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":       fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueNotification(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body)
	}
}

// EmitDeltas fans a zone-map diff out as zone.gained / zone.lost events.
func (p *Publisher) EmitDeltas(ctx context.Context, tenantID, locationID string, deltas []model.AssignmentDelta) {
	for _, d := range deltas {
		evt := EventZoneLost
		if d.Assigned { evt = EventZoneGained }
		p.Emit(ctx, tenantID, evt, map[string]any{
			"locationId": locationID,
			"driverId":   d.DriverID,
			"zoneId":     d.ZoneID,
			"zoneName":   d.ZoneName,
			"assigned":   d.Assigned,
		})
	}
}
