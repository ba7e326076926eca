package store

// NotificationDelivery is one queued webhook notification awaiting delivery
// by the background worker.
type NotificationDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
