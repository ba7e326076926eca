package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkNotificationDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkNotificationDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailNotificationDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailNotificationDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	id, err := rs.Memory.EnqueueNotification(context.Background(), "t1", "", EventZoneGained, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotType != EventZoneGained {
		t.Fatalf("missing event type header: %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature does not verify: sig=%q body=%q", gotSig, gotBody)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenDeadLetter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 2}
	_, _ = rs.Memory.EnqueueNotification(context.Background(), "t1", "", EventZoneLost, srv.URL, "", []byte(`{}`))

	// attempt 1: retry
	w.processOnce()
	if len(rs.marks) != 1 || rs.marks[0].Success { t.Fatalf("expected retry mark, got: %+v", rs.marks) }
	if len(rs.fails) != 0 { t.Fatalf("dead-lettered too early: %+v", rs.fails) }

	// make it due again, attempt 2: dead letter
	for _, d := range mustFetchAll(t, rs.Memory) {
		_ = rs.Memory.RetryNotificationDelivery(context.Background(), "t1", d)
	}
	w.processOnce()
	if len(rs.fails) != 1 { t.Fatalf("expected dead letter after max attempts: %+v", rs.fails) }
}

// mustFetchAll returns ids of all deliveries still pending or retryable,
// ignoring scheduling.
func mustFetchAll(t *testing.T, m *store.Memory) []string {
	t.Helper()
	items, _, err := m.ListNotificationDeliveries(context.Background(), "t1", "", "", 0)
	if err != nil { t.Fatalf("list deliveries: %v", err) }
	out := []string{}
	for _, it := range items {
		if s, _ := it["status"].(string); s == "delivered" || s == "failed" { continue }
		if id, ok := it["id"].(string); ok { out = append(out, id) }
	}
	return out
}

func subReq(tenant, url, event string) model.SubscriptionRequest {
	return model.SubscriptionRequest{TenantID: tenant, URL: url, Events: []string{event}, Secret: "s"}
}

func TestPublisherEnqueuesPerSubscription(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	for _, url := range []string{"https://a.example/hook", "https://b.example/hook"} {
		if _, err := m.CreateSubscription(ctx, subReq("t1", url, EventZoneGained)); err != nil {
			t.Fatalf("CreateSubscription: %v", err)
		}
	}
	// A subscription for another event type must not receive this one.
	if _, err := m.CreateSubscription(ctx, subReq("t1", "https://c.example/hook", EventOrderReassigned)); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	p := NewPublisher(m)
	p.Emit(ctx, "t1", EventZoneGained, map[string]any{"zoneId": "z1", "driverId": "drvA"})

	items, _, err := m.ListNotificationDeliveries(ctx, "t1", "pending", "", 0)
	if err != nil { t.Fatalf("list deliveries: %v", err) }
	if len(items) != 2 { t.Fatalf("expected 2 queued deliveries, got %d: %+v", len(items), items) }
}

func TestNextBackoffGrowsAndCaps(t *testing.T) {
	if nextBackoff(0) >= nextBackoff(3) { t.Fatalf("backoff must grow") }
	if nextBackoff(50) > time.Hour { t.Fatalf("backoff must cap at 1h") }
}
