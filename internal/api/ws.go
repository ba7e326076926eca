package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// DriverFeedHandler streams a driver's own assignment events
// (zone.gained, zone.lost, order.reassigned) over WebSocket at
// /v1/drivers/{id}/feed. Drivers may only open their own feed; owners,
// managers and dispatchers may open any.
func (s *Server) DriverFeedHandler(w http.ResponseWriter, r *http.Request, driverID string) {
	p := s.getPrincipal(r)
	if !(p.CanManageZones() || p.Role == "dispatcher") {
		if p.Role != "driver" || p.DriverID == "" || p.DriverID != driverID {
			writeProblem(w, 403, "Forbidden", "not authorized for driver feed", r.URL.Path)
			return
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	key := p.Tenant + "|driver|" + driverID
	ch := s.Broker.Subscribe(key)
	defer s.Broker.Unsubscribe(key, ch)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// Reader goroutine only services control frames and detects close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok { return }
			if err := conn.WriteJSON(evt); err != nil { return }
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil { return }
		}
	}
}
