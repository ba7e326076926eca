// Package main runs a demo WebSocket client for the driver assignment feed.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func put(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPut, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "owner")
	return http.DefaultClient.Do(req)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Register the driver whose feed we will watch.
	resp, err := put(base, "/v1/drivers", []byte(`{"id":"drv_demo","name":"Demo Driver","isActive":true}`))
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()

	// Connect to the driver feed as that driver.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/drivers/drv_demo/feed"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "driver")
	hdr.Set("X-Driver-Id", "drv_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m map[string]any
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			b, _ := json.Marshal(m)
			log.Printf("WS <- %s", string(b))
		}
	}()

	// Replace the service area so the demo driver gains a zone; that should
	// arrive on the feed as a zone.gained event.
	time.Sleep(500 * time.Millisecond)
	area := []byte(`{"zones":[{"featureId":"z_demo","name":"Demo Zone","defaultDriverId":"drv_demo","geometry":{"type":"Polygon","coordinates":[[[-122.5,37.7],[-122.3,37.7],[-122.3,37.9],[-122.5,37.9],[-122.5,37.7]]]}}]}`)
	if resp, err = put(base, "/v1/locations/loc_demo/service-area", area); err != nil {
		log.Fatal(err)
	}
	log.Printf("service-area replace: %s", resp.Status)
	_ = resp.Body.Close()

	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
}
