// Package main runs a demo WebSocket client for vehicle location snapshots.
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

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func post(base, path string, body any, out any) {
	b, _ := json.Marshal(body)
	resp, err := http.Post(base+path, "application/json", bytes.NewReader(b))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: %s", path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatal(err)
		}
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Seed one vehicle and one request, then assign it so the vehicle is in service
	var veh struct {
		ID string `json:"id"`
	}
	post(base, "/v1/vehicles", map[string]any{
		"plate": "LR-0001", "zone": "Logroño", "type": "consultation",
		"capacity": map[string]int{"stretcher": 1, "wheelchair": 1, "walking": 2},
	}, &veh)
	var req struct {
		ID string `json:"id"`
	}
	post(base, "/v1/requests", map[string]any{
		"patientName": "Demo", "origin": "Calle Portales 1, Logroño", "destination": "Hospital San Pedro",
		"scheduledTime": time.Now().Add(time.Hour).UTC(), "transportType": "wheelchair", "serviceType": "consultation",
	}, &req)
	post(base, "/v1/requests/"+req.ID+"/assign", nil, nil)
	log.Printf("vehicle %s assigned to request %s", veh.ID, req.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/locations/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Data))
		}
	}()

	// The location exists once the first tick has run
	time.Sleep(6 * time.Second)
	b, _ := json.Marshal(map[string]any{"requestId": req.ID, "eta": time.Now().Add(45 * time.Minute).UTC()})
	etaReq, _ := http.NewRequest(http.MethodPut, base+"/v1/locations/"+veh.ID+"/eta", bytes.NewReader(b))
	etaReq.Header.Set("Content-Type", "application/json")
	if resp, err := http.DefaultClient.Do(etaReq); err == nil {
		_ = resp.Body.Close()
	}

	select {
	case <-time.After(12 * time.Second):
	case <-done:
	}
}
