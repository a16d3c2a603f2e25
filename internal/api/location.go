package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ambudispatch/internal/tracking"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// LocationsHandler handles GET /v1/locations
func (s *Server) LocationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	items, err := s.Tracking.GetVehicleLocations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// LocationByVehicleHandler handles GET /v1/locations/{vehicleId}, PUT /v1/locations/{vehicleId}/eta
// and the WebSocket stream at /v1/locations/ws
func (s *Server) LocationByVehicleHandler(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/locations/")
	switch {
	case len(parts) == 1 && parts[0] == "ws":
		s.LocationsWSHandler(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		loc, err := s.Store.GetLocation(r.Context(), parts[0])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	case len(parts) == 2 && parts[1] == "eta":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r)
			return
		}
		var body struct {
			RequestID string    `json:"requestId"`
			ETA       time.Time `json:"eta"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		if body.RequestID == "" || body.ETA.IsZero() {
			s.writeError(w, r, invalidf("requestId and eta are required"))
			return
		}
		loc, err := s.Tracking.UpdateEstimatedArrival(r.Context(), parts[0], body.RequestID, body.ETA)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "unknown location path", r.URL.Path)
	}
}

// LocationsWSHandler streams location snapshots. The first message is the current
// snapshot; afterwards every tick and ETA change is forwarded as it happens.
func (s *Server) LocationsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(TopicLocations)
	defer s.Broker.Unsubscribe(TopicLocations, ch)

	initial, err := s.Tracking.GetVehicleLocations(r.Context())
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"type": "error", "message": "locations unavailable"})
		return
	}
	raw, _ := json.Marshal(initial)
	if err := conn.WriteJSON(SSEEvent{Type: tracking.EventLocations, Data: raw}); err != nil {
		return
	}

	// the read loop only watches for close frames and keeps pong deadlines fresh
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
