package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ambudispatch/internal/store"
)

// AlertsHandler handles GET /v1/alerts?resolved=&vehicleId=
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	q := r.URL.Query()
	f := store.AlertFilter{VehicleID: q.Get("vehicleId")}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, invalidf("resolved must be true or false"))
			return
		}
		f.Resolved = &b
	}
	items, err := s.Tracking.GetAlerts(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// AlertByIDHandler handles GET /v1/alerts/{id}, POST /v1/alerts/{id}/resolve and the
// SSE stream at /v1/alerts/stream
func (s *Server) AlertByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/alerts/")
	switch {
	case len(parts) == 1 && parts[0] == "stream":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		s.alertStream(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		a, err := s.Store.GetAlert(r.Context(), parts[0])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	case len(parts) == 2 && parts[1] == "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		a, err := s.Tracking.ResolveAlert(r.Context(), parts[0])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "unknown alert path", r.URL.Path)
	}
}

func (s *Server) alertStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(TopicAlerts)
	defer s.Broker.Unsubscribe(TopicAlerts, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", evt.Data)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
