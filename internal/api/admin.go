package api

import (
	"net/http"
	"strconv"

	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateSubscription(req); err != nil {
			s.writeError(w, r, err)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		methodNotAllowed(w, r)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/subscriptions/")
	if len(parts) != 1 {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), parts[0]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries?status=
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", store.DeliveryPending, store.DeliveryRetry, store.DeliveryDelivered, store.DeliveryFailed:
	default:
		s.writeError(w, r, invalidf("unknown delivery status %q", status))
		return
	}
	items, err := s.Store.ListWebhookDeliveries(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// OccupancyHandler handles GET /v1/admin/occupancy?limit=
func (s *Server) OccupancyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, r, invalidf("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	items, err := s.Store.ListOccupancy(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	avg := 0.0
	for _, it := range items {
		avg += it.Rate
	}
	if len(items) > 0 {
		avg /= float64(len(items))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "averageRate": avg})
}
