// Package api implements the HTTP surface of the dispatch service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"ambudispatch/internal/config"
	"ambudispatch/internal/dispatch"
	"ambudispatch/internal/metrics"
	"ambudispatch/internal/store"
	"ambudispatch/internal/tracking"
	"ambudispatch/internal/webhooks"
)

type Server struct {
	Store    store.Store
	Engine   *dispatch.Engine
	Tracking *tracking.Service
	Broker   EventBroker
	Pub      *webhooks.Publisher
	Config   *config.Config
	Log      logrus.FieldLogger
	limiter  *rate.Limiter
}

// Deps are the collaborators a Server needs. Broker and Pub may be nil.
type Deps struct {
	Store    store.Store
	Engine   *dispatch.Engine
	Tracking *tracking.Service
	Broker   EventBroker
	Pub      *webhooks.Publisher
	Config   *config.Config
	Log      logrus.FieldLogger
}

func NewServer(d Deps) *Server {
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	if d.Config == nil {
		d.Config = config.Defaults()
	}
	s := &Server{
		Store:    d.Store,
		Engine:   d.Engine,
		Tracking: d.Tracking,
		Broker:   d.Broker,
		Pub:      d.Pub,
		Config:   d.Config,
		Log:      d.Log,
	}
	if d.Config.HTTP.RateRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(d.Config.HTTP.RateRPS), d.Config.HTTP.RateBurst)
	}
	return s
}

// Handler returns the routed handler wrapped in recovery, logging, metrics and rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Requests, assignment and lifecycle
	mux.HandleFunc("/v1/requests", s.RequestsHandler)
	mux.HandleFunc("/v1/requests/", s.RequestByIDHandler) // includes /assign, /assign-manual, /conflicts, lifecycle
	mux.HandleFunc("/v1/assignments/", s.AssignmentByIDHandler)

	// Vehicles
	mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)
	mux.HandleFunc("/v1/vehicles/", s.VehicleByIDHandler)

	// Tracking
	mux.HandleFunc("/v1/locations", s.LocationsHandler)
	mux.HandleFunc("/v1/locations/", s.LocationByVehicleHandler) // includes /ws and /{vehicleId}/eta
	mux.HandleFunc("/v1/alerts", s.AlertsHandler)
	mux.HandleFunc("/v1/alerts/", s.AlertByIDHandler) // includes /stream

	// Webhooks
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

	// Admin
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/occupancy", s.OccupancyHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return s.recoverMiddleware(s.logMiddleware(s.metricsMiddleware(s.rateLimitMiddleware(mux))))
}

// NewHTTPServer builds the http.Server for cfg around Handler.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.Config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.Config.HTTP.ReadHeaderTimeout,
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
