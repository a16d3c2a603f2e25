package api

import (
	"net/http"
	"time"

	"ambudispatch/internal/buildinfo"
)

// DebugJSON reports build information and the effective non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               c.HTTP.Port,
			"rateRps":            c.HTTP.RateRPS,
			"rateBurst":          c.HTTP.RateBurst,
			"databaseDriver":     c.Database.Driver,
			"hasRedis":           c.Redis.URL != "",
			"simulationInterval": c.Simulation.Interval.String(),
			"webhookMaxAttempts": c.Webhooks.MaxAttempts,
			"zones":              c.Zones,
		},
	})
}
