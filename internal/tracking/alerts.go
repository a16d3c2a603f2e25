package tracking

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/config"
	"ambudispatch/internal/metrics"
	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

// TriggerPolicy decides whether a probabilistic alert condition fires for a location.
type TriggerPolicy interface {
	Fire(t model.AlertType, loc model.VehicleLocation) bool
}

// PolicyFunc adapts a function to TriggerPolicy.
type PolicyFunc func(t model.AlertType, loc model.VehicleLocation) bool

func (f PolicyFunc) Fire(t model.AlertType, loc model.VehicleLocation) bool { return f(t, loc) }

// Always fires every condition. Never fires none.
var (
	Always = PolicyFunc(func(model.AlertType, model.VehicleLocation) bool { return true })
	Never  = PolicyFunc(func(model.AlertType, model.VehicleLocation) bool { return false })
)

// ProbabilityPolicy fires each alert type with a fixed probability per evaluation.
type ProbabilityPolicy struct {
	Stopped float64
	Detour  float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewProbabilityPolicy(cfg config.AlertsConfig, rng *rand.Rand) *ProbabilityPolicy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &ProbabilityPolicy{Stopped: cfg.StoppedProbability, Detour: cfg.DetourProbability, rng: rng}
}

func (p *ProbabilityPolicy) Fire(t model.AlertType, _ model.VehicleLocation) bool {
	var prob float64
	switch t {
	case model.AlertStopped:
		prob = p.Stopped
	case model.AlertDetour:
		prob = p.Detour
	default:
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < prob
}

// AlertGenerator turns location samples into deduplicated alerts.
type AlertGenerator struct {
	Store  store.Store
	Policy TriggerPolicy
	// StoppedSpeed is the speed in km/h under which a busy vehicle counts as stopped.
	StoppedSpeed float64
	Log          logrus.FieldLogger
}

func NewAlertGenerator(s store.Store, cfg config.AlertsConfig, policy TriggerPolicy, log logrus.FieldLogger) *AlertGenerator {
	return &AlertGenerator{Store: s, Policy: policy, StoppedSpeed: cfg.StoppedSpeedKmh, Log: log}
}

// Evaluate checks every in-service location that serves a request and returns the alerts
// it newly created. A condition that already has an open alert for the vehicle adds nothing.
func (g *AlertGenerator) Evaluate(ctx context.Context, locs []model.VehicleLocation, now time.Time) ([]model.LocationAlert, error) {
	var raised []model.LocationAlert
	for _, loc := range locs {
		if !loc.InService || loc.AssignedRequestID == "" {
			continue
		}
		for _, c := range g.conditions(loc, now) {
			a, err := g.raise(ctx, loc, c.typ, c.details, now)
			if err != nil {
				if ctx.Err() != nil {
					return raised, ctx.Err()
				}
				g.Log.WithError(err).WithFields(logrus.Fields{"vehicleId": loc.VehicleID, "type": c.typ}).Warn("raise alert")
				continue
			}
			if a != nil {
				raised = append(raised, *a)
			}
		}
	}
	return raised, nil
}

type condition struct {
	typ     model.AlertType
	details string
}

func (g *AlertGenerator) conditions(loc model.VehicleLocation, now time.Time) []condition {
	var out []condition
	if loc.Speed < g.StoppedSpeed && loc.Status == model.VehicleBusy && g.Policy.Fire(model.AlertStopped, loc) {
		out = append(out, condition{model.AlertStopped, fmt.Sprintf("vehicle stopped (%.1f km/h) during service", loc.Speed)})
	}
	if g.Policy.Fire(model.AlertDetour, loc) {
		out = append(out, condition{model.AlertDetour, "vehicle left the expected route"})
	}
	if loc.EstimatedArrival != nil && loc.EstimatedArrival.Before(now) {
		late := now.Sub(*loc.EstimatedArrival).Round(time.Minute)
		out = append(out, condition{model.AlertDelay, fmt.Sprintf("estimated arrival %s passed %s ago",
			loc.EstimatedArrival.UTC().Format(time.RFC3339), late)})
	}
	return out
}

// raise stores the alert unless one is already open and logs it on the assignment.
// It returns nil when nothing new was created.
func (g *AlertGenerator) raise(ctx context.Context, loc model.VehicleLocation, typ model.AlertType, details string, now time.Time) (*model.LocationAlert, error) {
	assignmentID := ""
	if a, err := g.Store.ActiveAssignmentForRequest(ctx, loc.AssignedRequestID); err == nil {
		assignmentID = a.ID
	}
	alert, created, err := g.Store.CreateAlertIfAbsent(ctx, model.LocationAlert{
		VehicleID:    loc.VehicleID,
		RequestID:    loc.AssignedRequestID,
		AssignmentID: assignmentID,
		Type:         typ,
		Timestamp:    now.UTC(),
		Location:     model.GeoPoint{Lat: loc.Latitude, Lng: loc.Longitude},
		Details:      details,
	})
	if err != nil || !created {
		return nil, err
	}
	metrics.AlertsRaised.WithLabelValues(string(typ)).Inc()
	if assignmentID != "" {
		inc := model.AssignmentIncident{At: alert.Timestamp, Kind: string(typ), Detail: details, AlertID: alert.ID}
		if err := g.Store.AppendIncident(ctx, assignmentID, inc); err != nil {
			g.Log.WithError(err).WithField("assignmentId", assignmentID).Warn("append incident")
		}
	}
	return &alert, nil
}
