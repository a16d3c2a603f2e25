// Package tracking simulates vehicle movement, raises location alerts and owns the
// periodic tick that drives both.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/config"
	"ambudispatch/internal/geo"
	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

// ErrMismatch reports an ETA update for a request the vehicle is not serving.
var ErrMismatch = errors.New("vehicle is not serving that request")

// Simulator moves every vehicle that is not in maintenance by a small random step per call.
type Simulator struct {
	Store    store.Store
	Geocoder geo.Geocoder
	Config   config.SimulationConfig
	Log      logrus.FieldLogger

	// mu guards rng and serialises location read-modify-write cycles.
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator seeds the random source from cfg.Seed, or the clock when it is zero.
func NewSimulator(s store.Store, cfg config.SimulationConfig, log logrus.FieldLogger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		Store:    s,
		Geocoder: geo.NewHashGeocoder(),
		Config:   cfg,
		Log:      log,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// WithRand replaces the random source.
func (s *Simulator) WithRand(r *rand.Rand) *Simulator {
	s.mu.Lock()
	s.rng = r
	s.mu.Unlock()
	return s
}

// Step advances all movable vehicles once and returns their new locations in registry order.
// Failures on one vehicle are logged and do not stop the others.
func (s *Simulator) Step(ctx context.Context, now time.Time) ([]model.VehicleLocation, error) {
	vehicles, err := s.Store.ListVehicles(ctx, store.VehicleFilter{})
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.VehicleLocation, 0, len(vehicles))
	for _, v := range vehicles {
		if v.Status == model.VehicleMaintenance {
			continue
		}
		loc, err := s.move(ctx, v, now)
		if err != nil {
			s.Log.WithError(err).WithField("vehicleId", v.ID).Warn("simulate location")
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

func (s *Simulator) move(ctx context.Context, v model.Vehicle, now time.Time) (model.VehicleLocation, error) {
	loc, err := s.Store.GetLocation(ctx, v.ID)
	if errors.Is(err, store.ErrNotFound) {
		p := s.Geocoder.Locate(v.Zone)
		loc = model.VehicleLocation{VehicleID: v.ID, Latitude: p.Lat, Longitude: p.Lng}
	} else if err != nil {
		return model.VehicleLocation{}, err
	}

	active, err := s.Store.ListAssignmentsForVehicle(ctx, v.ID, true)
	if err != nil {
		return model.VehicleLocation{}, err
	}
	cur := currentAssignment(active)
	if cur == nil {
		loc.AssignedRequestID = ""
		loc.EstimatedArrival = nil
	} else if cur.RequestID != loc.AssignedRequestID {
		loc.AssignedRequestID = cur.RequestID
		loc.EstimatedArrival = cur.EstimatedArrival
	}

	loc.Status = v.Status
	loc.InService = v.Status == model.VehicleBusy
	step, maxSpeed := s.Config.IdleStepDeg, s.Config.IdleMaxSpeed
	if loc.InService {
		step, maxSpeed = s.Config.ServiceStepDeg, s.Config.ServiceMaxSpeed
	}
	lat := loc.Latitude + (s.rng.Float64()*2-1)*step
	lng := loc.Longitude + (s.rng.Float64()*2-1)*step
	if lat != loc.Latitude || lng != loc.Longitude {
		loc.Heading = geo.Bearing(loc.Latitude, loc.Longitude, lat, lng)
	}
	loc.Latitude, loc.Longitude = lat, lng
	loc.Speed = s.rng.Float64() * maxSpeed
	loc.Timestamp = now.UTC()

	if err := s.Store.UpsertLocation(ctx, loc); err != nil {
		return model.VehicleLocation{}, err
	}
	return loc, nil
}

// currentAssignment prefers the transport in progress, then the earliest scheduled one.
func currentAssignment(active []model.Assignment) *model.Assignment {
	for i := range active {
		if active[i].Status == model.AssignmentInProgress {
			return &active[i]
		}
	}
	if len(active) > 0 {
		return &active[0]
	}
	return nil
}

// SetEstimatedArrival records a new ETA on the vehicle's location. The vehicle must be
// serving requestID.
func (s *Simulator) SetEstimatedArrival(ctx context.Context, vehicleID, requestID string, eta time.Time) (model.VehicleLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, err := s.Store.GetLocation(ctx, vehicleID)
	if err != nil {
		return model.VehicleLocation{}, err
	}
	if loc.AssignedRequestID == "" || loc.AssignedRequestID != requestID {
		return model.VehicleLocation{}, fmt.Errorf("%w: vehicle %s, request %s", ErrMismatch, vehicleID, requestID)
	}
	t := eta.UTC()
	loc.EstimatedArrival = &t
	if err := s.Store.UpsertLocation(ctx, loc); err != nil {
		return model.VehicleLocation{}, err
	}
	return loc, nil
}
