package tracking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

// Service is the read and correction surface over tracking data.
type Service struct {
	Store     store.Store
	Simulator *Simulator
	Events    Notifier
	Log       logrus.FieldLogger
	Now       func() time.Time
}

func NewService(s store.Store, sim *Simulator, events Notifier, log logrus.FieldLogger) *Service {
	return &Service{Store: s, Simulator: sim, Events: events, Log: log, Now: func() time.Time { return time.Now().UTC() }}
}

// GetVehicleLocations returns the latest known location of every vehicle.
func (s *Service) GetVehicleLocations(ctx context.Context) ([]model.VehicleLocation, error) {
	return s.Store.ListLocations(ctx)
}

func (s *Service) GetAlerts(ctx context.Context, f store.AlertFilter) ([]model.LocationAlert, error) {
	return s.Store.ListAlerts(ctx, f)
}

// ResolveAlert marks an alert resolved. Resolving it again returns it unchanged.
func (s *Service) ResolveAlert(ctx context.Context, id string) (model.LocationAlert, error) {
	before, err := s.Store.GetAlert(ctx, id)
	if err != nil {
		return model.LocationAlert{}, err
	}
	a, err := s.Store.ResolveAlert(ctx, id, s.Now())
	if err != nil {
		return model.LocationAlert{}, err
	}
	if !before.Resolved {
		s.Log.WithFields(logrus.Fields{"alertId": a.ID, "vehicleId": a.VehicleID, "type": a.Type}).Info("alert resolved")
		s.emit(ctx, EventAlertResolved, a)
	}
	return a, nil
}

// UpdateEstimatedArrival sets the ETA reported for the request a vehicle is serving.
func (s *Service) UpdateEstimatedArrival(ctx context.Context, vehicleID, requestID string, eta time.Time) (model.VehicleLocation, error) {
	loc, err := s.Simulator.SetEstimatedArrival(ctx, vehicleID, requestID, eta)
	if err != nil {
		return model.VehicleLocation{}, err
	}
	s.emit(ctx, EventETAUpdated, loc)
	return loc, nil
}

func (s *Service) emit(ctx context.Context, eventType string, data any) {
	if s.Events != nil {
		s.Events.Emit(ctx, eventType, data)
	}
}
