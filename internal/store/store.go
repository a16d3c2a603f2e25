package store

import (
	"context"
	"errors"
	"time"

	"ambudispatch/internal/model"
)

// Store is the persistence interface used by the dispatcher, the tracker and the API server.
type Store interface {
	Requests
	Vehicles
	Assignments
	Tracking
	Webhooks

	Ping(ctx context.Context) error
	Close() error
}

// Requests is the transport request repository.
type Requests interface {
	CreateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error)
	GetRequest(ctx context.Context, id string) (model.TransportRequest, error)
	// ListRequests returns requests ordered by scheduled time. An empty status lists all.
	ListRequests(ctx context.Context, status model.RequestStatus) ([]model.TransportRequest, error)
	UpdateRequest(ctx context.Context, id string, patch model.TransportRequestPatch) (model.TransportRequest, error)
	// DeleteRequest fails with ErrStaleState when any non-cancelled assignment references the
	// request. Completed assignments keep occupying their vehicle's schedule.
	DeleteRequest(ctx context.Context, id string) error
}

// VehicleFilter narrows ListVehicles. Zero values match everything.
type VehicleFilter struct {
	Status model.VehicleStatus
	Zone   string
}

// Vehicles is the vehicle registry. Listing order is creation order.
type Vehicles interface {
	CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	ListVehicles(ctx context.Context, f VehicleFilter) ([]model.Vehicle, error)
	UpdateVehicle(ctx context.Context, id string, patch model.VehiclePatch) (model.Vehicle, error)
	// SetVehicleStatus moves a vehicle between available and maintenance. It fails with
	// ErrStaleState while the vehicle has active assignments.
	SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) (model.Vehicle, error)
	DeleteVehicle(ctx context.Context, id string) error
}

// Transition describes one atomic status change of a request together with its active assignment.
type Transition struct {
	RequestID string
	// From lists the statuses the request may currently be in.
	From []model.RequestStatus
	To   model.RequestStatus
	// Assignment is the new status of the active assignment, if any. Empty leaves it alone.
	Assignment model.AssignmentStatus
	// ReleaseVehicle frees the assignment's vehicle once it has no other active assignment.
	ReleaseVehicle bool
}

type Assignments interface {
	// CommitAssignment atomically stores a, marks its request assigned to a.VehicleID and the
	// vehicle busy. The request must be pending. With requireAvailable the vehicle must be
	// available, otherwise it only must not be in maintenance. Violations return ErrStaleState.
	CommitAssignment(ctx context.Context, a model.Assignment, requireAvailable bool) (model.Assignment, error)
	GetAssignment(ctx context.Context, id string) (model.Assignment, error)
	ListAssignmentsForVehicle(ctx context.Context, vehicleID string, activeOnly bool) ([]model.Assignment, error)
	// ActiveAssignmentForRequest returns ErrNotFound when the request has no active assignment.
	ActiveAssignmentForRequest(ctx context.Context, requestID string) (model.Assignment, error)
	ApplyTransition(ctx context.Context, t Transition) (model.TransportRequest, error)
	AppendIncident(ctx context.Context, assignmentID string, inc model.AssignmentIncident) error

	RecordOccupancy(ctx context.Context, rec model.OccupancyRecord) error
	ListOccupancy(ctx context.Context, limit int) ([]model.OccupancyRecord, error)
}

// AlertFilter narrows ListAlerts. A nil Resolved matches both states.
type AlertFilter struct {
	Resolved  *bool
	VehicleID string
}

type Tracking interface {
	GetLocation(ctx context.Context, vehicleID string) (model.VehicleLocation, error)
	ListLocations(ctx context.Context) ([]model.VehicleLocation, error)
	UpsertLocation(ctx context.Context, loc model.VehicleLocation) error

	// CreateAlertIfAbsent stores a unless an unresolved alert of the same vehicle and type
	// exists, in which case that alert is returned with created=false.
	CreateAlertIfAbsent(ctx context.Context, a model.LocationAlert) (alert model.LocationAlert, created bool, err error)
	GetAlert(ctx context.Context, id string) (model.LocationAlert, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]model.LocationAlert, error)
	// ResolveAlert marks the alert resolved at the given time. Resolving twice keeps the first time.
	ResolveAlert(ctx context.Context, id string, at time.Time) (model.LocationAlert, error)
}

type Webhooks interface {
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string) ([]WebhookDelivery, error)
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleState reports that a record was not in the state a mutation required.
	ErrStaleState = errors.New("stale state")
)

func containsStatus(list []model.RequestStatus, s model.RequestStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQL)(nil)
)
