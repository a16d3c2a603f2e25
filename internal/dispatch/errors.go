package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict reports that the vehicle is already booked for an overlapping window.
	ErrConflict = errors.New("schedule conflict")
	// ErrInvalidTransition reports an operation that the request's current status does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrVehicleUnavailable reports a vehicle that cannot take work, e.g. in maintenance.
	ErrVehicleUnavailable = errors.New("vehicle unavailable")
	// ErrInvalidRequest reports request fields that are inconsistent with each other.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoCapacity reports a vehicle without a seat in the request's transport category.
	ErrNoCapacity = errors.New("no capacity for transport type")
)

// ConflictError carries the details of a rejected manual assignment.
type ConflictError struct {
	RequestID string
	VehicleID string
	Start     time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("vehicle %s has a conflicting assignment for request %s at %s",
		e.VehicleID, e.RequestID, e.Start.UTC().Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
