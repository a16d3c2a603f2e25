package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/model"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether w and o share any instant. Touching windows do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// DurationPolicy gives the expected length of a transport of the given service type.
type DurationPolicy func(model.ServiceType) time.Duration

// DefaultDuration is the fixed planning table used for conflict checks.
func DefaultDuration(st model.ServiceType) time.Duration {
	switch st {
	case model.ServiceConsultation, model.ServiceDischarge:
		return 60 * time.Minute
	case model.ServiceAdmission:
		return 90 * time.Minute
	case model.ServiceTransfer:
		return 120 * time.Minute
	}
	return 60 * time.Minute
}

// conflictStore is the slice of the store the detector reads.
type conflictStore interface {
	GetRequest(ctx context.Context, id string) (model.TransportRequest, error)
	ListAssignmentsForVehicle(ctx context.Context, vehicleID string, activeOnly bool) ([]model.Assignment, error)
}

// ConflictDetector decides whether a vehicle is free for a request's service windows.
type ConflictDetector struct {
	Store     conflictStore
	Durations DurationPolicy
	Log       logrus.FieldLogger
}

func NewConflictDetector(s conflictStore, log logrus.FieldLogger) *ConflictDetector {
	return &ConflictDetector{Store: s, Durations: DefaultDuration, Log: log}
}

// Windows returns the service windows of r when its outbound leg starts at start. Round
// trips get a second window at the return time. A zero duration uses the policy table.
func (d *ConflictDetector) Windows(r model.TransportRequest, start time.Time, duration time.Duration) []Window {
	if duration <= 0 {
		duration = d.Durations(r.ServiceType)
	}
	out := []Window{{Start: start, End: start.Add(duration)}}
	if r.ReturnTime != nil {
		out = append(out, Window{Start: *r.ReturnTime, End: r.ReturnTime.Add(duration)})
	}
	return out
}

// HasConflict loads the request and checks it against the vehicle's current assignments.
// Any error yields true together with the error.
func (d *ConflictDetector) HasConflict(ctx context.Context, requestID, vehicleID string, start time.Time, duration time.Duration) (bool, error) {
	r, err := d.Store.GetRequest(ctx, requestID)
	if err != nil {
		return true, fmt.Errorf("load request %s: %w", requestID, err)
	}
	return d.Check(ctx, r, vehicleID, start, duration)
}

// Check tests the candidate windows of r against every non-cancelled assignment of the
// vehicle, skipping assignments of r itself. It stops at the first overlap. Failing to
// resolve an existing assignment's request counts as a conflict.
func (d *ConflictDetector) Check(ctx context.Context, r model.TransportRequest, vehicleID string, start time.Time, duration time.Duration) (bool, error) {
	assignments, err := d.Store.ListAssignmentsForVehicle(ctx, vehicleID, false)
	if err != nil {
		return true, fmt.Errorf("list assignments for %s: %w", vehicleID, err)
	}
	candidate := d.Windows(r, start, duration)
	for _, a := range assignments {
		if a.Status == model.AssignmentCancelled || a.RequestID == r.ID {
			continue
		}
		existing, err := d.Store.GetRequest(ctx, a.RequestID)
		if err != nil {
			if d.Log != nil {
				d.Log.WithError(err).WithFields(logrus.Fields{
					"vehicleId":    vehicleID,
					"assignmentId": a.ID,
				}).Warn("conflict check: cannot resolve assigned request, treating as conflict")
			}
			return true, nil
		}
		for _, ew := range d.Windows(existing, existing.ScheduledTime, 0) {
			for _, cw := range candidate {
				if cw.Overlaps(ew) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}
