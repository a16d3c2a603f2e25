package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ambudispatch/internal/logging"
	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestWindowOverlap(t *testing.T) {
	at := func(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }
	cases := []struct {
		name string
		a, b Window
		want bool
	}{
		{"identical", Window{at(0), at(60)}, Window{at(0), at(60)}, true},
		{"partial", Window{at(0), at(60)}, Window{at(30), at(90)}, true},
		{"contained", Window{at(0), at(120)}, Window{at(30), at(60)}, true},
		{"adjacent after", Window{at(0), at(60)}, Window{at(60), at(120)}, false},
		{"adjacent before", Window{at(60), at(120)}, Window{at(0), at(60)}, false},
		{"disjoint", Window{at(0), at(30)}, Window{at(90), at(120)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.a.Overlaps(tc.b))
			require.Equal(t, tc.want, tc.b.Overlaps(tc.a))
		})
	}
}

func TestDefaultDuration(t *testing.T) {
	require.Equal(t, 60*time.Minute, DefaultDuration(model.ServiceConsultation))
	require.Equal(t, 60*time.Minute, DefaultDuration(model.ServiceDischarge))
	require.Equal(t, 90*time.Minute, DefaultDuration(model.ServiceAdmission))
	require.Equal(t, 120*time.Minute, DefaultDuration(model.ServiceTransfer))
	require.Equal(t, 60*time.Minute, DefaultDuration(model.ServiceEmergency))
}

// booked stores a request and commits it to vehicleID, returning the request.
func booked(t *testing.T, s store.Store, vehicleID string, r model.TransportRequest) model.TransportRequest {
	t.Helper()
	ctx := context.Background()
	r, err := s.CreateRequest(ctx, r)
	require.NoError(t, err)
	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: r.ID, VehicleID: vehicleID, Occupied: Needs(r.TransportType)}, false)
	require.NoError(t, err)
	return r
}

func consultation(at time.Time) model.TransportRequest {
	return model.TransportRequest{
		PatientName:   "Ana",
		Origin:        "Calle Mayor 1, Logroño",
		Destination:   "Hospital San Pedro",
		ScheduledTime: at,
		TransportType: model.TransportStretcher,
		ServiceType:   model.ServiceConsultation,
	}
}

func newVehicle(t *testing.T, s store.Store, zone string, seats model.Seats, equipment ...string) model.Vehicle {
	t.Helper()
	v, err := s.CreateVehicle(context.Background(), model.Vehicle{
		Plate: "LR-" + zone, Zone: zone, Type: model.VehicleConsultation, Capacity: seats, Equipment: equipment,
	})
	require.NoError(t, err)
	return v
}

func TestHasConflictOverlappingStart(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := NewConflictDetector(s, logging.Discard())
	v1 := newVehicle(t, s, "Logroño", model.Seats{Stretcher: 1})
	booked(t, s, v1.ID, consultation(t0))

	r2, err := s.CreateRequest(ctx, consultation(t0.Add(30*time.Minute)))
	require.NoError(t, err)

	conflict, err := d.HasConflict(ctx, r2.ID, v1.ID, t0.Add(30*time.Minute), 60*time.Minute)
	require.NoError(t, err)
	require.True(t, conflict)

	conflict, err = d.HasConflict(ctx, r2.ID, v1.ID, t0.Add(60*time.Minute), 0)
	require.NoError(t, err)
	require.False(t, conflict, "adjacent windows must not conflict")
}

func TestHasConflictReturnLeg(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := NewConflictDetector(s, logging.Discard())
	v1 := newVehicle(t, s, "Haro", model.Seats{Stretcher: 1})
	booked(t, s, v1.ID, consultation(t0.Add(4*time.Hour)))

	rt := consultation(t0)
	ret := t0.Add(4*time.Hour + 30*time.Minute)
	rt.ReturnTime = &ret
	rt, err := s.CreateRequest(ctx, rt)
	require.NoError(t, err)

	conflict, err := d.HasConflict(ctx, rt.ID, v1.ID, t0, 0)
	require.NoError(t, err)
	require.True(t, conflict, "return leg overlaps the existing booking")

	// existing round trip: its return window is checked too
	other := newVehicle(t, s, "Haro", model.Seats{Stretcher: 1})
	existing := consultation(t0)
	back := t0.Add(3 * time.Hour)
	existing.ReturnTime = &back
	booked(t, s, other.ID, existing)
	r3, err := s.CreateRequest(ctx, consultation(t0.Add(3*time.Hour+15*time.Minute)))
	require.NoError(t, err)
	conflict, err = d.HasConflict(ctx, r3.ID, other.ID, r3.ScheduledTime, 0)
	require.NoError(t, err)
	require.True(t, conflict)
}

func TestHasConflictIgnoresCancelledAndOwn(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := NewConflictDetector(s, logging.Discard())
	v := newVehicle(t, s, "Arnedo", model.Seats{Stretcher: 1})
	r := booked(t, s, v.ID, consultation(t0))

	conflict, err := d.HasConflict(ctx, r.ID, v.ID, t0, 0)
	require.NoError(t, err)
	require.False(t, conflict, "own assignment is not a conflict")

	_, err = s.ApplyTransition(ctx, store.Transition{
		RequestID: r.ID, From: []model.RequestStatus{model.RequestAssigned}, To: model.RequestCancelled,
		Assignment: model.AssignmentCancelled, ReleaseVehicle: true,
	})
	require.NoError(t, err)
	r2, err := s.CreateRequest(ctx, consultation(t0))
	require.NoError(t, err)
	conflict, err = d.HasConflict(ctx, r2.ID, v.ID, t0, 0)
	require.NoError(t, err)
	require.False(t, conflict, "cancelled assignments free the window")
}

func TestHasConflictCountsCompleted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := NewConflictDetector(s, logging.Discard())
	v := newVehicle(t, s, "Nájera", model.Seats{Stretcher: 1})
	r := booked(t, s, v.ID, consultation(t0))
	for _, tr := range []store.Transition{
		{RequestID: r.ID, From: []model.RequestStatus{model.RequestAssigned}, To: model.RequestInRoute, Assignment: model.AssignmentInProgress},
		{RequestID: r.ID, From: []model.RequestStatus{model.RequestInRoute}, To: model.RequestCompleted, Assignment: model.AssignmentCompleted, ReleaseVehicle: true},
	} {
		_, err := s.ApplyTransition(ctx, tr)
		require.NoError(t, err)
	}
	r2, err := s.CreateRequest(ctx, consultation(t0.Add(10*time.Minute)))
	require.NoError(t, err)
	conflict, err := d.HasConflict(ctx, r2.ID, v.ID, r2.ScheduledTime, 0)
	require.NoError(t, err)
	require.True(t, conflict)
}

func TestHasConflictMissingRequest(t *testing.T) {
	s := store.NewMemory()
	d := NewConflictDetector(s, logging.Discard())
	conflict, err := d.HasConflict(context.Background(), "nope", "v", t0, 0)
	require.True(t, conflict)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// brokenLookup fails to resolve every request except the candidate.
type brokenLookup struct {
	*store.Memory
	candidate string
}

func (b brokenLookup) GetRequest(ctx context.Context, id string) (model.TransportRequest, error) {
	if id != b.candidate {
		return model.TransportRequest{}, errors.New("db down")
	}
	return b.Memory.GetRequest(ctx, id)
}

func TestHasConflictFailsClosed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	v := newVehicle(t, s, "Haro", model.Seats{Stretcher: 1})
	booked(t, s, v.ID, consultation(t0.Add(8*time.Hour)))
	r2, err := s.CreateRequest(ctx, consultation(t0))
	require.NoError(t, err)

	d := NewConflictDetector(brokenLookup{Memory: s, candidate: r2.ID}, logging.Discard())
	conflict, err := d.HasConflict(ctx, r2.ID, v.ID, t0, 0)
	require.NoError(t, err)
	require.True(t, conflict)
}
