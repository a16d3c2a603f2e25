package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambudispatch/internal/model"
)

// runContract exercises behaviour every Store implementation must share.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("RequestCRUD", func(t *testing.T) { testRequestCRUD(t, open(t)) })
	t.Run("VehicleListOrderAndFilter", func(t *testing.T) { testVehicleList(t, open(t)) })
	t.Run("CommitAssignment", func(t *testing.T) { testCommitAssignment(t, open(t)) })
	t.Run("CommitRejectsStaleState", func(t *testing.T) { testCommitStale(t, open(t)) })
	t.Run("CancelReleasesVehicle", func(t *testing.T) { testCancelReleases(t, open(t)) })
	t.Run("CompleteKeepsVehicleOnRequest", func(t *testing.T) { testComplete(t, open(t)) })
	t.Run("VehicleStatusGuard", func(t *testing.T) { testVehicleStatusGuard(t, open(t)) })
	t.Run("Incidents", func(t *testing.T) { testIncidents(t, open(t)) })
	t.Run("Locations", func(t *testing.T) { testLocations(t, open(t)) })
	t.Run("AlertDedupAndResolve", func(t *testing.T) { testAlerts(t, open(t)) })
	t.Run("Occupancy", func(t *testing.T) { testOccupancy(t, open(t)) })
	t.Run("WebhookQueue", func(t *testing.T) { testWebhookQueue(t, open(t)) })
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedRequest(t *testing.T, s Store, mut ...func(*model.TransportRequest)) model.TransportRequest {
	t.Helper()
	r := model.TransportRequest{
		PatientName:   "Ana Pérez",
		PatientID:     "P-1",
		Origin:        "Calle Mayor 3, Logroño",
		Destination:   "Hospital San Pedro",
		ScheduledTime: t0,
		TransportType: model.TransportWheelchair,
		ServiceType:   model.ServiceConsultation,
	}
	for _, m := range mut {
		m(&r)
	}
	out, err := s.CreateRequest(context.Background(), r)
	require.NoError(t, err)
	return out
}

func seedVehicle(t *testing.T, s Store, plate string, mut ...func(*model.Vehicle)) model.Vehicle {
	t.Helper()
	v := model.Vehicle{
		Plate:     plate,
		Zone:      "Logroño",
		Type:      model.VehicleConsultation,
		Equipment: []string{"oxygen"},
		Capacity:  model.Seats{Stretcher: 1, Wheelchair: 1, Walking: 2},
	}
	for _, m := range mut {
		m(&v)
	}
	out, err := s.CreateVehicle(context.Background(), v)
	require.NoError(t, err)
	return out
}

func testRequestCRUD(t *testing.T, s Store) {
	ctx := context.Background()
	ret := t0.Add(3 * time.Hour)
	r := seedRequest(t, s, func(r *model.TransportRequest) {
		r.ReturnTime = &ret
		r.RequiredEquipment = []string{"oxygen"}
	})
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.RequestPending, r.Status)

	got, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledTime.Equal(t0))
	require.NotNil(t, got.ReturnTime)
	assert.True(t, got.ReturnTime.Equal(ret))
	assert.Equal(t, []string{"oxygen"}, got.RequiredEquipment)

	origin := "Plaza del Mercado, Haro"
	upd, err := s.UpdateRequest(ctx, r.ID, model.TransportRequestPatch{Origin: &origin, ClearReturn: true})
	require.NoError(t, err)
	assert.Equal(t, origin, upd.Origin)
	assert.Nil(t, upd.ReturnTime)

	later := seedRequest(t, s, func(r *model.TransportRequest) { r.ScheduledTime = t0.Add(time.Hour) })
	list, err := s.ListRequests(ctx, model.RequestPending)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, r.ID, list[0].ID)
	assert.Equal(t, later.ID, list[1].ID)

	require.NoError(t, s.DeleteRequest(ctx, later.ID))
	_, err = s.GetRequest(ctx, later.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteRequest(ctx, "missing"), ErrNotFound)
}

func testVehicleList(t *testing.T, s Store) {
	ctx := context.Background()
	a := seedVehicle(t, s, "LO-0001")
	b := seedVehicle(t, s, "LO-0002", func(v *model.Vehicle) { v.Zone = "Haro" })
	c := seedVehicle(t, s, "LO-0003", func(v *model.Vehicle) { v.Status = model.VehicleMaintenance })

	all, err := s.ListVehicles(ctx, VehicleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	avail, err := s.ListVehicles(ctx, VehicleFilter{Status: model.VehicleAvailable})
	require.NoError(t, err)
	assert.Len(t, avail, 2)

	haro, err := s.ListVehicles(ctx, VehicleFilter{Zone: "Haro"})
	require.NoError(t, err)
	require.Len(t, haro, 1)
	assert.Equal(t, b.ID, haro[0].ID)

	zone := "Nájera"
	upd, err := s.UpdateVehicle(ctx, a.ID, model.VehiclePatch{Zone: &zone, Equipment: []string{"oxygen", "stair_chair"}})
	require.NoError(t, err)
	assert.Equal(t, "Nájera", upd.Zone)
	assert.Equal(t, []string{"oxygen", "stair_chair"}, upd.Equipment)
}

func testCommitAssignment(t *testing.T, s Store) {
	ctx := context.Background()
	r := seedRequest(t, s)
	v := seedVehicle(t, s, "LO-1000")
	eta := t0.Add(-15 * time.Minute)

	a, err := s.CommitAssignment(ctx, model.Assignment{
		RequestID: r.ID, VehicleID: v.ID, EstimatedArrival: &eta,
		Occupied: model.Seats{Wheelchair: 1}, AutomaticallyAssigned: true,
	}, true)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, model.AssignmentScheduled, a.Status)

	gotR, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAssigned, gotR.Status)
	assert.Equal(t, v.ID, gotR.AssignedVehicleID)

	gotV, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VehicleBusy, gotV.Status)

	active, err := s.ActiveAssignmentForRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
	assert.True(t, active.AutomaticallyAssigned)
	require.NotNil(t, active.EstimatedArrival)
	assert.True(t, active.EstimatedArrival.Equal(eta))
	assert.Equal(t, 1, active.Occupied.Wheelchair)

	list, err := s.ListAssignmentsForVehicle(ctx, v.ID, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, s.DeleteRequest(ctx, r.ID), ErrStaleState)
	assert.ErrorIs(t, s.DeleteVehicle(ctx, v.ID), ErrStaleState)
}

func testCommitStale(t *testing.T, s Store) {
	ctx := context.Background()
	r1 := seedRequest(t, s)
	r2 := seedRequest(t, s)
	v := seedVehicle(t, s, "LO-2000")
	m := seedVehicle(t, s, "LO-2001", func(v *model.Vehicle) { v.Status = model.VehicleMaintenance })

	_, err := s.CommitAssignment(ctx, model.Assignment{RequestID: r1.ID, VehicleID: m.ID}, false)
	assert.ErrorIs(t, err, ErrStaleState)

	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: r1.ID, VehicleID: v.ID}, true)
	require.NoError(t, err)

	// request already assigned
	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: r1.ID, VehicleID: v.ID}, false)
	assert.ErrorIs(t, err, ErrStaleState)

	// vehicle busy, automatic path needs available
	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: r2.ID, VehicleID: v.ID}, true)
	assert.ErrorIs(t, err, ErrStaleState)
	gotR2, err := s.GetRequest(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, gotR2.Status)
	assert.Empty(t, gotR2.AssignedVehicleID)

	// manual path may stack on a busy vehicle
	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: r2.ID, VehicleID: v.ID}, false)
	require.NoError(t, err)
	list, err := s.ListAssignmentsForVehicle(ctx, v.ID, true)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: "nope", VehicleID: v.ID}, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testCancelReleases(t *testing.T, s Store) {
	ctx := context.Background()
	r1 := seedRequest(t, s)
	r2 := seedRequest(t, s)
	v := seedVehicle(t, s, "LO-3000")
	a1, err := s.CommitAssignment(ctx, model.Assignment{RequestID: r1.ID, VehicleID: v.ID}, true)
	require.NoError(t, err)
	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: r2.ID, VehicleID: v.ID}, false)
	require.NoError(t, err)

	cancel := Transition{
		From:           []model.RequestStatus{model.RequestPending, model.RequestAssigned, model.RequestInRoute},
		To:             model.RequestCancelled,
		Assignment:     model.AssignmentCancelled,
		ReleaseVehicle: true,
	}
	cancel.RequestID = r1.ID
	got, err := s.ApplyTransition(ctx, cancel)
	require.NoError(t, err)
	assert.Equal(t, model.RequestCancelled, got.Status)
	assert.Empty(t, got.AssignedVehicleID)

	ca, err := s.GetAssignment(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCancelled, ca.Status)

	// second assignment still holds the vehicle
	gv, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VehicleBusy, gv.Status)

	cancel.RequestID = r2.ID
	_, err = s.ApplyTransition(ctx, cancel)
	require.NoError(t, err)
	gv, err = s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, gv.Status)

	// not allowed from cancelled
	_, err = s.ApplyTransition(ctx, cancel)
	assert.ErrorIs(t, err, ErrStaleState)

	// only cancelled assignments reference r1
	require.NoError(t, s.DeleteRequest(ctx, r1.ID))
}

func testComplete(t *testing.T, s Store) {
	ctx := context.Background()
	r := seedRequest(t, s)
	v := seedVehicle(t, s, "LO-4000")
	a, err := s.CommitAssignment(ctx, model.Assignment{RequestID: r.ID, VehicleID: v.ID}, true)
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, Transition{RequestID: r.ID, From: []model.RequestStatus{model.RequestAssigned},
		To: model.RequestInRoute, Assignment: model.AssignmentInProgress})
	require.NoError(t, err)
	done, err := s.ApplyTransition(ctx, Transition{RequestID: r.ID, From: []model.RequestStatus{model.RequestInRoute},
		To: model.RequestCompleted, Assignment: model.AssignmentCompleted, ReleaseVehicle: true})
	require.NoError(t, err)
	assert.Equal(t, model.RequestCompleted, done.Status)
	assert.Equal(t, v.ID, done.AssignedVehicleID)

	ga, err := s.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCompleted, ga.Status)
	gv, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, gv.Status)

	_, err = s.ActiveAssignmentForRequest(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// the completed assignment still books the vehicle, so its request must stay
	assert.ErrorIs(t, s.DeleteRequest(ctx, r.ID), ErrStaleState)
	_, err = s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
}

func testVehicleStatusGuard(t *testing.T, s Store) {
	ctx := context.Background()
	v := seedVehicle(t, s, "LO-5000")
	got, err := s.SetVehicleStatus(ctx, v.ID, model.VehicleMaintenance)
	require.NoError(t, err)
	assert.Equal(t, model.VehicleMaintenance, got.Status)
	_, err = s.SetVehicleStatus(ctx, v.ID, model.VehicleBusy)
	assert.ErrorIs(t, err, ErrStaleState)
	_, err = s.SetVehicleStatus(ctx, v.ID, model.VehicleAvailable)
	require.NoError(t, err)

	r := seedRequest(t, s)
	_, err = s.CommitAssignment(ctx, model.Assignment{RequestID: r.ID, VehicleID: v.ID}, true)
	require.NoError(t, err)
	_, err = s.SetVehicleStatus(ctx, v.ID, model.VehicleMaintenance)
	assert.ErrorIs(t, err, ErrStaleState)
	_, err = s.SetVehicleStatus(ctx, "missing", model.VehicleMaintenance)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testIncidents(t *testing.T, s Store) {
	ctx := context.Background()
	r := seedRequest(t, s)
	v := seedVehicle(t, s, "LO-6000")
	a, err := s.CommitAssignment(ctx, model.Assignment{RequestID: r.ID, VehicleID: v.ID}, true)
	require.NoError(t, err)
	require.NoError(t, s.AppendIncident(ctx, a.ID, model.AssignmentIncident{At: t0, Kind: "stopped", Detail: "first"}))
	require.NoError(t, s.AppendIncident(ctx, a.ID, model.AssignmentIncident{At: t0.Add(time.Minute), Kind: "detour", Detail: "second"}))
	got, err := s.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got.Incidents, 2)
	assert.Equal(t, "first", got.Incidents[0].Detail)
	assert.Equal(t, "detour", got.Incidents[1].Kind)
	assert.ErrorIs(t, s.AppendIncident(ctx, "missing", model.AssignmentIncident{}), ErrNotFound)
}

func testLocations(t *testing.T, s Store) {
	ctx := context.Background()
	v1 := seedVehicle(t, s, "LO-7000")
	v2 := seedVehicle(t, s, "LO-7001")
	eta := t0.Add(time.Hour)
	require.NoError(t, s.UpsertLocation(ctx, model.VehicleLocation{VehicleID: v2.ID, Latitude: 42.1, Longitude: -2.1, Timestamp: t0, Status: model.VehicleAvailable}))
	require.NoError(t, s.UpsertLocation(ctx, model.VehicleLocation{VehicleID: v1.ID, Latitude: 42.4, Longitude: -2.4, Timestamp: t0, Status: model.VehicleBusy,
		InService: true, AssignedRequestID: "r1", EstimatedArrival: &eta}))
	require.NoError(t, s.UpsertLocation(ctx, model.VehicleLocation{VehicleID: v2.ID, Latitude: 42.2, Longitude: -2.2, Speed: 12, Timestamp: t0.Add(time.Second), Status: model.VehicleAvailable}))

	list, err := s.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, v1.ID, list[0].VehicleID)
	assert.True(t, list[0].InService)
	require.NotNil(t, list[0].EstimatedArrival)
	assert.True(t, list[0].EstimatedArrival.Equal(eta))
	assert.InDelta(t, 42.2, list[1].Latitude, 1e-9)
	assert.InDelta(t, 12, list[1].Speed, 1e-9)

	err = s.UpsertLocation(ctx, model.VehicleLocation{VehicleID: "ghost", Timestamp: t0})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testAlerts(t *testing.T, s Store) {
	ctx := context.Background()
	v := seedVehicle(t, s, "LO-8000")
	a1, created, err := s.CreateAlertIfAbsent(ctx, model.LocationAlert{VehicleID: v.ID, RequestID: "r1", Type: model.AlertStopped, Timestamp: t0, Details: "stopped"})
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := s.CreateAlertIfAbsent(ctx, model.LocationAlert{VehicleID: v.ID, RequestID: "r1", Type: model.AlertStopped, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a1.ID, dup.ID)

	_, created, err = s.CreateAlertIfAbsent(ctx, model.LocationAlert{VehicleID: v.ID, RequestID: "r1", Type: model.AlertDetour, Timestamp: t0})
	require.NoError(t, err)
	assert.True(t, created)

	resolvedAt := t0.Add(5 * time.Minute)
	res, err := s.ResolveAlert(ctx, a1.ID, resolvedAt)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	require.NotNil(t, res.ResolvedAt)
	assert.True(t, res.ResolvedAt.Equal(resolvedAt))

	again, err := s.ResolveAlert(ctx, a1.ID, resolvedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.ResolvedAt.Equal(resolvedAt))

	// a resolved alert no longer blocks a new one of the same type
	_, created, err = s.CreateAlertIfAbsent(ctx, model.LocationAlert{VehicleID: v.ID, RequestID: "r1", Type: model.AlertStopped, Timestamp: t0.Add(10 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, created)

	open := false
	unresolved, err := s.ListAlerts(ctx, AlertFilter{Resolved: &open})
	require.NoError(t, err)
	assert.Len(t, unresolved, 2)
	all, err := s.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.ResolveAlert(ctx, "missing", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testOccupancy(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.RecordOccupancy(ctx, model.OccupancyRecord{AssignmentID: "a1", VehicleID: "v1", RequestID: "r1", SeatsUsed: 1, SeatsTotal: 4, Rate: 0.25, RecordedAt: t0}))
	require.NoError(t, s.RecordOccupancy(ctx, model.OccupancyRecord{AssignmentID: "a2", VehicleID: "v1", RequestID: "r2", SeatsUsed: 1, SeatsTotal: 2, Rate: 0.5, RecordedAt: t0.Add(time.Minute)}))
	list, err := s.ListOccupancy(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].AssignmentID)
	assert.InDelta(t, 0.5, list[0].Rate, 1e-9)
}

func testWebhookQueue(t *testing.T, s Store) {
	ctx := context.Background()
	sub, err := s.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://example.invalid/hook", Events: []string{"assignment.created"}, Secret: "k"})
	require.NoError(t, err)
	subs, err := s.GetSubscriptionsForEvent(ctx, "assignment.created")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	none, err := s.GetSubscriptionsForEvent(ctx, "alert.raised")
	require.NoError(t, err)
	assert.Empty(t, none)

	id, err := s.EnqueueWebhook(ctx, sub.ID, "assignment.created", sub.URL, sub.Secret, []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	due, err := s.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
	assert.Equal(t, `{"id":"evt_1"}`, string(due[0].Payload))

	next := time.Now().Add(time.Hour)
	require.NoError(t, s.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 12))
	due, err = s.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	retry, err := s.ListWebhookDeliveries(ctx, DeliveryRetry)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, 1, retry[0].Attempts)
	assert.Equal(t, "boom", retry[0].LastError)

	require.NoError(t, s.DeleteSubscription(ctx, sub.ID))
	assert.ErrorIs(t, s.DeleteSubscription(ctx, sub.ID), ErrNotFound)
}
