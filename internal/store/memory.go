package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ambudispatch/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu          sync.Mutex
	requests    map[string]model.TransportRequest
	vehicles    map[string]model.Vehicle
	vehicleIDs  []string // creation order
	assignments map[string]model.Assignment
	assignIDs   []string
	locations   map[string]model.VehicleLocation
	alerts      map[string]model.LocationAlert
	alertIDs    []string
	occupancy   []model.OccupancyRecord
	subs        []model.Subscription
	deliveries  map[string]*WebhookDelivery
	deliveryIDs []string
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		requests:    map[string]model.TransportRequest{},
		vehicles:    map[string]model.Vehicle{},
		assignments: map[string]model.Assignment{},
		locations:   map[string]model.VehicleLocation{},
		alerts:      map[string]model.LocationAlert{},
		deliveries:  map[string]*WebhookDelivery{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

// Requests

func (m *Memory) CreateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.RequestPending
	}
	now := m.now()
	r.CreatedAt, r.UpdatedAt = now, now
	r = copyRequest(r)
	m.requests[r.ID] = r
	return copyRequest(r), nil
}

func (m *Memory) GetRequest(ctx context.Context, id string) (model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return model.TransportRequest{}, ErrNotFound
	}
	return copyRequest(r), nil
}

func (m *Memory) ListRequests(ctx context.Context, status model.RequestStatus) ([]model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.TransportRequest{}
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateRequest(ctx context.Context, id string, patch model.TransportRequestPatch) (model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return model.TransportRequest{}, ErrNotFound
	}
	patch.Apply(&r)
	r.UpdatedAt = m.now()
	m.requests[id] = copyRequest(r)
	return copyRequest(r), nil
}

func (m *Memory) DeleteRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return ErrNotFound
	}
	for _, a := range m.assignments {
		if a.RequestID == id && a.Status != model.AssignmentCancelled {
			return ErrStaleState
		}
	}
	delete(m.requests, id)
	return nil
}

// Vehicles

func (m *Memory) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.VehicleAvailable
	}
	now := m.now()
	v.CreatedAt, v.UpdatedAt = now, now
	if _, exists := m.vehicles[v.ID]; !exists {
		m.vehicleIDs = append(m.vehicleIDs, v.ID)
	}
	m.vehicles[v.ID] = copyVehicle(v)
	return copyVehicle(v), nil
}

func (m *Memory) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	return copyVehicle(v), nil
}

func (m *Memory) ListVehicles(ctx context.Context, f VehicleFilter) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Vehicle{}
	for _, id := range m.vehicleIDs {
		v, ok := m.vehicles[id]
		if !ok {
			continue
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.Zone != "" && v.Zone != f.Zone {
			continue
		}
		out = append(out, copyVehicle(v))
	}
	return out, nil
}

func (m *Memory) UpdateVehicle(ctx context.Context, id string, patch model.VehiclePatch) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	patch.Apply(&v)
	v.UpdatedAt = m.now()
	m.vehicles[id] = copyVehicle(v)
	return copyVehicle(v), nil
}

func (m *Memory) SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	if status == model.VehicleBusy || m.activeCount(id) > 0 {
		return model.Vehicle{}, ErrStaleState
	}
	v.Status = status
	v.UpdatedAt = m.now()
	m.vehicles[id] = v
	return copyVehicle(v), nil
}

func (m *Memory) DeleteVehicle(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[id]; !ok {
		return ErrNotFound
	}
	if m.activeCount(id) > 0 {
		return ErrStaleState
	}
	delete(m.vehicles, id)
	delete(m.locations, id)
	for i, vid := range m.vehicleIDs {
		if vid == id {
			m.vehicleIDs = append(m.vehicleIDs[:i], m.vehicleIDs[i+1:]...)
			break
		}
	}
	return nil
}

// Assignments

func (m *Memory) CommitAssignment(ctx context.Context, a model.Assignment, requireAvailable bool) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[a.RequestID]
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	v, ok := m.vehicles[a.VehicleID]
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	if r.Status != model.RequestPending {
		return model.Assignment{}, ErrStaleState
	}
	if _, exists := m.activeForRequest(r.ID); exists {
		return model.Assignment{}, ErrStaleState
	}
	if v.Status == model.VehicleMaintenance || (requireAvailable && v.Status != model.VehicleAvailable) {
		return model.Assignment{}, ErrStaleState
	}

	now := m.now()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now
	}
	if a.Status == "" {
		a.Status = model.AssignmentScheduled
	}
	if a.Incidents == nil {
		a.Incidents = []model.AssignmentIncident{}
	}
	m.assignments[a.ID] = copyAssignment(a)
	m.assignIDs = append(m.assignIDs, a.ID)

	r.Status = model.RequestAssigned
	r.AssignedVehicleID = v.ID
	r.UpdatedAt = now
	m.requests[r.ID] = r

	v.Status = model.VehicleBusy
	v.UpdatedAt = now
	m.vehicles[v.ID] = v
	return copyAssignment(a), nil
}

func (m *Memory) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	return copyAssignment(a), nil
}

func (m *Memory) ListAssignmentsForVehicle(ctx context.Context, vehicleID string, activeOnly bool) ([]model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Assignment{}
	for _, id := range m.assignIDs {
		a := m.assignments[id]
		if a.VehicleID != vehicleID || (activeOnly && !a.Status.Active()) {
			continue
		}
		out = append(out, copyAssignment(a))
	}
	return out, nil
}

func (m *Memory) ActiveAssignmentForRequest(ctx context.Context, requestID string) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activeForRequest(requestID)
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	return copyAssignment(a), nil
}

func (m *Memory) ApplyTransition(ctx context.Context, t Transition) (model.TransportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[t.RequestID]
	if !ok {
		return model.TransportRequest{}, ErrNotFound
	}
	if !containsStatus(t.From, r.Status) {
		return model.TransportRequest{}, ErrStaleState
	}
	now := m.now()
	a, hasActive := m.activeForRequest(r.ID)
	if hasActive && t.Assignment != "" {
		a.Status = t.Assignment
		m.assignments[a.ID] = a
	}
	if hasActive && t.ReleaseVehicle {
		if v, ok := m.vehicles[a.VehicleID]; ok && v.Status == model.VehicleBusy && m.activeCount(v.ID) == 0 {
			v.Status = model.VehicleAvailable
			v.UpdatedAt = now
			m.vehicles[v.ID] = v
		}
	}
	r.Status = t.To
	if !t.To.HoldsVehicle() {
		r.AssignedVehicleID = ""
	}
	r.UpdatedAt = now
	m.requests[r.ID] = r
	return copyRequest(r), nil
}

func (m *Memory) AppendIncident(ctx context.Context, assignmentID string, inc model.AssignmentIncident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[assignmentID]
	if !ok {
		return ErrNotFound
	}
	a.Incidents = append(a.Incidents, inc)
	m.assignments[assignmentID] = a
	return nil
}

func (m *Memory) RecordOccupancy(ctx context.Context, rec model.OccupancyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = m.now()
	}
	m.occupancy = append(m.occupancy, rec)
	return nil
}

// ListOccupancy returns the most recent records first.
func (m *Memory) ListOccupancy(ctx context.Context, limit int) ([]model.OccupancyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.OccupancyRecord{}
	for i := len(m.occupancy) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.occupancy[i])
	}
	return out, nil
}

// Tracking

func (m *Memory) GetLocation(ctx context.Context, vehicleID string) (model.VehicleLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locations[vehicleID]
	if !ok {
		return model.VehicleLocation{}, ErrNotFound
	}
	return copyLocation(l), nil
}

func (m *Memory) ListLocations(ctx context.Context) ([]model.VehicleLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.VehicleLocation{}
	for _, id := range m.vehicleIDs {
		if l, ok := m.locations[id]; ok {
			out = append(out, copyLocation(l))
		}
	}
	return out, nil
}

func (m *Memory) UpsertLocation(ctx context.Context, loc model.VehicleLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[loc.VehicleID]; !ok {
		return ErrNotFound
	}
	m.locations[loc.VehicleID] = copyLocation(loc)
	return nil
}

func (m *Memory) CreateAlertIfAbsent(ctx context.Context, a model.LocationAlert) (model.LocationAlert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.alertIDs {
		ex := m.alerts[id]
		if !ex.Resolved && ex.VehicleID == a.VehicleID && ex.Type == a.Type {
			return copyAlert(ex), false, nil
		}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now()
	}
	a.Resolved = false
	a.ResolvedAt = nil
	m.alerts[a.ID] = a
	m.alertIDs = append(m.alertIDs, a.ID)
	return copyAlert(a), true, nil
}

func (m *Memory) GetAlert(ctx context.Context, id string) (model.LocationAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return model.LocationAlert{}, ErrNotFound
	}
	return copyAlert(a), nil
}

func (m *Memory) ListAlerts(ctx context.Context, f AlertFilter) ([]model.LocationAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.LocationAlert{}
	for _, id := range m.alertIDs {
		a := m.alerts[id]
		if f.Resolved != nil && a.Resolved != *f.Resolved {
			continue
		}
		if f.VehicleID != "" && a.VehicleID != f.VehicleID {
			continue
		}
		out = append(out, copyAlert(a))
	}
	return out, nil
}

func (m *Memory) ResolveAlert(ctx context.Context, id string, at time.Time) (model.LocationAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return model.LocationAlert{}, ErrNotFound
	}
	if !a.Resolved {
		a.Resolved = true
		ts := at
		a.ResolvedAt = &ts
		m.alerts[id] = a
	}
	return copyAlert(a), nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: append([]string(nil), req.Events...), Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription{}, m.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: m.now()}
	m.deliveryIDs = append(m.deliveryIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := m.now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

// helpers; callers hold m.mu

func (m *Memory) activeForRequest(requestID string) (model.Assignment, bool) {
	for _, id := range m.assignIDs {
		a := m.assignments[id]
		if a.RequestID == requestID && a.Status.Active() {
			return a, true
		}
	}
	return model.Assignment{}, false
}

func (m *Memory) activeCount(vehicleID string) int {
	n := 0
	for _, a := range m.assignments {
		if a.VehicleID == vehicleID && a.Status.Active() {
			n++
		}
	}
	return n
}

func copyRequest(r model.TransportRequest) model.TransportRequest {
	r.RequiredEquipment = append([]string{}, r.RequiredEquipment...)
	if r.ReturnTime != nil {
		t := *r.ReturnTime
		r.ReturnTime = &t
	}
	return r
}

func copyVehicle(v model.Vehicle) model.Vehicle {
	v.Equipment = append([]string{}, v.Equipment...)
	return v
}

func copyAssignment(a model.Assignment) model.Assignment {
	a.Incidents = append([]model.AssignmentIncident{}, a.Incidents...)
	if a.EstimatedArrival != nil {
		t := *a.EstimatedArrival
		a.EstimatedArrival = &t
	}
	return a
}

func copyLocation(l model.VehicleLocation) model.VehicleLocation {
	if l.EstimatedArrival != nil {
		t := *l.EstimatedArrival
		l.EstimatedArrival = &t
	}
	return l
}

func copyAlert(a model.LocationAlert) model.LocationAlert {
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}
