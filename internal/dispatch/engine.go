package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/logging"
	"ambudispatch/internal/metrics"
	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

// Event types published by the engine.
const (
	EventRequestCreated     = "request.created"
	EventRequestUpdated     = "request.updated"
	EventAssignmentCreated  = "assignment.created"
	EventRequestStarted     = "request.started"
	EventRequestCompleted   = "request.completed"
	EventRequestCancelled   = "request.cancelled"
	EventRequestReactivated = "request.reactivated"
	EventVehicleStatus      = "vehicle.status"
)

// Notifier receives domain events. Implementations must not block for long.
type Notifier interface {
	Emit(ctx context.Context, eventType string, data any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, eventType string, data any)

func (f NotifierFunc) Emit(ctx context.Context, eventType string, data any) { f(ctx, eventType, data) }

type nopNotifier struct{}

func (nopNotifier) Emit(context.Context, string, any) {}

// Engine owns the request lifecycle and turns pending requests into vehicle assignments.
type Engine struct {
	Store      store.Store
	Detector   *ConflictDetector
	Gazetteer  Gazetteer
	Classifier EquipmentClassifier
	Locker     Locker
	Events     Notifier
	Log        logrus.FieldLogger
	// OpTimeout bounds each public operation including lock waits. Zero disables it.
	OpTimeout time.Duration
	// LockWait bounds each lock acquisition inside an operation. Zero leaves only OpTimeout.
	LockWait time.Duration
}

// NewEngine wires an engine with in-process locking, the keyword classifier and the given zones.
func NewEngine(s store.Store, zones []string, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{
		Store:      s,
		Detector:   NewConflictDetector(s, log),
		Gazetteer:  NewGazetteer(zones),
		Classifier: NewKeywordClassifier(),
		Locker:     NewLocalLocker(),
		Events:     nopNotifier{},
		Log:        log,
		OpTimeout:  5 * time.Second,
		LockWait:   3 * time.Second,
	}
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.OpTimeout > 0 {
		return context.WithTimeout(ctx, e.OpTimeout)
	}
	return context.WithCancel(ctx)
}

// lock acquires keys within LockWait; the held locks live until unlock is called.
func (e *Engine) lock(ctx context.Context, keys ...string) (func(), error) {
	if e.LockWait <= 0 {
		return e.Locker.Lock(ctx, keys...)
	}
	wctx, cancel := context.WithTimeout(ctx, e.LockWait)
	defer cancel()
	return e.Locker.Lock(wctx, keys...)
}

func (e *Engine) emit(ctx context.Context, eventType string, data any) {
	if e.Events != nil {
		e.Events.Emit(ctx, eventType, data)
	}
}

// CreateRequest stores a new pending request.
func (e *Engine) CreateRequest(ctx context.Context, r model.TransportRequest) (model.TransportRequest, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	if err := checkLegs(r); err != nil {
		return model.TransportRequest{}, err
	}
	r.Status = model.RequestPending
	r.AssignedVehicleID = ""
	if r.RequiredEquipment == nil {
		r.RequiredEquipment = []string{}
	}
	out, err := e.Store.CreateRequest(ctx, r)
	if err != nil {
		return model.TransportRequest{}, err
	}
	e.Log.WithFields(logrus.Fields{"requestId": out.ID, "transportType": out.TransportType}).Info("request created")
	e.emit(ctx, EventRequestCreated, out)
	return out, nil
}

// checkLegs rejects a return leg that does not start after the outbound one.
func checkLegs(r model.TransportRequest) error {
	if r.ReturnTime != nil && !r.ReturnTime.After(r.ScheduledTime) {
		return fmt.Errorf("%w: returnTime %s is not after scheduledTime %s", ErrInvalidRequest,
			r.ReturnTime.UTC().Format(time.RFC3339), r.ScheduledTime.UTC().Format(time.RFC3339))
	}
	return nil
}

// UpdateRequest patches a request that has no vehicle attached (pending or cancelled).
func (e *Engine) UpdateRequest(ctx context.Context, id string, patch model.TransportRequestPatch) (model.TransportRequest, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	unlock, err := e.lock(ctx, requestKey(id))
	if err != nil {
		return model.TransportRequest{}, err
	}
	defer unlock()
	cur, err := e.Store.GetRequest(ctx, id)
	if err != nil {
		return model.TransportRequest{}, err
	}
	if cur.Status != model.RequestPending && cur.Status != model.RequestCancelled {
		return model.TransportRequest{}, fmt.Errorf("%w: cannot edit request in status %s", ErrInvalidTransition, cur.Status)
	}
	merged := cur
	patch.Apply(&merged)
	if err := checkLegs(merged); err != nil {
		return model.TransportRequest{}, err
	}
	out, err := e.Store.UpdateRequest(ctx, id, patch)
	if err != nil {
		return model.TransportRequest{}, err
	}
	e.emit(ctx, EventRequestUpdated, out)
	return out, nil
}

func (e *Engine) DeleteRequest(ctx context.Context, id string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	unlock, err := e.lock(ctx, requestKey(id))
	if err != nil {
		return err
	}
	defer unlock()
	if err := e.Store.DeleteRequest(ctx, id); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return fmt.Errorf("%w: request has assignment history", ErrInvalidTransition)
		}
		return err
	}
	return nil
}

// SetVehicleStatus moves a vehicle between available and maintenance.
func (e *Engine) SetVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) (model.Vehicle, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	unlock, err := e.lock(ctx, vehicleKey(vehicleID))
	if err != nil {
		return model.Vehicle{}, err
	}
	defer unlock()
	v, err := e.Store.SetVehicleStatus(ctx, vehicleID, status)
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return model.Vehicle{}, fmt.Errorf("%w: vehicle has active assignments", ErrInvalidTransition)
		}
		return model.Vehicle{}, err
	}
	e.emit(ctx, EventVehicleStatus, v)
	return v, nil
}

// RequiredEquipment returns the equipment a request needs, derived and explicit.
func (e *Engine) RequiredEquipment(r model.TransportRequest) []string {
	return RequiredEquipment(e.Classifier, r)
}

// AssignAutomatically picks the best conflict-free vehicle for a pending request and commits
// the assignment. It returns nil without error when no vehicle qualifies.
func (e *Engine) AssignAutomatically(ctx context.Context, requestID string) (*model.Assignment, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	log := e.Log.WithFields(logrus.Fields{"requestId": requestID, "mode": "auto"})

	unlock, err := e.lock(ctx, requestKey(requestID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := e.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.RequestPending {
		metrics.Assignments.WithLabelValues("auto", "rejected").Inc()
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidTransition, r.Status)
	}

	zone := e.Gazetteer.ZoneOf(r.Origin)
	required := e.RequiredEquipment(r)
	eligible, err := e.eligibleVehicles(ctx, r, required)
	if err != nil {
		return nil, err
	}
	var free, freeInZone []model.Vehicle
	for _, v := range eligible {
		conflict, err := e.Detector.Check(ctx, r, v.ID, r.ScheduledTime, 0)
		if err != nil {
			log.WithError(err).WithField("vehicleId", v.ID).Warn("conflict check failed, skipping vehicle")
			continue
		}
		if conflict {
			metrics.Conflicts.WithLabelValues("auto").Inc()
			continue
		}
		free = append(free, v)
		if zone != "" && v.Zone == zone {
			freeInZone = append(freeInZone, v)
		}
	}
	// the zone is a preference: widen to every free vehicle when none in zone survives
	if len(freeInZone) > 0 {
		free = freeInZone
	}

	for _, c := range Rank(r, free, zone, required) {
		a, err := e.commit(ctx, r, c.Vehicle.ID, true, nil)
		if errors.Is(err, ErrConflict) || errors.Is(err, store.ErrStaleState) {
			log.WithField("vehicleId", c.Vehicle.ID).Debug("candidate lost on re-check, trying next")
			continue
		}
		if err != nil {
			metrics.Assignments.WithLabelValues("auto", "error").Inc()
			return nil, err
		}
		metrics.Assignments.WithLabelValues("auto", "assigned").Inc()
		log.WithFields(logrus.Fields{"vehicleId": a.VehicleID, "score": c.Score, "zone": zone}).Info("request assigned")
		return &a, nil
	}
	metrics.Assignments.WithLabelValues("auto", "unassigned").Inc()
	log.WithField("candidates", len(eligible)).Info("no eligible vehicle")
	return nil, nil
}

// eligibleVehicles returns available vehicles that can physically serve r, in registry order.
func (e *Engine) eligibleVehicles(ctx context.Context, r model.TransportRequest, required []string) ([]model.Vehicle, error) {
	vehicles, err := e.Store.ListVehicles(ctx, store.VehicleFilter{Status: model.VehicleAvailable})
	if err != nil {
		return nil, err
	}
	want := CompatibleVehicleType(r.ServiceType)
	var out []model.Vehicle
	for _, v := range vehicles {
		if v.Type != want || !v.HasEquipment(required) || v.Capacity.For(r.TransportType) < 1 {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// commit takes the vehicle lock, re-checks conflicts and stores the assignment.
func (e *Engine) commit(ctx context.Context, r model.TransportRequest, vehicleID string, auto bool, eta *time.Time) (model.Assignment, error) {
	unlock, err := e.lock(ctx, vehicleKey(vehicleID))
	if err != nil {
		return model.Assignment{}, err
	}
	defer unlock()

	conflict, err := e.Detector.Check(ctx, r, vehicleID, r.ScheduledTime, 0)
	if err != nil {
		return model.Assignment{}, err
	}
	if conflict {
		return model.Assignment{}, &ConflictError{RequestID: r.ID, VehicleID: vehicleID, Start: r.ScheduledTime}
	}
	a, err := e.Store.CommitAssignment(ctx, model.Assignment{
		RequestID:             r.ID,
		VehicleID:             vehicleID,
		EstimatedArrival:      eta,
		Occupied:              Needs(r.TransportType),
		Status:                model.AssignmentScheduled,
		AutomaticallyAssigned: auto,
	}, auto)
	if err != nil {
		return model.Assignment{}, err
	}
	e.recordOccupancy(ctx, a)
	e.emit(ctx, EventAssignmentCreated, a)
	return a, nil
}

// recordOccupancy samples the vehicle's seat usage after a commit. Failures are only logged.
func (e *Engine) recordOccupancy(ctx context.Context, a model.Assignment) {
	log := e.Log.WithFields(logrus.Fields{"assignmentId": a.ID, "vehicleId": a.VehicleID})
	v, err := e.Store.GetVehicle(ctx, a.VehicleID)
	if err != nil {
		log.WithError(err).Warn("occupancy: load vehicle")
		return
	}
	active, err := e.Store.ListAssignmentsForVehicle(ctx, a.VehicleID, true)
	if err != nil {
		log.WithError(err).Warn("occupancy: list assignments")
		return
	}
	used := 0
	for _, x := range active {
		used += x.Occupied.Total()
	}
	total := v.Capacity.Total()
	rate := 0.0
	if total > 0 {
		rate = float64(used) / float64(total)
	}
	metrics.Occupancy.Observe(rate)
	if err := e.Store.RecordOccupancy(ctx, model.OccupancyRecord{
		AssignmentID: a.ID,
		VehicleID:    a.VehicleID,
		RequestID:    a.RequestID,
		SeatsUsed:    used,
		SeatsTotal:   total,
		Rate:         rate,
	}); err != nil {
		log.WithError(err).Warn("occupancy: record")
	}
}

// AssignManually books the given vehicle for a pending request without scoring. A schedule
// clash is reported as *ConflictError.
func (e *Engine) AssignManually(ctx context.Context, requestID, vehicleID string, eta *time.Time) (*model.Assignment, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	log := e.Log.WithFields(logrus.Fields{"requestId": requestID, "vehicleId": vehicleID, "mode": "manual"})

	unlock, err := e.lock(ctx, requestKey(requestID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := e.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.RequestPending {
		metrics.Assignments.WithLabelValues("manual", "rejected").Inc()
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidTransition, r.Status)
	}
	v, err := e.Store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if v.Status == model.VehicleMaintenance {
		metrics.Assignments.WithLabelValues("manual", "rejected").Inc()
		return nil, fmt.Errorf("%w: vehicle %s is in maintenance", ErrVehicleUnavailable, v.ID)
	}
	if v.Capacity.For(r.TransportType) < 1 {
		metrics.Assignments.WithLabelValues("manual", "rejected").Inc()
		return nil, fmt.Errorf("%w: vehicle %s has no %s seat", ErrNoCapacity, v.ID, r.TransportType)
	}
	if !v.HasEquipment(e.RequiredEquipment(r)) {
		log.Warn("manual assignment to vehicle without all required equipment")
	}

	a, err := e.commit(ctx, r, vehicleID, false, eta)
	switch {
	case errors.Is(err, ErrConflict):
		metrics.Conflicts.WithLabelValues("manual").Inc()
		metrics.Assignments.WithLabelValues("manual", "conflict").Inc()
		log.Info("manual assignment rejected: schedule conflict")
		return nil, err
	case errors.Is(err, store.ErrStaleState):
		metrics.Assignments.WithLabelValues("manual", "rejected").Inc()
		return nil, fmt.Errorf("%w: vehicle %s changed state", ErrVehicleUnavailable, vehicleID)
	case err != nil:
		metrics.Assignments.WithLabelValues("manual", "error").Inc()
		return nil, err
	}
	metrics.Assignments.WithLabelValues("manual", "assigned").Inc()
	log.Info("request assigned")
	return &a, nil
}

// CheckConflict reports whether vehicleID would clash with the request if its outbound leg
// started at start (the scheduled time when zero). A zero duration uses the policy table.
func (e *Engine) CheckConflict(ctx context.Context, requestID, vehicleID string, start time.Time, duration time.Duration) (bool, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	r, err := e.Store.GetRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	if _, err := e.Store.GetVehicle(ctx, vehicleID); err != nil {
		return false, err
	}
	if start.IsZero() {
		start = r.ScheduledTime
	}
	return e.Detector.Check(ctx, r, vehicleID, start, duration)
}

func (e *Engine) StartTransport(ctx context.Context, requestID string) (model.TransportRequest, error) {
	return e.transition(ctx, store.Transition{
		RequestID:  requestID,
		From:       []model.RequestStatus{model.RequestAssigned},
		To:         model.RequestInRoute,
		Assignment: model.AssignmentInProgress,
	}, EventRequestStarted)
}

func (e *Engine) CompleteTransport(ctx context.Context, requestID string) (model.TransportRequest, error) {
	return e.transition(ctx, store.Transition{
		RequestID:      requestID,
		From:           []model.RequestStatus{model.RequestInRoute},
		To:             model.RequestCompleted,
		Assignment:     model.AssignmentCompleted,
		ReleaseVehicle: true,
	}, EventRequestCompleted)
}

// CancelRequest cancels a request that has not finished and frees its vehicle.
func (e *Engine) CancelRequest(ctx context.Context, requestID string) (model.TransportRequest, error) {
	return e.transition(ctx, store.Transition{
		RequestID:      requestID,
		From:           []model.RequestStatus{model.RequestPending, model.RequestAssigned, model.RequestInRoute},
		To:             model.RequestCancelled,
		Assignment:     model.AssignmentCancelled,
		ReleaseVehicle: true,
	}, EventRequestCancelled)
}

// ReactivateRequest returns a cancelled request to pending so it can be assigned again.
func (e *Engine) ReactivateRequest(ctx context.Context, requestID string) (model.TransportRequest, error) {
	return e.transition(ctx, store.Transition{
		RequestID: requestID,
		From:      []model.RequestStatus{model.RequestCancelled},
		To:        model.RequestPending,
	}, EventRequestReactivated)
}

func (e *Engine) transition(ctx context.Context, t store.Transition, event string) (model.TransportRequest, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	unlock, err := e.lock(ctx, requestKey(t.RequestID))
	if err != nil {
		return model.TransportRequest{}, err
	}
	defer unlock()
	r, err := e.Store.ApplyTransition(ctx, t)
	if errors.Is(err, store.ErrStaleState) {
		cur, gerr := e.Store.GetRequest(ctx, t.RequestID)
		if gerr != nil {
			return model.TransportRequest{}, fmt.Errorf("%w: to %s", ErrInvalidTransition, t.To)
		}
		return model.TransportRequest{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur.Status, t.To)
	}
	if err != nil {
		return model.TransportRequest{}, err
	}
	e.Log.WithFields(logrus.Fields{"requestId": r.ID, "status": r.Status}).Info("request transition")
	e.emit(ctx, event, r)
	return r, nil
}
