package model

import "time"

// Core domain types for transport requests, vehicles and their tracking.

type TransportType string

const (
	TransportStretcher  TransportType = "stretcher"
	TransportWheelchair TransportType = "wheelchair"
	TransportWalking    TransportType = "walking"
)

func (t TransportType) Valid() bool {
	switch t {
	case TransportStretcher, TransportWheelchair, TransportWalking:
		return true
	}
	return false
}

type ServiceType string

const (
	ServiceConsultation ServiceType = "consultation"
	ServiceAdmission    ServiceType = "admission"
	ServiceDischarge    ServiceType = "discharge"
	ServiceTransfer     ServiceType = "transfer"
	ServiceEmergency    ServiceType = "emergency"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceConsultation, ServiceAdmission, ServiceDischarge, ServiceTransfer, ServiceEmergency:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAssigned  RequestStatus = "assigned"
	RequestInRoute   RequestStatus = "inRoute"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

// HoldsVehicle reports whether a request in this status must carry an assigned vehicle.
func (s RequestStatus) HoldsVehicle() bool {
	return s == RequestAssigned || s == RequestInRoute || s == RequestCompleted
}

type VehicleType string

const (
	VehicleConsultation VehicleType = "consultation"
	VehicleEmergency    VehicleType = "emergency"
)

type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "available"
	VehicleBusy        VehicleStatus = "busy"
	VehicleMaintenance VehicleStatus = "maintenance"
)

func (s VehicleStatus) Valid() bool {
	return s == VehicleAvailable || s == VehicleBusy || s == VehicleMaintenance
}

type AssignmentStatus string

const (
	AssignmentScheduled  AssignmentStatus = "scheduled"
	AssignmentInProgress AssignmentStatus = "inProgress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// Active reports whether the assignment still occupies its vehicle.
func (s AssignmentStatus) Active() bool {
	return s == AssignmentScheduled || s == AssignmentInProgress
}

type AlertType string

const (
	AlertStopped AlertType = "stopped"
	AlertDetour  AlertType = "detour"
	AlertDelay   AlertType = "delay"
)

// Seats counts places per transport category. Used both for vehicle capacity and
// for the places an assignment occupies.
type Seats struct {
	Stretcher  int `json:"stretcher"`
	Wheelchair int `json:"wheelchair"`
	Walking    int `json:"walking"`
}

func (s Seats) Total() int { return s.Stretcher + s.Wheelchair + s.Walking }

// For returns the seats available in the category of the given transport type.
func (s Seats) For(t TransportType) int {
	switch t {
	case TransportStretcher:
		return s.Stretcher
	case TransportWheelchair:
		return s.Wheelchair
	case TransportWalking:
		return s.Walking
	}
	return 0
}

type TransportRequest struct {
	ID                    string        `json:"id"`
	PatientName           string        `json:"patientName"`
	PatientID             string        `json:"patientId"`
	Origin                string        `json:"origin"`
	Destination           string        `json:"destination"`
	ScheduledTime         time.Time     `json:"scheduledTime"`
	ReturnTime            *time.Time    `json:"returnTime,omitempty"`
	TransportType         TransportType `json:"transportType"`
	ServiceType           ServiceType   `json:"serviceType"`
	Status                RequestStatus `json:"status"`
	AssignedVehicleID     string        `json:"assignedVehicleId,omitempty"`
	RequiredEquipment     []string      `json:"requiredEquipment"`
	Observations          string        `json:"observations,omitempty"`
	SpecialAttention      string        `json:"specialAttention,omitempty"`
	ArchitecturalBarriers string        `json:"architecturalBarriers,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// RoundTrip reports whether the request carries a return leg.
func (r TransportRequest) RoundTrip() bool { return r.ReturnTime != nil }

// TransportRequestPatch carries the mutable fields of a request. Nil fields are left untouched.
type TransportRequestPatch struct {
	PatientName           *string        `json:"patientName,omitempty"`
	Origin                *string        `json:"origin,omitempty"`
	Destination           *string        `json:"destination,omitempty"`
	ScheduledTime         *time.Time     `json:"scheduledTime,omitempty"`
	ReturnTime            *time.Time     `json:"returnTime,omitempty"`
	ClearReturn           bool           `json:"clearReturn,omitempty"`
	TransportType         *TransportType `json:"transportType,omitempty"`
	ServiceType           *ServiceType   `json:"serviceType,omitempty"`
	RequiredEquipment     []string       `json:"requiredEquipment,omitempty"`
	Observations          *string        `json:"observations,omitempty"`
	SpecialAttention      *string        `json:"specialAttention,omitempty"`
	ArchitecturalBarriers *string        `json:"architecturalBarriers,omitempty"`
}

// Apply copies the set fields of p onto r.
func (p TransportRequestPatch) Apply(r *TransportRequest) {
	if p.PatientName != nil {
		r.PatientName = *p.PatientName
	}
	if p.Origin != nil {
		r.Origin = *p.Origin
	}
	if p.Destination != nil {
		r.Destination = *p.Destination
	}
	if p.ScheduledTime != nil {
		r.ScheduledTime = *p.ScheduledTime
	}
	if p.ClearReturn {
		r.ReturnTime = nil
	} else if p.ReturnTime != nil {
		rt := *p.ReturnTime
		r.ReturnTime = &rt
	}
	if p.TransportType != nil {
		r.TransportType = *p.TransportType
	}
	if p.ServiceType != nil {
		r.ServiceType = *p.ServiceType
	}
	if p.RequiredEquipment != nil {
		r.RequiredEquipment = append([]string(nil), p.RequiredEquipment...)
	}
	if p.Observations != nil {
		r.Observations = *p.Observations
	}
	if p.SpecialAttention != nil {
		r.SpecialAttention = *p.SpecialAttention
	}
	if p.ArchitecturalBarriers != nil {
		r.ArchitecturalBarriers = *p.ArchitecturalBarriers
	}
}

type Vehicle struct {
	ID        string        `json:"id"`
	Plate     string        `json:"plate"`
	Zone      string        `json:"zone"`
	Type      VehicleType   `json:"type"`
	Status    VehicleStatus `json:"status"`
	Equipment []string      `json:"equipment"`
	Capacity  Seats         `json:"capacity"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// HasEquipment reports whether the vehicle carries every tag in want.
func (v Vehicle) HasEquipment(want []string) bool {
	have := make(map[string]struct{}, len(v.Equipment))
	for _, e := range v.Equipment {
		have[e] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

type VehiclePatch struct {
	Plate     *string      `json:"plate,omitempty"`
	Zone      *string      `json:"zone,omitempty"`
	Type      *VehicleType `json:"type,omitempty"`
	Equipment []string     `json:"equipment,omitempty"`
	Capacity  *Seats       `json:"capacity,omitempty"`
}

func (p VehiclePatch) Apply(v *Vehicle) {
	if p.Plate != nil {
		v.Plate = *p.Plate
	}
	if p.Zone != nil {
		v.Zone = *p.Zone
	}
	if p.Type != nil {
		v.Type = *p.Type
	}
	if p.Equipment != nil {
		v.Equipment = append([]string(nil), p.Equipment...)
	}
	if p.Capacity != nil {
		v.Capacity = *p.Capacity
	}
}

type AssignmentIncident struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail,omitempty"`
	AlertID string    `json:"alertId,omitempty"`
}

type Assignment struct {
	ID                    string               `json:"id"`
	RequestID             string               `json:"requestId"`
	VehicleID             string               `json:"vehicleId"`
	AssignedAt            time.Time            `json:"assignedAt"`
	EstimatedArrival      *time.Time           `json:"estimatedArrival,omitempty"`
	Occupied              Seats                `json:"occupied"`
	Status                AssignmentStatus     `json:"status"`
	AutomaticallyAssigned bool                 `json:"automaticallyAssigned"`
	Incidents             []AssignmentIncident `json:"incidents"`
}

type VehicleLocation struct {
	VehicleID         string        `json:"vehicleId"`
	Latitude          float64       `json:"latitude"`
	Longitude         float64       `json:"longitude"`
	Speed             float64       `json:"speed"`
	Heading           float64       `json:"heading"`
	Timestamp         time.Time     `json:"timestamp"`
	Status            VehicleStatus `json:"status"`
	InService         bool          `json:"inService"`
	AssignedRequestID string        `json:"assignedRequestId,omitempty"`
	EstimatedArrival  *time.Time    `json:"estimatedArrival,omitempty"`
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type LocationAlert struct {
	ID           string     `json:"id"`
	VehicleID    string     `json:"vehicleId"`
	RequestID    string     `json:"requestId"`
	AssignmentID string     `json:"assignmentId,omitempty"`
	Type         AlertType  `json:"type"`
	Timestamp    time.Time  `json:"timestamp"`
	Location     GeoPoint   `json:"location"`
	Details      string     `json:"details"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// OccupancyRecord is an analytics sample taken when an assignment is committed.
type OccupancyRecord struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignmentId"`
	VehicleID    string    `json:"vehicleId"`
	RequestID    string    `json:"requestId"`
	SeatsUsed    int       `json:"seatsUsed"`
	SeatsTotal   int       `json:"seatsTotal"`
	Rate         float64   `json:"rate"`
	RecordedAt   time.Time `json:"recordedAt"`
}

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"-"`
}
