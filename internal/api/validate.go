package api

import (
	"fmt"
	"net/url"
	"strings"

	"ambudispatch/internal/model"
)

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

func validateTransportRequest(r *model.TransportRequest) error {
	r.PatientName = strings.TrimSpace(r.PatientName)
	r.Origin = strings.TrimSpace(r.Origin)
	r.Destination = strings.TrimSpace(r.Destination)
	if r.PatientName == "" {
		return invalidf("patientName is required")
	}
	if r.Origin == "" || r.Destination == "" {
		return invalidf("origin and destination are required")
	}
	if r.ScheduledTime.IsZero() {
		return invalidf("scheduledTime is required")
	}
	if !r.TransportType.Valid() {
		return invalidf("invalid transportType: %q", r.TransportType)
	}
	if !r.ServiceType.Valid() {
		return invalidf("invalid serviceType: %q", r.ServiceType)
	}
	if r.ReturnTime != nil && !r.ReturnTime.After(r.ScheduledTime) {
		return invalidf("returnTime must be after scheduledTime")
	}
	return nil
}

func validateRequestPatch(p model.TransportRequestPatch) error {
	if p.TransportType != nil && !p.TransportType.Valid() {
		return invalidf("invalid transportType: %q", *p.TransportType)
	}
	if p.ServiceType != nil && !p.ServiceType.Valid() {
		return invalidf("invalid serviceType: %q", *p.ServiceType)
	}
	if p.ScheduledTime != nil && p.ScheduledTime.IsZero() {
		return invalidf("scheduledTime cannot be cleared")
	}
	return nil
}

func validateSeats(s model.Seats) error {
	if s.Stretcher < 0 || s.Wheelchair < 0 || s.Walking < 0 {
		return invalidf("capacity cannot be negative")
	}
	if s.Total() == 0 {
		return invalidf("capacity must have at least one seat")
	}
	return nil
}

func validVehicleType(t model.VehicleType) bool {
	return t == model.VehicleConsultation || t == model.VehicleEmergency
}

func validateVehicle(v *model.Vehicle) error {
	v.Plate = strings.TrimSpace(v.Plate)
	if v.Plate == "" {
		return invalidf("plate is required")
	}
	if !validVehicleType(v.Type) {
		return invalidf("invalid vehicle type: %q", v.Type)
	}
	if v.Status != "" && v.Status != model.VehicleAvailable && v.Status != model.VehicleMaintenance {
		return invalidf("new vehicles must be available or in maintenance")
	}
	return validateSeats(v.Capacity)
}

func validateVehiclePatch(p model.VehiclePatch) error {
	if p.Type != nil && !validVehicleType(*p.Type) {
		return invalidf("invalid vehicle type: %q", *p.Type)
	}
	if p.Capacity != nil {
		return validateSeats(*p.Capacity)
	}
	return nil
}

func validateSubscription(req model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return invalidf("events must not be empty")
	}
	return nil
}
