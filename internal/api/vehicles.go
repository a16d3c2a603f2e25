package api

import (
	"net/http"

	"ambudispatch/internal/model"
	"ambudispatch/internal/store"
)

// VehiclesHandler handles POST/GET /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var v model.Vehicle
		if err := decodeJSON(w, r, &v); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateVehicle(&v); err != nil {
			s.writeError(w, r, err)
			return
		}
		v.ID = ""
		if v.Equipment == nil {
			v.Equipment = []string{}
		}
		out, err := s.Store.CreateVehicle(r.Context(), v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	case http.MethodGet:
		q := r.URL.Query()
		f := store.VehicleFilter{Status: model.VehicleStatus(q.Get("status")), Zone: q.Get("zone")}
		if f.Status != "" && !f.Status.Valid() {
			s.writeError(w, r, invalidf("invalid status filter: %q", f.Status))
			return
		}
		items, err := s.Store.ListVehicles(r.Context(), f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		methodNotAllowed(w, r)
	}
}

// VehicleByIDHandler handles /v1/vehicles/{id}, /v1/vehicles/{id}/status and
// /v1/vehicles/{id}/assignments
func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/vehicles/")
	if len(parts) == 0 || len(parts) > 2 {
		writeProblem(w, http.StatusNotFound, "Not Found", "unknown vehicle path", r.URL.Path)
		return
	}
	id := parts[0]
	ctx := r.Context()
	if len(parts) == 2 {
		switch parts[1] {
		case "status":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r)
				return
			}
			var body struct {
				Status model.VehicleStatus `json:"status"`
			}
			if err := decodeJSON(w, r, &body); err != nil {
				s.writeError(w, r, err)
				return
			}
			if body.Status != model.VehicleAvailable && body.Status != model.VehicleMaintenance {
				s.writeError(w, r, invalidf("status must be available or maintenance"))
				return
			}
			v, err := s.Engine.SetVehicleStatus(ctx, id, body.Status)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
		case "assignments":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r)
				return
			}
			if _, err := s.Store.GetVehicle(ctx, id); err != nil {
				s.writeError(w, r, err)
				return
			}
			items, err := s.Store.ListAssignmentsForVehicle(ctx, id, r.URL.Query().Get("active") == "true")
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		default:
			writeProblem(w, http.StatusNotFound, "Not Found", "unknown action "+parts[1], r.URL.Path)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, err := s.Store.GetVehicle(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodPatch:
		var patch model.VehiclePatch
		if err := decodeJSON(w, r, &patch); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateVehiclePatch(patch); err != nil {
			s.writeError(w, r, err)
			return
		}
		v, err := s.Store.UpdateVehicle(ctx, id, patch)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodDelete:
		if err := s.Store.DeleteVehicle(ctx, id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r)
	}
}
