package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/model"
)

// RequestsHandler handles POST/GET /v1/requests
func (s *Server) RequestsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.TransportRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateTransportRequest(&req); err != nil {
			s.writeError(w, r, err)
			return
		}
		req.ID = ""
		out, err := s.Engine.CreateRequest(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	case http.MethodGet:
		status := model.RequestStatus(r.URL.Query().Get("status"))
		items, err := s.Store.ListRequests(r.Context(), status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		methodNotAllowed(w, r)
	}
}

// RequestByIDHandler handles /v1/requests/{id} and its action sub-resources:
// assign, assign-manual, conflicts, start, complete, cancel, reactivate.
func (s *Server) RequestByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/requests/")
	if len(parts) == 0 || len(parts) > 2 {
		writeProblem(w, http.StatusNotFound, "Not Found", "unknown request path", r.URL.Path)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.requestResource(w, r, id)
		return
	}
	action := parts[1]
	if action == "conflicts" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		s.checkConflict(w, r, id)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	ctx := r.Context()
	switch action {
	case "assign":
		a, err := s.Engine.AssignAutomatically(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignment": a})
	case "assign-manual":
		var body struct {
			VehicleID        string     `json:"vehicleId"`
			EstimatedArrival *time.Time `json:"estimatedArrival"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		if body.VehicleID == "" {
			s.writeError(w, r, invalidf("vehicleId is required"))
			return
		}
		a, err := s.Engine.AssignManually(ctx, id, body.VehicleID, body.EstimatedArrival)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignment": a})
	case "start", "complete", "cancel", "reactivate":
		var (
			out model.TransportRequest
			err error
		)
		switch action {
		case "start":
			out, err = s.Engine.StartTransport(ctx, id)
		case "complete":
			out, err = s.Engine.CompleteTransport(ctx, id)
		case "cancel":
			out, err = s.Engine.CancelRequest(ctx, id)
		default:
			out, err = s.Engine.ReactivateRequest(ctx, id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "unknown action "+action, r.URL.Path)
	}
}

func (s *Server) requestResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		req, err := s.Store.GetRequest(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := map[string]any{"request": req, "requiredEquipment": s.Engine.RequiredEquipment(req)}
		if a, err := s.Store.ActiveAssignmentForRequest(r.Context(), id); err == nil {
			resp["assignment"] = a
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPatch:
		var patch model.TransportRequestPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateRequestPatch(patch); err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := s.Engine.UpdateRequest(r.Context(), id, patch)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		if err := s.Engine.DeleteRequest(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r)
	}
}

// checkConflict handles GET /v1/requests/{id}/conflicts?vehicleId=&start=&durationMinutes=
func (s *Server) checkConflict(w http.ResponseWriter, r *http.Request, id string) {
	q := r.URL.Query()
	vehicleID := q.Get("vehicleId")
	if vehicleID == "" {
		s.writeError(w, r, invalidf("vehicleId is required"))
		return
	}
	var start time.Time
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, invalidf("start must be RFC3339: %v", err))
			return
		}
		start = t
	}
	var duration time.Duration
	if v := q.Get("durationMinutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, invalidf("durationMinutes must be a positive integer"))
			return
		}
		duration = time.Duration(n) * time.Minute
	}
	conflict, err := s.Engine.CheckConflict(r.Context(), id, vehicleID, start, duration)
	resp := map[string]any{"requestId": id, "vehicleId": vehicleID, "conflict": conflict}
	if err != nil {
		if !conflict {
			s.writeError(w, r, err)
			return
		}
		// the check fails closed; report the conservative answer with the cause
		s.Log.WithError(err).WithFields(logrus.Fields{"requestId": id, "vehicleId": vehicleID}).Warn("conflict check incomplete")
		resp["warning"] = "conflict check incomplete: " + err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// AssignmentByIDHandler handles GET /v1/assignments/{id}
func (s *Server) AssignmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/assignments/")
	if len(parts) != 1 {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	a, err := s.Store.GetAssignment(r.Context(), parts[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
