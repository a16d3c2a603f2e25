package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/dispatch"
	"ambudispatch/internal/store"
	"ambudispatch/internal/tracking"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// decodeJSON reads a JSON body of at most 1 MiB into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalidf("invalid JSON: %v", err)
	}
	return nil
}

// writeError maps domain errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validationError
	var cerr *dispatch.ConflictError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, http.StatusBadRequest, "Invalid request", verr.msg, r.URL.Path)
	case errors.Is(err, dispatch.ErrInvalidRequest):
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.As(err, &cerr):
		writeProblem(w, http.StatusConflict, "Schedule conflict", cerr.Error(), r.URL.Path)
	case errors.Is(err, dispatch.ErrInvalidTransition), errors.Is(err, store.ErrStaleState),
		errors.Is(err, tracking.ErrMismatch):
		writeProblem(w, http.StatusConflict, "Invalid state", err.Error(), r.URL.Path)
	case errors.Is(err, dispatch.ErrVehicleUnavailable), errors.Is(err, dispatch.ErrNoCapacity):
		writeProblem(w, http.StatusUnprocessableEntity, "Vehicle cannot serve request", err.Error(), r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, dispatch.ErrLockTimeout):
		writeProblem(w, http.StatusServiceUnavailable, "Busy, retry later", err.Error(), r.URL.Path)
	default:
		s.Log.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal error", "", r.URL.Path)
	}
}

// splitPath returns the path segments after prefix, e.g. "/v1/requests/abc/assign" with
// prefix "/v1/requests/" gives ["abc", "assign"].
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", fmt.Sprintf("%s not supported", r.Method), r.URL.Path)
}
