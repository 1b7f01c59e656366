package api

import (
	"encoding/json"
	"net/http"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

// errorResponse is the JSON error body.
type errorResponse struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
}

// statusForKind maps engine error kinds to HTTP status codes.
func statusForKind(kind orchestrator.ErrorKind) int {
	switch kind {
	case orchestrator.ErrServiceNotFound, orchestrator.ErrOrderNotFound:
		return http.StatusNotFound
	case orchestrator.ErrAccessDenied:
		return http.StatusForbidden
	case orchestrator.ErrServiceLocked:
		return http.StatusConflict
	case orchestrator.ErrInvalidState:
		return http.StatusBadRequest
	case orchestrator.ErrPluginNotFound, orchestrator.ErrCallbackCorrelation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := orchestrator.KindOf(err)
	status := statusForKind(kind)
	if kind == "" {
		kind = "InternalServerError"
	}
	writeJSON(w, status, errorResponse{
		ErrorKind: string(kind),
		Message:   err.Error(),
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		ErrorKind: "MalformedRequest",
		Message:   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
