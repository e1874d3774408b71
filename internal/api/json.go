package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/kodebase/internal/apperr"
	"github.com/starford/kodebase/internal/artifactservice"
	"github.com/starford/kodebase/internal/graph"
	"github.com/starford/kodebase/internal/lifecycle"
	"github.com/starford/kodebase/internal/statemachine"
	"github.com/starford/kodebase/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps domain errors to HTTP statuses. Unexpected errors are
// logged with op and reported as 500.
func writeError(w http.ResponseWriter, op string, err error) {
	var cycle *graph.CycleError
	switch {
	case errors.Is(err, artifactservice.ErrInvalidArtifact):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, statemachine.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, lifecycle.ErrLocked):
		writeJSON(w, http.StatusLocked, errorBody(err.Error()))
	case errors.As(err, &cycle),
		errors.Is(err, lifecycle.ErrSelfLink),
		errors.Is(err, lifecycle.ErrCrossLevel),
		errors.Is(err, validation.ErrNotFixable),
		errors.Is(err, artifactservice.ErrUnknownAction):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, artifactservice.ErrSearchUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
