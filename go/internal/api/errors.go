package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/planningpoker/go/internal/estimation"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	errInvalidBody      = errors.New("invalid request body")
	errInvalidSessionID = errors.New("invalid session ID format")
	errInvalidID        = errors.New("invalid participant ID format")
	errSessionName      = errors.New("session name is required")
	errSizingDisabled   = errors.New("sizing type is not enabled on this server")
	errNothingToUpdate  = errors.New("no updatable field given")
)

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, estimation.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, estimation.ErrNameTaken):
		return http.StatusConflict
	case errors.Is(err, estimation.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, estimation.ErrRoundLocked):
		return http.StatusLocked
	case errors.Is(err, estimation.ErrInvalidName),
		errors.Is(err, estimation.ErrInvalidCard),
		errors.Is(err, errInvalidBody),
		errors.Is(err, errInvalidSessionID),
		errors.Is(err, errInvalidID),
		errors.Is(err, errSessionName),
		errors.Is(err, errSizingDisabled),
		errors.Is(err, errNothingToUpdate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
