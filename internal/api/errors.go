package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"roleplay-chat/internal/models"
)

// errorResponse is the JSON error body. Hint is set for generation failures
// so the UI can show an actionable message next to the raw error.
type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	hint := ""

	var validationErr *models.ValidationError
	var notFoundErr *models.NotFoundError
	var genErr *models.GenerationError
	var formatErr *models.HistoryFormatError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrResponseInProgress):
		status = http.StatusConflict
	case errors.Is(err, models.ErrNoActiveChat),
		errors.Is(err, models.ErrEmptyContinueNotAllowed):
		status = http.StatusBadRequest
	case errors.As(err, &genErr):
		status = http.StatusBadGateway
		hint = genErr.Hint()
	case errors.As(err, &formatErr):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Hint: hint})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
