package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fleetaudit/fleetd/internal/model"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the error envelope returned to clients. Field and ControlID
// carry enough detail to correct the input; internal storage errors are
// never echoed back.
type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	ControlID string `json:"control_id,omitempty"`
}

// writeError maps domain errors onto HTTP statuses in one place.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var malformed *model.MalformedReportError
	var unknownControl *model.UnknownControlError
	var notFound *model.NotFoundError
	var validation *model.ValidationError

	switch {
	case errors.As(err, &malformed):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: malformed.Error(), Field: malformed.Field})
	case errors.As(err, &unknownControl):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: unknownControl.Error(), ControlID: unknownControl.ControlID})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validation.Error(), Field: validation.Field})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: notFound.Error()})
	case errors.Is(err, model.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, model.ErrCrossTeamAssignment):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "machine and group belong to different teams"})
	default:
		logger.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
