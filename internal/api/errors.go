package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roman-kulish/drone-tracker/internal/storage"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

// requestError is a client error that is reported verbatim with a 400
type requestError struct {
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(message string) error {
	return &requestError{message: message}
}

type errorBody struct {
	Message string `json:"message"`
}

func statusOf(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re), errors.Is(err, telemetry.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		rt.logger.Error(message, slog.String("method", r.Method), slog.String("path", r.URL.Path))
		message = http.StatusText(status)
	}

	rt.writeJSON(w, status, errorBody{Message: message})
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Debug(err.Error())
	}
}
