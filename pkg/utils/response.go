package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
)

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// StatusFor maps a dispatch error to an HTTP status
func StatusFor(err error) int {
	var validation *mutation.ValidationError
	var notFound *mutation.NotFoundError
	switch {
	case errors.Is(err, mutation.ErrEntityBusy):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// RespondDispatchError sends err with the status StatusFor picks
func RespondDispatchError(w http.ResponseWriter, err error) {
	RespondError(w, StatusFor(err), err.Error())
}
