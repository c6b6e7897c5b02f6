package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kozaktomas/rh360-attendance/internal/attendance"
	"github.com/kozaktomas/rh360-attendance/internal/constants"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "error": message})
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
// The returned error is already formatted for the client.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return errors.New(FormatBindingError(err))
	}
	if err := validate.Struct(dst); err != nil {
		return errors.New(FormatBindingError(err))
	}
	return nil
}

// statusCode maps a verification outcome to its HTTP status.
func statusCode(s attendance.Status) int {
	switch s {
	case attendance.StatusSuccess, attendance.StatusSuccessDuplicate:
		return http.StatusOK
	case attendance.StatusRejectedDuplicate:
		return http.StatusConflict
	case attendance.StatusNotFound:
		return http.StatusNotFound
	case attendance.StatusAmbiguous, attendance.StatusInvalidIdentity, attendance.StatusNoIdentity,
		attendance.StatusInvalidRequest, attendance.StatusNoMatch:
		return http.StatusBadRequest
	case attendance.StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
