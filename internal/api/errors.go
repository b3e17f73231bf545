package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCodes names the statuses the API responds with. Others fall back
// to "error".
var errorCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorised",
	http.StatusNotFound:            "not_found",
	http.StatusUnprocessableEntity: "validation_error",
	http.StatusInternalServerError: "internal_error",
	http.StatusServiceUnavailable:  "unavailable",
}

func errorCode(status int) string {
	if code, ok := errorCodes[status]; ok {
		return code
	}
	return "error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Error{Status: status, Code: errorCode(status), Message: message})
}
