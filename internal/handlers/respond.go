package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
)

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func writeValidationError(w http.ResponseWriter, details map[string]string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    "validation",
		Message: "request validation failed",
		Details: details,
	}})
}

// decodeJSON reads the request body into dst and writes the API error
// itself when the body is unusable. Returns false when the caller
// should stop.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge,
			"body-too-large", "request body exceeds the allowed size")
		return false
	}
	writeError(w, http.StatusBadRequest,
		"invalid-body", "request body must be valid JSON")
	return false
}
