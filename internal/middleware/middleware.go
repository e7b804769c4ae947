// Package middleware carries the HTTP plumbing shared by every route:
// request-scoped logging, panic recovery, per-request timeouts and a
// request body size cap.
package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSONError emits the API error envelope. Middleware failures use
// the same shape as handler errors so clients parse one format.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}
