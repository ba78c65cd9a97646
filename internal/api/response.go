// Package api implements the Matrix push gateway HTTP surface: the
// POST /_matrix/push/v1/notify endpoint plus the health check.
package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as the response body, setting Content-Type and status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes {"error": message} with the given status, matching
// the shape homeserver push-gateway clients expect on failure.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
