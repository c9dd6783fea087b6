package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ownerFromRequest reads the caller identity from the X-Owner header.
// Owner is an opaque label attached to batches and notifications.
func ownerFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Owner"))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
