// Package httputil writes JSON responses in the shape every endpoint uses.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Error codes used in error bodies.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeUnavailable = "service_unavailable"
	CodeInternal    = "internal_error"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error body. The description is dropped for 5xx
// responses so internals never reach the caller.
func WriteError(w http.ResponseWriter, status int, code, description string) {
	if status >= http.StatusInternalServerError {
		description = ""
	}
	WriteJSON(w, status, errorBody{Error: code, Description: description})
}
