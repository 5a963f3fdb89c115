// Package handler contains the HTTP handlers for the dashboard API.
package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v to the response with the given status. Encoding
// failures degrade to a plain 500; v is always handler-built, so that path
// indicates a programming error.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
